// Package storage holds the persistence adapters behind the version, lock,
// merge and security repositories: an in-process map store and a badger store.
package storage

import (
	"context"
	"sync"

	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/security"
)

// Operation names accepted by Memory.FailOn
const (
	OpPersistVersions = "PersistVersions"
	OpPersistChange   = "PersistChange"
	OpSaveLock        = "SaveLock"
	OpDeleteLock      = "DeleteLock"
	OpSaveConflicts   = "SaveConflicts"
	OpSaveProfile     = "SaveProfile"
	OpRead            = "Read"
)

// Memory is a goroutine-safe in-process store. Values are copied on the way
// in and out so callers never share state with it.
type Memory struct {
	mu        sync.RWMutex
	versions  map[string]map[string]*document.Version
	changes   map[string][]*document.Change
	locks     map[string]*document.Lock
	conflicts map[string]map[string]*document.MergeConflict
	profiles  map[string]*security.Profile
	fail      map[string]error
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		versions:  make(map[string]map[string]*document.Version),
		changes:   make(map[string][]*document.Change),
		locks:     make(map[string]*document.Lock),
		conflicts: make(map[string]map[string]*document.MergeConflict),
		profiles:  make(map[string]*security.Profile),
		fail:      make(map[string]error),
	}
}

// FailOn makes the named operation return err until cleared with a nil err
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// injected returns the error registered for op (caller must hold mu)
func (m *Memory) injected(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.fail[op]
}

func (m *Memory) PersistVersions(ctx context.Context, versions ...*document.Version) error {
	return m.PersistVersionChanges(ctx, versions, nil)
}

// PersistVersionChanges applies versions and changes together. An error
// injected for either half fails the whole write before anything lands.
func (m *Memory) PersistVersionChanges(ctx context.Context, versions []*document.Version, changes []*document.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(versions) > 0 {
		if err := m.injected(ctx, OpPersistVersions); err != nil {
			return err
		}
	}
	if len(changes) > 0 {
		if err := m.injected(ctx, OpPersistChange); err != nil {
			return err
		}
	}
	for _, v := range versions {
		chain, ok := m.versions[v.DocumentID]
		if !ok {
			chain = make(map[string]*document.Version)
			m.versions[v.DocumentID] = chain
		}
		chain[v.ID] = v.Clone()
	}
	for _, c := range changes {
		cp := *c
		m.changes[c.DocumentID] = append(m.changes[c.DocumentID], &cp)
	}
	return nil
}

func (m *Memory) Versions(ctx context.Context, documentID string) ([]*document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected(ctx, OpRead); err != nil {
		return nil, err
	}
	chain := m.versions[documentID]
	out := make([]*document.Version, 0, len(chain))
	for _, v := range chain {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (m *Memory) PersistChange(ctx context.Context, c *document.Change) error {
	return m.PersistVersionChanges(ctx, nil, []*document.Change{c})
}

func (m *Memory) Changes(ctx context.Context, documentID string) ([]*document.Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected(ctx, OpRead); err != nil {
		return nil, err
	}
	out := make([]*document.Change, 0, len(m.changes[documentID]))
	for _, c := range m.changes[documentID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Lock(ctx context.Context, documentID string) (*document.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected(ctx, OpRead); err != nil {
		return nil, err
	}
	l, ok := m.locks[documentID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) SaveLock(ctx context.Context, l *document.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(ctx, OpSaveLock); err != nil {
		return err
	}
	cp := *l
	m.locks[l.DocumentID] = &cp
	return nil
}

func (m *Memory) DeleteLock(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(ctx, OpDeleteLock); err != nil {
		return err
	}
	delete(m.locks, documentID)
	return nil
}

func (m *Memory) SaveConflicts(ctx context.Context, conflicts ...*document.MergeConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(ctx, OpSaveConflicts); err != nil {
		return err
	}
	for _, c := range conflicts {
		byID, ok := m.conflicts[c.DocumentID]
		if !ok {
			byID = make(map[string]*document.MergeConflict)
			m.conflicts[c.DocumentID] = byID
		}
		cp := *c
		byID[c.ID] = &cp
	}
	return nil
}

func (m *Memory) Conflicts(ctx context.Context, documentID string) ([]*document.MergeConflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected(ctx, OpRead); err != nil {
		return nil, err
	}
	out := make([]*document.MergeConflict, 0, len(m.conflicts[documentID]))
	for _, c := range m.conflicts[documentID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Conflict(ctx context.Context, documentID, conflictID string) (*document.MergeConflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected(ctx, OpRead); err != nil {
		return nil, err
	}
	c, ok := m.conflicts[documentID][conflictID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) SaveProfile(ctx context.Context, p *security.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(ctx, OpSaveProfile); err != nil {
		return err
	}
	cp := *p
	m.profiles[p.DocumentID] = &cp
	return nil
}

// Profile implements security.Provider
func (m *Memory) Profile(ctx context.Context, documentID string) (*security.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected(ctx, OpRead); err != nil {
		return nil, err
	}
	p, ok := m.profiles[documentID]
	if !ok {
		return nil, docerr.NotFound("security profile for %s", documentID)
	}
	cp := *p
	return &cp, nil
}
