package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
)

// Operation is a protected action a caller requests on a document
type Operation string

const (
	OpView          Operation = "view"
	OpCreateVersion Operation = "create_version"
	OpApprove       Operation = "approve"
	OpRestore       Operation = "restore"
	OpLock          Operation = "lock"
	OpDownload      Operation = "download"
	OpPrint         Operation = "print"
	OpCopy          Operation = "copy"
	OpShare         Operation = "share"
	OpDelete        Operation = "delete"
)

var operations = []Operation{
	OpView, OpCreateVersion, OpApprove, OpRestore, OpLock,
	OpDownload, OpPrint, OpCopy, OpShare, OpDelete,
}

// Valid reports whether op is one of the known operations
func (op Operation) Valid() bool {
	return slices.Contains(operations, op)
}

// ParseOperation converts a name such as "download" into an Operation
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", docerr.Validation("unknown operation %q", s)
	}
	return op, nil
}

// Permits decides whether op is allowed under the profile at time at.
//
//	any op                 denied once the access policy has expired
//	download/print/copy/share  need the matching Allow flag
//	download               of restricted content needs in-transit encryption
//	create_version/restore of restricted content needs at-rest encryption
//	approve                denied while a critical finding is open
//	delete                 denied under legal hold
func (p *Profile) Permits(op Operation, at time.Time) error {
	if !op.Valid() {
		return docerr.Validation("unknown operation %q", op)
	}
	if p.Access.Expired(at) {
		return docerr.Unauthorized("access policy for %s expired at %s", p.DocumentID, p.Access.ExpiresAt.Format(time.RFC3339))
	}

	switch op {
	case OpDownload:
		if !p.Access.AllowDownload {
			return docerr.Unauthorized("download of %s is not permitted", p.DocumentID)
		}
		if p.Classification == Restricted && !p.Encryption.InTransit {
			return docerr.Unauthorized("restricted document %s requires in-transit encryption for download", p.DocumentID)
		}
	case OpPrint:
		if !p.Access.AllowPrint {
			return docerr.Unauthorized("printing %s is not permitted", p.DocumentID)
		}
	case OpCopy:
		if !p.Access.AllowCopy {
			return docerr.Unauthorized("copying %s is not permitted", p.DocumentID)
		}
	case OpShare:
		if !p.Access.AllowShare {
			return docerr.Unauthorized("sharing %s is not permitted", p.DocumentID)
		}
	case OpCreateVersion, OpRestore:
		if p.Classification == Restricted && !p.Encryption.AtRest {
			return docerr.Unauthorized("restricted document %s requires at-rest encryption", p.DocumentID)
		}
	case OpApprove:
		if open := p.Compliance.OpenFindings(SeverityCritical); len(open) > 0 {
			return docerr.Unauthorized("document %s has %d open critical finding(s), first %s", p.DocumentID, len(open), open[0].ID)
		}
	case OpDelete:
		if p.Retention.LegalHold {
			return docerr.Unauthorized("document %s is under legal hold", p.DocumentID)
		}
	}
	return nil
}

// Provider looks up the profile of a document. A missing profile is
// reported with docerr.ErrNotFound.
type Provider interface {
	Profile(ctx context.Context, documentID string) (*Profile, error)
}

// Guard enforces profiles for protected operations. A nil Guard, or one
// without a Provider, permits everything.
type Guard struct {
	Provider Provider
	Audit    *audit.Logger
	Now      func() time.Time
}

// Check returns nil when userID may perform op on documentID. A document
// without a profile is denied rather than given a default posture.
func (g *Guard) Check(ctx context.Context, documentID, userID string, op Operation) error {
	if !op.Valid() {
		return docerr.Validation("unknown operation %q", op)
	}
	if g == nil || g.Provider == nil {
		return nil
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	profile, err := g.Provider.Profile(ctx, documentID)
	var deny error
	switch {
	case errors.Is(err, docerr.ErrNotFound):
		deny = docerr.Unauthorized("no security profile for document %s", documentID)
	case err != nil:
		return fmt.Errorf("load security profile: %w", err)
	default:
		deny = profile.Permits(op, now())
	}
	if deny == nil {
		return nil
	}

	if g.Audit != nil {
		_, aerr := g.Audit.LogDocumentEvent(ctx, userID, documentID, audit.ActionPermissionDenied,
			audit.ResultUnauthorized, audit.RiskMedium, map[string]any{
				"operation": string(op),
				"reason":    deny.Error(),
			})
		if aerr != nil {
			return errors.Join(deny, aerr)
		}
	}
	return deny
}

// MapProvider is an in-memory Provider
type MapProvider struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMapProvider creates a provider holding the given profiles
func NewMapProvider(profiles ...Profile) *MapProvider {
	m := &MapProvider{profiles: make(map[string]*Profile)}
	for i := range profiles {
		p := profiles[i]
		m.profiles[p.DocumentID] = &p
	}
	return m
}

func (m *MapProvider) Profile(_ context.Context, documentID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[documentID]
	if !ok {
		return nil, docerr.NotFound("security profile for %s", documentID)
	}
	cp := *p
	return &cp, nil
}

// Set stores or replaces a profile
func (m *MapProvider) Set(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.DocumentID] = &p
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles decodes a YAML document with a top-level "profiles" list and
// validates each entry
func LoadProfiles(r io.Reader) ([]Profile, error) {
	var f profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, docerr.Validation("decode security profiles: %v", err)
	}
	for i := range f.Profiles {
		if err := f.Profiles[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Profiles, nil
}
