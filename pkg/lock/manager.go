// ABOUTME: Per-document lock leases with lazy expiry
// ABOUTME: Check-then-set runs under a per-document mutex so only one caller wins

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/docvault/internal/keymutex"
	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/security"
)

// DefaultDuration is the lease length when none is given
const DefaultDuration = 30 * time.Minute

// Repository stores at most one lock per document
type Repository interface {
	// Lock returns the stored lock, or nil if there is none
	Lock(ctx context.Context, documentID string) (*document.Lock, error)
	SaveLock(ctx context.Context, l *document.Lock) error
	DeleteLock(ctx context.Context, documentID string) error
}

// HeldError reports a lock owned by another principal
type HeldError struct {
	DocumentID string
	Holder     string
	LockType   document.LockType
	ExpiresAt  time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("document is locked by %s until %s", e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, docerr.ErrConflict) hold
func (e *HeldError) Is(target error) bool {
	return target == docerr.ErrConflict
}

// Option adjusts a lock request
type Option func(*request)

type request struct {
	lockType document.LockType
	duration time.Duration
	reason   string
}

// WithType sets the lock type (default edit)
func WithType(t document.LockType) Option {
	return func(r *request) { r.lockType = t }
}

// WithDuration sets the lease length (default 30 minutes unless configured)
func WithDuration(d time.Duration) Option {
	return func(r *request) { r.duration = d }
}

// WithReason records why the lock was taken
func WithReason(reason string) Option {
	return func(r *request) { r.reason = reason }
}

// Options configures a Manager
type Options struct {
	Repo  Repository
	Audit *audit.Logger
	Guard *security.Guard

	// DefaultDuration replaces the package DefaultDuration when positive
	DefaultDuration time.Duration

	Now     func() time.Time
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Manager grants at most one unexpired lock per document. Expiry is never
// swept in the background; a lapsed lock is purged when next read.
type Manager struct {
	repo    Repository
	audit   *audit.Logger
	guard   *security.Guard
	lease   time.Duration
	now     func() time.Time
	log     *logger.Logger
	metrics *metrics.Metrics

	docs keymutex.KeyMutex
}

// New creates a lock manager
func New(opts Options) (*Manager, error) {
	if opts.Repo == nil {
		return nil, errors.New("lock: repository is required")
	}
	m := &Manager{
		repo:    opts.Repo,
		audit:   opts.Audit,
		guard:   opts.Guard,
		lease:   opts.DefaultDuration,
		now:     opts.Now,
		log:     opts.Log,
		metrics: opts.Metrics,
	}
	if m.lease <= 0 {
		m.lease = DefaultDuration
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	m.log = m.log.Component("lock")
	return m, nil
}

func (m *Manager) observe(op, documentID string, start time.Time, err *error) {
	d := time.Since(start)
	m.metrics.RecordOperation("lock", op, d, *err)
	m.log.LogOperation(op, documentID, d, *err)
}

// LockDocument grants userID a lock on documentID. If another principal
// holds an unexpired lock it fails with a *HeldError. The current holder
// may call again to refresh the lease.
func (m *Manager) LockDocument(ctx context.Context, documentID, userID string, opts ...Option) (l *document.Lock, err error) {
	defer m.observe("lock_document", documentID, time.Now(), &err)

	req := request{lockType: document.LockEdit, duration: m.lease}
	for _, opt := range opts {
		opt(&req)
	}
	if documentID == "" || userID == "" {
		return nil, docerr.Validation("document id and user id are required")
	}
	switch req.lockType {
	case document.LockEdit, document.LockReview, document.LockAdmin:
	default:
		return nil, docerr.Validation("unknown lock type %q", req.lockType)
	}
	if req.duration <= 0 {
		return nil, docerr.Validation("lock duration must be positive, got %s", req.duration)
	}
	if err := m.guard.Check(ctx, documentID, userID, security.OpLock); err != nil {
		return nil, err
	}

	m.docs.Lock(documentID)
	defer m.docs.Unlock(documentID)

	cur, err := m.current(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if cur != nil && cur.LockedBy != userID {
		m.metrics.RecordLockAcquisition("conflict")
		held := &HeldError{
			DocumentID: documentID,
			Holder:     cur.LockedBy,
			LockType:   cur.LockType,
			ExpiresAt:  cur.ExpiresAt,
		}
		if aerr := m.record(ctx, userID, documentID, audit.ActionLockConflict, audit.ResultFailure, audit.RiskMedium, map[string]any{
			"holder":    cur.LockedBy,
			"expiresAt": cur.ExpiresAt,
		}); aerr != nil {
			return nil, errors.Join(held, aerr)
		}
		return nil, held
	}

	now := m.now()
	next := &document.Lock{
		DocumentID: documentID,
		LockedBy:   userID,
		LockedAt:   now,
		ExpiresAt:  now.Add(req.duration),
		LockType:   req.lockType,
		Reason:     req.reason,
	}
	if err := m.repo.SaveLock(ctx, next); err != nil {
		return nil, docerr.Persistence("persist lock", err)
	}

	refreshed := cur != nil
	if refreshed {
		m.metrics.RecordLockAcquisition("refreshed")
	} else {
		m.metrics.RecordLockAcquisition("acquired")
	}

	out := *next
	if err := m.record(ctx, userID, documentID, audit.ActionDocumentLocked, audit.ResultSuccess, audit.RiskLow, map[string]any{
		"lockType":  string(req.lockType),
		"expiresAt": next.ExpiresAt,
		"refreshed": refreshed,
		"reason":    req.reason,
	}); err != nil {
		return &out, err
	}
	return &out, nil
}

// UnlockDocument removes the lock if userID holds it. Any other caller,
// or a document without a lock, is a no-op.
func (m *Manager) UnlockDocument(ctx context.Context, documentID, userID string) (err error) {
	defer m.observe("unlock_document", documentID, time.Now(), &err)

	m.docs.Lock(documentID)
	defer m.docs.Unlock(documentID)

	cur, err := m.current(ctx, documentID)
	if err != nil {
		return err
	}
	if cur == nil || cur.LockedBy != userID {
		return nil
	}

	if err := m.repo.DeleteLock(ctx, documentID); err != nil {
		return docerr.Persistence("remove lock", err)
	}
	return m.record(ctx, userID, documentID, audit.ActionDocumentUnlocked, audit.ResultSuccess, audit.RiskLow, map[string]any{
		"lockType": string(cur.LockType),
	})
}

// IsDocumentLocked returns the active lock, or nil. A lock past its expiry
// is purged and reported as absent.
func (m *Manager) IsDocumentLocked(ctx context.Context, documentID string) (*document.Lock, error) {
	m.docs.Lock(documentID)
	defer m.docs.Unlock(documentID)
	return m.current(ctx, documentID)
}

// HeldBy is IsDocumentLocked under the name the version store expects
func (m *Manager) HeldBy(ctx context.Context, documentID string) (*document.Lock, error) {
	return m.IsDocumentLocked(ctx, documentID)
}

// current loads the lock, purging it if expired (caller must hold the document mutex)
func (m *Manager) current(ctx context.Context, documentID string) (*document.Lock, error) {
	cur, err := m.repo.Lock(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load lock", err)
	}
	if cur == nil {
		return nil, nil
	}
	if !cur.Expired(m.now()) {
		return cur, nil
	}

	if err := m.repo.DeleteLock(ctx, documentID); err != nil {
		return nil, docerr.Persistence("purge expired lock", err)
	}
	m.metrics.RecordLockExpired()
	m.log.Debug().
		Str("document_id", documentID).
		Str("holder", cur.LockedBy).
		Time("expired_at", cur.ExpiresAt).
		Msg("Purged expired lock")
	if err := m.record(ctx, cur.LockedBy, documentID, audit.ActionLockExpired, audit.ResultSuccess, audit.RiskLow, map[string]any{
		"expiresAt": cur.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Manager) record(ctx context.Context, userID, documentID, action string, result audit.Result, risk audit.RiskLevel, details map[string]any) error {
	if m.audit == nil {
		return nil
	}
	_, err := m.audit.LogDocumentEvent(ctx, userID, documentID, action, result, risk, details)
	return err
}
