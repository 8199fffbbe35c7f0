package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newManager(t *testing.T) (*Manager, *clock, *storage.Memory, *audit.Logger) {
	t.Helper()
	c := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	repo := storage.NewMemory()
	auditLog := audit.New(audit.Options{Now: c.Now})
	m, err := New(Options{Repo: repo, Audit: auditLog, Now: c.Now})
	require.NoError(t, err)
	return m, c, repo, auditLog
}

func TestLockDefaults(t *testing.T) {
	m, c, _, _ := newManager(t)

	l, err := m.LockDocument(context.Background(), "D", "alice")
	require.NoError(t, err)
	assert.Equal(t, document.LockEdit, l.LockType)
	assert.Equal(t, c.Now(), l.LockedAt)
	assert.Equal(t, c.Now().Add(30*time.Minute), l.ExpiresAt)
}

func TestLockConflictForOtherUser(t *testing.T) {
	m, _, _, auditLog := newManager(t)
	ctx := context.Background()

	_, err := m.LockDocument(ctx, "D", "alice", WithReason("editing"))
	require.NoError(t, err)

	_, err = m.LockDocument(ctx, "D", "bob")
	require.ErrorIs(t, err, docerr.ErrConflict)

	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "alice", held.Holder)
	assert.Contains(t, err.Error(), "document is locked by alice until")

	conflicts, err := auditLog.Query(ctx, audit.Filter{Action: audit.ActionLockConflict})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestLockRefreshBySameUser(t *testing.T) {
	m, c, _, _ := newManager(t)
	ctx := context.Background()

	first, err := m.LockDocument(ctx, "D", "alice")
	require.NoError(t, err)
	c.Advance(10 * time.Minute)

	second, err := m.LockDocument(ctx, "D", "alice", WithDuration(time.Hour), WithType(document.LockAdmin))
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, document.LockAdmin, second.LockType)

	cur, err := m.IsDocumentLocked(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, second.ExpiresAt, cur.ExpiresAt)
}

func TestLazyExpiry(t *testing.T) {
	m, c, repo, auditLog := newManager(t)
	ctx := context.Background()

	_, err := m.LockDocument(ctx, "D", "alice", WithDuration(time.Minute))
	require.NoError(t, err)

	c.Advance(time.Minute)

	// Still stored until read
	stored, err := repo.Lock(ctx, "D")
	require.NoError(t, err)
	require.NotNil(t, stored)

	cur, err := m.IsDocumentLocked(ctx, "D")
	require.NoError(t, err)
	assert.Nil(t, cur)

	stored, err = repo.Lock(ctx, "D")
	require.NoError(t, err)
	assert.Nil(t, stored, "expired lock should be purged on read")

	expired, err := auditLog.Query(ctx, audit.Filter{Action: audit.ActionLockExpired})
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	// Another user may now take it
	_, err = m.LockDocument(ctx, "D", "bob")
	require.NoError(t, err)
}

func TestExpiredLockReplacedOnAcquire(t *testing.T) {
	m, c, _, _ := newManager(t)
	ctx := context.Background()

	_, err := m.LockDocument(ctx, "D", "alice", WithDuration(time.Second))
	require.NoError(t, err)
	c.Advance(time.Hour)

	l, err := m.LockDocument(ctx, "D", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", l.LockedBy)
}

func TestUnlockOnlyByHolder(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	_, err := m.LockDocument(ctx, "D", "alice")
	require.NoError(t, err)

	require.NoError(t, m.UnlockDocument(ctx, "D", "bob"))
	cur, err := m.IsDocumentLocked(ctx, "D")
	require.NoError(t, err)
	require.NotNil(t, cur, "non-holder unlock must be a no-op")

	require.NoError(t, m.UnlockDocument(ctx, "D", "alice"))
	cur, err = m.IsDocumentLocked(ctx, "D")
	require.NoError(t, err)
	assert.Nil(t, cur)

	require.NoError(t, m.UnlockDocument(ctx, "D", "alice"), "unlocking an unlocked document is a no-op")
}

func TestLockValidation(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	_, err := m.LockDocument(ctx, "", "alice")
	require.ErrorIs(t, err, docerr.ErrValidation)
	_, err = m.LockDocument(ctx, "D", "alice", WithType("exclusive"))
	require.ErrorIs(t, err, docerr.ErrValidation)
	_, err = m.LockDocument(ctx, "D", "alice", WithDuration(-time.Second))
	require.ErrorIs(t, err, docerr.ErrValidation)
}

func TestLockPersistenceFailure(t *testing.T) {
	m, _, repo, _ := newManager(t)
	repo.FailOn(storage.OpSaveLock, errors.New("disk full"))

	_, err := m.LockDocument(context.Background(), "D", "alice")
	require.ErrorIs(t, err, docerr.ErrPersistence)
}

func TestConcurrentAcquireHasSingleWinner(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	var wins atomic.Int32
	var conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.LockDocument(ctx, "D", string(rune('a'+i)))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, docerr.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), conflicts.Load())
}
