package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/docvault/internal/config"
	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/security"
	"github.com/nainya/docvault/pkg/version"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Storage.Backend = backend
	cfg.Storage.SyncWrites = false
	return cfg
}

func open(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{Log: logger.Nop()})
	require.NoError(t, err)
	return a
}

func TestPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t, config.BackendBadger)
	ctx := context.Background()

	a := open(t, cfg)
	v, err := a.Versions.CreateVersion(ctx, "D", []byte("terms"), version.CreateInput{
		Title: "Terms", ContentType: "text/plain", CreatedBy: "alice",
	})
	require.NoError(t, err)
	_, err = a.Locks.LockDocument(ctx, "D", "alice")
	require.NoError(t, err)
	logged := a.Audit.Len()
	require.NoError(t, a.Close())

	b := open(t, cfg)
	defer b.Close()

	latest, err := b.Versions.GetLatestVersion(ctx, "D")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, v.ID, latest.ID)

	held, err := b.Locks.IsDocumentLocked(ctx, "D")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "alice", held.LockedBy)

	assert.Equal(t, logged, b.Audit.Len(), "journal replays every entry")
	require.NoError(t, b.Ready(ctx))

	// The chain continues from the replayed tail
	_, err = b.Versions.ApproveVersion(ctx, "D", v.ID, "bob", "")
	require.NoError(t, err)
	require.NoError(t, b.Audit.Verify())
}

func TestEnforcedSecurityProfiles(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Audit.Journal = false
	cfg.Security.Enforce = true
	ctx := context.Background()

	a := open(t, cfg)
	defer a.Close()

	in := version.CreateInput{Title: "Board minutes", ContentType: "text/plain", CreatedBy: "alice"}
	_, err := a.Versions.CreateVersion(ctx, "BOARD", []byte("x"), in)
	require.ErrorIs(t, err, docerr.ErrUnauthorized)

	require.NoError(t, a.SaveProfiles(ctx, []security.Profile{{
		DocumentID:     "BOARD",
		Classification: security.Confidential,
	}}))
	_, err = a.Versions.CreateVersion(ctx, "BOARD", []byte("x"), in)
	require.NoError(t, err)

	denied, err := a.Audit.Query(ctx, audit.Filter{Action: audit.ActionPermissionDenied})
	require.NoError(t, err)
	assert.Len(t, denied, 1)
}

func TestRequireEditLockFromConfig(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Audit.Journal = false
	cfg.Locks.RequireEditLock = true
	cfg.Locks.DefaultDuration = time.Minute
	ctx := context.Background()

	a := open(t, cfg)
	defer a.Close()

	in := version.CreateInput{Title: "Deck", ContentType: "text/plain", CreatedBy: "alice"}
	_, err := a.Versions.CreateVersion(ctx, "D", []byte("x"), in)
	require.ErrorIs(t, err, docerr.ErrConflict)

	l, err := a.Locks.LockDocument(ctx, "D", "alice")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, l.ExpiresAt.Sub(l.LockedAt))

	_, err = a.Versions.CreateVersion(ctx, "D", []byte("x"), in)
	require.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	a := open(t, testConfig(t, config.BackendBadger))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
