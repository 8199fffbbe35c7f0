package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/document"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docvault.yaml")
	cfg := "dataDir: " + filepath.Join(dir, "data") + "\n" +
		"log:\n  level: error\n  format: json\n" +
		"storage:\n  backend: badger\n  syncWrites: false\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "version", "create", "NDA", "--title", "Mutual NDA", "--content", "v1 terms", "--user", "alice")
	require.NoError(t, err)
	var v1 document.Version
	require.NoError(t, json.Unmarshal([]byte(out), &v1))
	assert.Equal(t, "1.0", v1.VersionNumber)

	out, err = run(t, cfg, "version", "approve", "NDA", v1.ID, "--user", "bob", "-m", "looks good")
	require.NoError(t, err)
	var approved document.Version
	require.NoError(t, json.Unmarshal([]byte(out), &approved))
	assert.Equal(t, document.StatusApproved, approved.Status)

	_, err = run(t, cfg, "version", "create", "NDA", "--title", "Mutual NDA", "--content", "v2 terms", "--parent", v1.ID, "--user", "alice")
	require.NoError(t, err)

	out, err = run(t, cfg, "version", "restore", "NDA", v1.ID, "--user", "carol")
	require.NoError(t, err)
	var restored document.Version
	require.NoError(t, json.Unmarshal([]byte(out), &restored))
	assert.Equal(t, "1.2", restored.VersionNumber)

	out, err = run(t, cfg, "version", "history", "NDA")
	require.NoError(t, err)
	var history []document.Version
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	assert.Len(t, history, 3)

	out, err = run(t, cfg, "version", "download", "NDA", v1.ID, "--user", "dave")
	require.NoError(t, err)
	assert.Equal(t, "v1 terms", out)

	out, err = run(t, cfg, "audit", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, `"intact": true`)

	out, err = run(t, cfg, "audit", "query", "--action", audit.ActionDocumentDownload)
	require.NoError(t, err)
	var downloads []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &downloads))
	require.Len(t, downloads, 1)
	assert.Equal(t, "dave", downloads[0].UserID)
	assert.Contains(t, downloads[0].UserAgent, "docvault-cli/")
}

func TestLockConflictExitCode(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "lock", "acquire", "NDA", "--user", "alice", "--reason", "redlining")
	require.NoError(t, err)

	_, err = run(t, cfg, "lock", "acquire", "NDA", "--user", "bob")
	require.Error(t, err)
	assert.Equal(t, exitConflict, exitCode(err))
	assert.Contains(t, err.Error(), "document is locked by alice")

	out, err := run(t, cfg, "lock", "status", "NDA")
	require.NoError(t, err)
	assert.Contains(t, out, `"locked": true`)

	_, err = run(t, cfg, "lock", "release", "NDA", "--user", "alice")
	require.NoError(t, err)
	out, err = run(t, cfg, "lock", "status", "NDA")
	require.NoError(t, err)
	assert.Contains(t, out, `"locked": false`)
}

func TestErrorsMapToExitCodes(t *testing.T) {
	t.Setenv("DOCVAULT_USER", "")
	cfg := writeConfig(t)

	_, err := run(t, cfg, "version", "get", "NDA", "missing")
	assert.Equal(t, exitNotFound, exitCode(err))

	_, err = run(t, cfg, "version", "create", "NDA", "--title", "x", "--content", "y")
	assert.Equal(t, exitValidation, exitCode(err), "missing --user")

	_, err = run(t, cfg, "audit", "report", "finance")
	assert.Equal(t, exitValidation, exitCode(err))
}

func TestPolicyLoadAndCheck(t *testing.T) {
	cfg := writeConfig(t)
	profiles := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(profiles, []byte(`
profiles:
  - documentId: NDA
    classification: restricted
    access:
      allowDownload: false
    retention:
      legalHold: true
`), 0o644))

	out, err := run(t, cfg, "policy", "load", profiles)
	require.NoError(t, err)
	assert.Contains(t, out, `"loaded": 1`)

	out, err = run(t, cfg, "policy", "check", "NDA", "delete")
	require.NoError(t, err)
	assert.Contains(t, out, `"allowed": false`)
	assert.Contains(t, out, "legal hold")

	_, err = run(t, cfg, "policy", "check", "NDA", "downlaod")
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(err))
	assert.Contains(t, err.Error(), `unknown operation "downlaod"`)

	out, err = run(t, cfg, "-o", "yaml", "policy", "show", "NDA")
	require.NoError(t, err)
	assert.Contains(t, out, "classification: restricted")
}
