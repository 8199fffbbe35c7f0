package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Locks.DefaultDuration)
	assert.Equal(t, filepath.Join("docvault-data", "db"), cfg.DatabaseDir())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
dataDir: /var/lib/docvault
log:
  level: debug
  format: json
storage:
  backend: memory
audit:
  alertTimeout: 2s
  webhooks:
    - url: https://alerts.example.com/hook
      headers:
        Authorization: Bearer x
locks:
  defaultDuration: 10m
  requireEditLock: true
security:
  enforce: true
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Audit.AlertTimeout)
	assert.True(t, cfg.Audit.Journal, "unset fields keep defaults")
	require.Len(t, cfg.Audit.Webhooks, 1)
	assert.Equal(t, "Bearer x", cfg.Audit.Webhooks[0].Headers["Authorization"])
	assert.Equal(t, 10*time.Minute, cfg.Locks.DefaultDuration)
	assert.True(t, cfg.Locks.RequireEditLock)
	assert.True(t, cfg.Security.Enforce)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "bogus: 1\n",
		"bad backend":     "storage:\n  backend: postgres\n",
		"bad level":       "log:\n  level: loud\n",
		"bad webhook":     "audit:\n  webhooks:\n    - url: not a url\n",
		"zero lock":       "locks:\n  defaultDuration: 0s\n",
		"missing dataDir": "dataDir: \"\"\n",
	}
	for name, doc := range cases {
		doc := doc
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestEmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: memory\naudit:\n  journal: false\n"), 0o644))

	t.Setenv(EnvPath, path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.False(t, cfg.Audit.Journal)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
