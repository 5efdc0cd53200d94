package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatarchive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Setenv("ARCHIVE_ROOT", "/srv/archive")

	path := writeConfig(t, `
node_id: node-eu1
root: ${ARCHIVE_ROOT}
channels: ["#alpha", "#beta"]
ledger_path: /srv/ledger.db
normalizer:
  timeout: 20s
reconcile:
  interval: 1m
  concurrency: 4
metrics:
  addr: ":9090"
`)

	cfg, err := LoadAndValidate(path)
	require.NoError(t, err)

	assert.Equal(t, "node-eu1", cfg.NodeID)
	assert.Equal(t, "/srv/archive", cfg.Root)
	assert.Equal(t, []string{"#alpha", "#beta"}, cfg.Channels)
	assert.Equal(t, 20*time.Second, cfg.Normalizer.Timeout)
	assert.Equal(t, DefaultPresenceSlack, cfg.Normalizer.PresenceSlack)
	assert.Equal(t, DefaultFlushDelay, cfg.Recorder.FlushDelay)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 4, cfg.Reconcile.Concurrency)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultNodeID, cfg.NodeID)
	assert.Equal(t, DefaultReconcileConcurrency, cfg.Reconcile.Concurrency)
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "node: n1\n"))
	assert.ErrorContains(t, err, "parse config yaml")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateReportsFieldPaths(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"concurrency too high", func(c *Config) { c.Reconcile.Concurrency = 500 }, "reconcile.concurrency"},
		{"negative slack", func(c *Config) { c.Normalizer.PresenceSlack = -time.Second }, "normalizer.presence_slack"},
		{"bad node id", func(c *Config) { c.NodeID = "node 1" }, "node_id"},
		{"channel with slash", func(c *Config) { c.Channels = []string{"a/b"} }, "channels"},
		{"dot channel", func(c *Config) { c.Channels = []string{".."} }, "channels"},
		{"duplicate channel", func(c *Config) { c.Channels = []string{"#a", "#a"} }, "duplicate channel"},
		{"tiny interval", func(c *Config) { c.Reconcile.Interval = time.Microsecond }, "reconcile.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Contains(t, ve.Error(), tt.want)
		})
	}
}
