package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("lockstep", flag.ContinueOnError)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8089", cfg.IngestAddr)
	assert.Equal(t, ":8090", cfg.SnapshotAddr)
	assert.Equal(t, ":5000", cfg.BindAddr)
	assert.Equal(t, ":5001", cfg.BarrierAddr)
	assert.Equal(t, time.Second, cfg.ReapInterval)
	assert.Equal(t, 15*time.Second, cfg.EntryTimeout)
	assert.Zero(t, cfg.HoldTimeout, "barrier waits are unbounded by default")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.DummyFixture)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("LOCKSTEP_INGEST_ADDR", "127.0.0.1:9089")
	t.Setenv("LOCKSTEP_ENTRY_TIMEOUT", "30s")
	t.Setenv("LOCKSTEP_HOLD_TIMEOUT", "2m")
	t.Setenv("LOCKSTEP_DUMMY_FIXTURE", "false")

	cfg, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9089", cfg.IngestAddr)
	assert.Equal(t, 30*time.Second, cfg.EntryTimeout)
	assert.Equal(t, 2*time.Minute, cfg.HoldTimeout)
	assert.False(t, cfg.DummyFixture)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("LOCKSTEP_BIND_ADDR", ":6000")

	cfg, err := Load(newFlagSet(), []string{"-bind", ":7000", "-reap-interval", "250ms", "-log-level", "debug"})
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.BindAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.ReapInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad duration", env: map[string]string{"LOCKSTEP_REAP_INTERVAL": "soon"}},
		{name: "zero interval", args: []string{"-reap-interval", "0s"}},
		{name: "negative timeout", args: []string{"-entry-timeout", "-1s"}},
		{name: "negative hold", args: []string{"-hold-timeout", "-1s"}},
		{name: "empty address", args: []string{"-barrier", ""}},
		{name: "unknown flag", args: []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			fs := newFlagSet()
			fs.SetOutput(io.Discard)
			_, err := Load(fs, tt.args)
			assert.Error(t, err)
		})
	}
}

func TestFixtures(t *testing.T) {
	t.Run("dummy only", func(t *testing.T) {
		cfg, err := Load(newFlagSet(), nil)
		require.NoError(t, err)

		fixtures, err := cfg.Fixtures()
		require.NoError(t, err)
		require.Len(t, fixtures, 1)
		assert.Equal(t, DummyFixtureID, fixtures[0].ID)
		assert.Equal(t, "00000", fixtures[0].GroupTag)

		e := fixtures[0].Entry(42)
		assert.True(t, e.Permanent)
		assert.Equal(t, int64(42), e.LastUpdate)
		assert.Equal(t, int32(200), e.X)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fixtures.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
fixtures:
  - id: bot-1
    group: g1
    color: red
    x: 10
    y: 20
  - id: bot-2
    group: g2
`), 0o600))

		cfg, err := Load(newFlagSet(), []string{"-dummy-fixture=false", "-fixtures", path})
		require.NoError(t, err)

		fixtures, err := cfg.Fixtures()
		require.NoError(t, err)
		require.Len(t, fixtures, 2)
		assert.Equal(t, Fixture{ID: "bot-1", GroupTag: "g1", Color: "red", X: 10, Y: 20}, fixtures[0])
		assert.Equal(t, "g2", fixtures[1].GroupTag)
	})

	t.Run("missing id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fixtures.yaml")
		require.NoError(t, os.WriteFile(path, []byte("fixtures:\n  - group: g1\n"), 0o600))

		_, err := LoadFixtures(path)
		assert.ErrorContains(t, err, "has no id")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFixtures(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fixtures.yaml")
		require.NoError(t, os.WriteFile(path, []byte("fixtures: [\n"), 0o600))

		_, err := LoadFixtures(path)
		assert.Error(t, err)
	})
}
