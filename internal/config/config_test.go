package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default("BTCUSDT")
	require.NoError(t, validate(cfg, "default_test.yaml"))
	assert.Equal(t, "BTCUSDT", cfg.Symbol.Name)
	assert.Greater(t, cfg.SignalMgr.MaxQueueSize, 0)
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	path := writeTemp(t, "pair_test.yaml", "symbol:\n  name: ETHUSDT\n  tick_size: 0.05\nzones:\n  zone_ticks: 25\n")
	cfg, err := Load(path, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol.Name)
	assert.InDelta(t, 0.05, cfg.Symbol.TickSize, 1e-9)
	assert.EqualValues(t, 25, cfg.Zones.ZoneTicks)
	// Untouched groups still carry their defaults.
	assert.Equal(t, int64(5000), cfg.Absorption.EventCooldownMs)
}

func TestLoadRejectsTestOnlyFlagOutsideTestFile(t *testing.T) {
	path := writeTemp(t, "production.yaml", "symbol:\n  name: BTCUSDT\n  tick_size: 0.01\nbook:\n  test_only_disable_sequence_validation: true\n")
	_, err := Load(path, "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_only_disable_sequence_validation")
}

func TestLoadAllowsTestOnlyFlagInTestFile(t *testing.T) {
	path := writeTemp(t, "fixture_test.yaml", "symbol:\n  name: BTCUSDT\n  tick_size: 0.01\nbook:\n  test_only_disable_sequence_validation: true\n")
	cfg, err := Load(path, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, cfg.Book.TestOnlyDisableSequenceValidation)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "BTCUSDT")
	require.Error(t, err)
}
