package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ethquery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
cache:
  block_cache_size: 512
  receipt_cache_size: 64
gasprice:
  blocks: 30
  percentile: 60
simulation:
  gas_cap: 25000000
  evm_timeout: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Cache.BlockCacheSize)
	assert.Equal(t, 64, cfg.Cache.ReceiptCacheSize)
	assert.Equal(t, 30, cfg.GasPrice.Blocks)
	assert.Equal(t, 60, cfg.GasPrice.Percentile)
	assert.Equal(t, uint64(25_000_000), cfg.Simulation.GasCap)
	assert.Equal(t, 10*time.Second, cfg.Simulation.EVMTimeout)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Zero(t, cfg.GasPrice.Blocks, "unset values defer to component defaults")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ETHQUERY_GASPRICE__BLOCKS", "40")

	path := writeConfig(t, "gasprice:\n  blocks: 30\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.GasPrice.Blocks)
}

func TestLoadEnvOverrideUnderscoredKey(t *testing.T) {
	// Keys containing an underscore need the double-underscore nesting
	// separator to survive the env mapping.
	t.Setenv("ETHQUERY_SIMULATION__GAS_CAP", "12345")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), cfg.Simulation.GasCap)
}
