package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(200), cfg.Engine.FeeBps)
	assert.Equal(t, uint64(10), cfg.Engine.MinLiquidityUnits)
	assert.Equal(t, 5, cfg.Engine.CreationCapPerDay)
	assert.Equal(t, time.Hour, cfg.Engine.MinTimeToExpiry())
	assert.Equal(t, 5*time.Second, cfg.Engine.ProcessorInterval())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9999"
engine:
  fee_bps: 50
  creation_fee_units: 2
  revenue_share_pct: 25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, int64(50), cfg.Engine.FeeBps)
	assert.Equal(t, uint64(2), cfg.Engine.CreationFeeUnits)
	assert.Equal(t, int64(25), cfg.Engine.RevenueSharePct)
	// Unset fields still get defaults.
	assert.Equal(t, "markets.db", cfg.Storage.DSN)
	assert.Equal(t, uint64(1), cfg.Engine.ReserveFloorUnits)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("FEE_BPS", "120")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, int64(120), cfg.Engine.FeeBps)
}
