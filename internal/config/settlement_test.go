package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultSettlementConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateSettlementConfig(DefaultSettlementConfig()))
}

func TestValidateSettlementConfigRejectsShortLease(t *testing.T) {
	cfg := DefaultSettlementConfig()
	cfg.LeaseTTL = time.Second
	cfg.Gateway.CallTimeout = 5 * time.Second
	assert.Error(t, ValidateSettlementConfig(cfg))
}

func TestValidateSettlementConfigRejectsZeroTries(t *testing.T) {
	cfg := DefaultSettlementConfig()
	cfg.Gateway.MaxTries = 0
	assert.Error(t, ValidateSettlementConfig(cfg))
}

func TestNewSettlementConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`settlement:
  leaseTTL: 90s
  sweep:
    interval: 30s
    batchSize: 10
    minAge: 1m
    concurrency: 2
  gateway:
    callTimeout: 5s
    maxTries: 5
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settlement.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewSettlementConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 90*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, 10, cfg.Sweep.BatchSize)
	assert.Equal(t, 2, cfg.Sweep.Concurrency)
	assert.Equal(t, uint(5), cfg.Gateway.MaxTries)
	// unspecified keys keep their defaults
	assert.Equal(t, DefaultSettlementConfig().Gateway.MaxInterval, cfg.Gateway.MaxInterval)
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *SettlementConfigHolder
	assert.Equal(t, DefaultSettlementConfig(), holder.Get())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_PROVIDER", "STRIPE")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "7")
	t.Setenv("DATABASE_CONN_MAX_LIFETIME", "1m")
	t.Setenv("SETTLEMENT_DISPATCH", "sync")

	cfg := Load()
	assert.Equal(t, "stripe", cfg.Gateway.Provider)
	assert.Equal(t, 7, cfg.DBMaxOpenConn)
	assert.Equal(t, time.Minute, cfg.DBConnMaxLifetime)
	assert.False(t, cfg.AsyncSettlement())
}
