package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"EUR", "USD"}, cfg.Contracts.AllowedCurrencies)
	assert.Equal(t, "1.1", cfg.Marketplace.InterestRateForBuyer)
	assert.Equal(t, "45 */5 * * * *", cfg.Scheduler.SettlePurchasesCron)
	assert.Equal(t, 12*time.Hour, cfg.Security.TokenTTL)
}

func TestLoadConfigYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
database:
  driver: sqlite
  sqlite_path: /tmp/test.db
contracts:
  principal: deferred
  escrow_principal: escrow
  allowed_currencies: [GBP]
  custodians: [admin]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/test.db", cfg.Database.GetDatabaseURL())
	assert.Equal(t, []string{"GBP"}, cfg.Contracts.AllowedCurrencies)
	assert.Equal(t, []string{"admin"}, cfg.Contracts.Custodians)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("ALLOWED_CURRENCIES", "EUR, CHF")
	t.Setenv("LEDGER_ENDPOINT", "http://ledger:8000")

	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"EUR", "CHF"}, cfg.Contracts.AllowedCurrencies)
	assert.Equal(t, "http://ledger:8000", cfg.Ledger.Endpoint)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")

	_, err := LoadConfig("")

	assert.Error(t, err)
}

func TestValidateBridgeRequiresAddress(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Bridge.Enabled = true
	cfg.Bridge.RPCURL = "http://localhost:8545"

	assert.Error(t, cfg.Validate())
}
