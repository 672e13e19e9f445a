package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emohunter/trustanchor/pkg/config"
	"github.com/emohunter/trustanchor/pkg/trust"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "MASTER_KEY", "AGENT_SK", "AGENT_DID",
		"CHAIN_ENABLED", "LEDGER_API_URL", "LEDGER_API_KEY", "LEDGER_SERVICE_ID",
		"DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func validKeyB64() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "did:kite:emohunter", cfg.AgentDID)
	assert.Equal(t, "trustanchor.db", cfg.SQLitePath)
	assert.False(t, cfg.ChainEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CHAIN_ENABLED", "true")
	t.Setenv("LEDGER_API_URL", "https://ledger.example.com")
	t.Setenv("LEDGER_SERVICE_ID", "svc-1")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("AGENT_DID", "did:kite:other")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.True(t, cfg.ChainEnabled)
	assert.Equal(t, "https://ledger.example.com", cfg.LedgerAPIURL)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "did:kite:other", cfg.AgentDID)
}

func TestValidate_RequiresKeys(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()
	assert.ErrorIs(t, cfg.Validate(), trust.ErrConfig)

	t.Setenv("MASTER_KEY", "not base64!!")
	assert.ErrorIs(t, config.Load().Validate(), trust.ErrConfig)

	// Too short even though valid base64.
	t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.ErrorIs(t, config.Load().Validate(), trust.ErrConfig)

	t.Setenv("MASTER_KEY", validKeyB64())
	assert.ErrorIs(t, config.Load().Validate(), trust.ErrConfig) // still no AGENT_SK

	t.Setenv("AGENT_SK", validKeyB64())
	assert.NoError(t, config.Load().Validate())
}

func TestValidate_ChainEnabledNeedsLedger(t *testing.T) {
	clearEnv(t)
	t.Setenv("MASTER_KEY", validKeyB64())
	t.Setenv("AGENT_SK", validKeyB64())
	t.Setenv("CHAIN_ENABLED", "true")

	assert.ErrorIs(t, config.Load().Validate(), trust.ErrConfig)

	t.Setenv("LEDGER_API_URL", "https://ledger.example.com")
	assert.ErrorIs(t, config.Load().Validate(), trust.ErrConfig)

	t.Setenv("LEDGER_SERVICE_ID", "svc-1")
	assert.NoError(t, config.Load().Validate())
}

func TestLoadFile_OverlayOrder(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "trustanchor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\nlog_level: WARN\nsqlite_path: /var/lib/trustanchor.db\n"), 0o600))

	// File beats defaults.
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "/var/lib/trustanchor.db", cfg.SQLitePath)

	// Env beats file.
	t.Setenv("PORT", "9999")
	cfg, err = config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "WARN", cfg.LogLevel)
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
}

func TestDecodeMasterKey(t *testing.T) {
	cfg := &config.Config{MasterKey: validKeyB64()}
	key, err := cfg.DecodeMasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
