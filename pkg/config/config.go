// Package config loads server configuration from the environment, with an
// optional YAML file underneath. Environment variables always win, per
// 12-factor convention.
package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/emohunter/trustanchor/pkg/crypto"
	"github.com/emohunter/trustanchor/pkg/trust"
)

// Config holds server configuration. Key material stays base64-encoded
// here; decoding happens in Validate and MasterKey so a bad value fails at
// startup, not on the first request.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	MasterKey      string `yaml:"master_key"`
	AgentSecretKey string `yaml:"agent_secret_key"`
	AgentDID       string `yaml:"agent_did"`

	ChainEnabled    bool   `yaml:"chain_enabled"`
	LedgerAPIURL    string `yaml:"ledger_api_url"`
	LedgerAPIKey    string `yaml:"ledger_api_key"`
	LedgerServiceID string `yaml:"ledger_service_id"`

	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := defaults()
	overlayEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:       "8080",
		LogLevel:   "INFO",
		AgentDID:   "did:kite:emohunter",
		SQLitePath: "trustanchor.db",
	}
}

func overlayEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.MasterKey, "MASTER_KEY")
	setString(&cfg.AgentSecretKey, "AGENT_SK")
	setString(&cfg.AgentDID, "AGENT_DID")
	setString(&cfg.LedgerAPIURL, "LEDGER_API_URL")
	setString(&cfg.LedgerAPIKey, "LEDGER_API_KEY")
	setString(&cfg.LedgerServiceID, "LEDGER_SERVICE_ID")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.SQLitePath, "SQLITE_PATH")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("CHAIN_ENABLED"); v != "" {
		cfg.ChainEnabled = v == "true" || v == "1"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that the configuration can actually run a server. There
// are no fallback keys: missing or undersized key material is fatal.
func (c *Config) Validate() error {
	if _, err := c.DecodeMasterKey(); err != nil {
		return err
	}
	if c.AgentSecretKey == "" {
		return fmt.Errorf("%w: AGENT_SK is required", trust.ErrConfig)
	}
	if c.AgentDID == "" {
		return fmt.Errorf("%w: AGENT_DID must not be empty", trust.ErrConfig)
	}
	if c.ChainEnabled {
		if c.LedgerAPIURL == "" {
			return fmt.Errorf("%w: LEDGER_API_URL is required when CHAIN_ENABLED=true", trust.ErrConfig)
		}
		if c.LedgerServiceID == "" {
			return fmt.Errorf("%w: LEDGER_SERVICE_ID is required when CHAIN_ENABLED=true", trust.ErrConfig)
		}
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("%w: one of DATABASE_URL or SQLITE_PATH is required", trust.ErrConfig)
	}
	return nil
}

// DecodeMasterKey decodes and length-checks the commitment master key.
func (c *Config) DecodeMasterKey() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, fmt.Errorf("%w: MASTER_KEY is required", trust.ErrConfig)
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: MASTER_KEY is not valid base64: %v", trust.ErrConfig, err)
	}
	if len(key) < crypto.MasterKeyLen {
		return nil, fmt.Errorf("%w: MASTER_KEY must decode to at least %d bytes, got %d", trust.ErrConfig, crypto.MasterKeyLen, len(key))
	}
	return key, nil
}
