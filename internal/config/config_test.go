package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MINTING_FEE_BPS")
	unsetEnvWithCleanup(t, "ORACLE_PAIR")
	unsetEnvWithCleanup(t, "REDIS_RATE_LIMIT_PREFIX")
	unsetEnvWithCleanup(t, "REQUEST_IDEMPOTENCY_TTL_MINUTES")
	unsetEnvWithCleanup(t, "PROCESSED_REQUEST_SWEEP_SCHEDULE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MintingFeeBps != 50 {
		t.Fatalf("expected default MintingFeeBps 50, got %d", cfg.MintingFeeBps)
	}
	if cfg.OraclePair != "ETH-USD" {
		t.Fatalf("expected default OraclePair ETH-USD, got %q", cfg.OraclePair)
	}
	if cfg.RedisRateLimitPrefix != "issuance:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
	if cfg.RequestIdempotencyTTLMin != 1440 {
		t.Fatalf("expected default idempotency TTL 1440, got %d", cfg.RequestIdempotencyTTLMin)
	}
	if cfg.ProcessedRequestSweepSched != "@every 10m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.ProcessedRequestSweepSched)
	}
}

func TestLoadConfig_ClampsMintingFee(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MINTING_FEE_BPS", "5000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MintingFeeBps != 1000 {
		t.Fatalf("expected MintingFeeBps capped at 1000, got %d", cfg.MintingFeeBps)
	}
}

func TestLoadConfig_CoercesNegativeMintingFee(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MINTING_FEE_BPS", "-25")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MintingFeeBps != 0 {
		t.Fatalf("expected negative MintingFeeBps coerced to 0, got %d", cfg.MintingFeeBps)
	}
}

func TestLoadConfig_FeeRecipientFallsBackToOperator(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "OPERATOR_ACCOUNT", "acc_operator")
	unsetEnvWithCleanup(t, "FEE_RECIPIENT_ACCOUNT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FeeRecipientAccount != "acc_operator" {
		t.Fatalf("expected fee recipient to fall back to operator, got %q", cfg.FeeRecipientAccount)
	}
}

func TestLoadConfig_UsesInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "TOKEN_LEDGER_INTERNAL_API_KEY")
	setEnvWithCleanup(t, "INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TokenLedgerInternalAPIKey != "alias-only-key" {
		t.Fatalf("expected token ledger key from alias env var, got %q", cfg.TokenLedgerInternalAPIKey)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
