/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the issuance-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	OracleAPIBaseURL            string `mapstructure:"ORACLE_API_BASE_URL"`
	OraclePair                  string `mapstructure:"ORACLE_PAIR"`
	OracleMaxStalenessSeconds   int    `mapstructure:"ORACLE_MAX_STALENESS_SECONDS"`
	TokenLedgerURL              string `mapstructure:"TOKEN_LEDGER_URL"`
	TokenLedgerInternalAPIKey   string `mapstructure:"TOKEN_LEDGER_INTERNAL_API_KEY"`
	JWKSURL                     string `mapstructure:"JWKS_URL"`
	OperatorAccount             string `mapstructure:"OPERATOR_ACCOUNT"`
	FeeRecipientAccount         string `mapstructure:"FEE_RECIPIENT_ACCOUNT"`
	MintingFeeBps               int64  `mapstructure:"MINTING_FEE_BPS"`
	DepositRateLimitPerMinute   int    `mapstructure:"DEPOSIT_RATE_LIMIT_PER_MINUTE"`
	RedeemRateLimitPerMinute    int    `mapstructure:"REDEEM_RATE_LIMIT_PER_MINUTE"`
	RequestIdempotencyTTLMin    int    `mapstructure:"REQUEST_IDEMPOTENCY_TTL_MINUTES"`
	ProcessedRequestSweepSched  string `mapstructure:"PROCESSED_REQUEST_SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "issuance:rate_limit")
	viper.SetDefault("ORACLE_PAIR", "ETH-USD")
	viper.SetDefault("ORACLE_MAX_STALENESS_SECONDS", 300)
	viper.SetDefault("MINTING_FEE_BPS", 50)
	viper.SetDefault("DEPOSIT_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("REDEEM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("REQUEST_IDEMPOTENCY_TTL_MINUTES", 1440)
	viper.SetDefault("PROCESSED_REQUEST_SWEEP_SCHEDULE", "@every 10m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ISSUANCE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ORACLE_API_BASE_URL")
	_ = viper.BindEnv("ORACLE_PAIR")
	_ = viper.BindEnv("ORACLE_MAX_STALENESS_SECONDS")
	_ = viper.BindEnv("TOKEN_LEDGER_URL")
	_ = viper.BindEnv("TOKEN_LEDGER_INTERNAL_API_KEY", "TOKEN_LEDGER_INTERNAL_API_KEY", "INTERNAL_API_KEY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("OPERATOR_ACCOUNT")
	_ = viper.BindEnv("FEE_RECIPIENT_ACCOUNT")
	_ = viper.BindEnv("MINTING_FEE_BPS")
	_ = viper.BindEnv("DEPOSIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REDEEM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REQUEST_IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("PROCESSED_REQUEST_SWEEP_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "issuance:rate_limit"
	}
	config.OraclePair = strings.TrimSpace(config.OraclePair)
	if config.OraclePair == "" {
		config.OraclePair = "ETH-USD"
	}
	config.FeeRecipientAccount = strings.TrimSpace(config.FeeRecipientAccount)
	if config.FeeRecipientAccount == "" {
		config.FeeRecipientAccount = strings.TrimSpace(config.OperatorAccount)
	}

	// The fee rate is capped at 10% (1000 bps). Out-of-range values are
	// clamped rather than rejected so a bad deploy does not take the
	// service down.
	if config.MintingFeeBps < 0 {
		log.Printf("level=warn component=config msg=\"negative minting fee configured; coercing to zero\" fee_bps=%d", config.MintingFeeBps)
		config.MintingFeeBps = 0
	}
	if config.MintingFeeBps > 1000 {
		log.Printf("level=warn component=config msg=\"minting fee too high; capping at 1000 bps\" fee_bps=%d", config.MintingFeeBps)
		config.MintingFeeBps = 1000
	}

	if config.OracleMaxStalenessSeconds <= 0 {
		config.OracleMaxStalenessSeconds = 300
	}
	if config.DepositRateLimitPerMinute <= 0 {
		config.DepositRateLimitPerMinute = 30
	}
	if config.RedeemRateLimitPerMinute <= 0 {
		config.RedeemRateLimitPerMinute = 30
	}
	if config.RequestIdempotencyTTLMin <= 0 {
		config.RequestIdempotencyTTLMin = 1440
	}
	if strings.TrimSpace(config.ProcessedRequestSweepSched) == "" {
		config.ProcessedRequestSweepSched = "@every 10m"
	}

	return
}
