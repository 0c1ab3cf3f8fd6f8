// Package config defines the top-level configuration for the veilswap
// auction daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VEILSWAP_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Auction  AuctionConfig  `toml:"auction"`
	Pool     PoolConfig     `toml:"pool"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the operator key used to sign settlement reports.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AuctionConfig holds the batch auction market parameters.
type AuctionConfig struct {
	TokenBase         string   `toml:"token_base"`
	TokenQuote        string   `toml:"token_quote"`
	CommitWindow      duration `toml:"commit_window"`
	RevealWindow      duration `toml:"reveal_window"`
	MinCollateral     uint64   `toml:"min_collateral"`
	SlashBps          uint64   `toml:"slash_bps"`
	PriceToleranceBps uint64   `toml:"price_tolerance_bps"`
	CommitRateLimit   int      `toml:"commit_rate_limit"`
	Beneficiary       string   `toml:"beneficiary"`
	CollateralToken   string   `toml:"collateral_token"`
	Allowlist         []string `toml:"allowlist"`
}

// PoolConfig holds the constant-product pool the auction quotes against.
type PoolConfig struct {
	ReserveBase  uint64 `toml:"reserve_base"`
	ReserveQuote uint64 `toml:"reserve_quote"`
	FeeBps       uint64 `toml:"fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KeeperConfig holds parameters for the background phase keeper.
type KeeperConfig struct {
	Enabled              bool     `toml:"enabled"`
	PollInterval         duration `toml:"poll_interval"`
	SettleRetryInterval  duration `toml:"settle_retry_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Auction: AuctionConfig{
			TokenBase:         "WETH",
			TokenQuote:        "USDC",
			CommitWindow:      duration{60 * time.Second},
			RevealWindow:      duration{30 * time.Second},
			MinCollateral:     1_000_000,
			SlashBps:          5_000,
			PriceToleranceBps: 500,
			CommitRateLimit:   10,
			CollateralToken:   "USDC",
		},
		Pool: PoolConfig{
			ReserveBase:  1_000_000_000,
			ReserveQuote: 2_000_000_000,
			FeeBps:       30,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "veilswap",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "veilswap-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Keeper: KeeperConfig{
			Enabled:              true,
			PollInterval:         duration{time.Second},
			SettleRetryInterval:  duration{5 * time.Second},
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
		},
		Notify: NotifyConfig{
			Events: []string{"batch_settled", "collateral_slashed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — settlement reports must be signable whenever the engine runs.
	needsWallet := c.Mode == "engine" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Auction
	if c.Auction.TokenBase == "" || c.Auction.TokenQuote == "" {
		errs = append(errs, "auction: token_base and token_quote must both be set")
	}
	if c.Auction.TokenBase == c.Auction.TokenQuote {
		errs = append(errs, "auction: token_base and token_quote must differ")
	}
	if c.Auction.CommitWindow.Duration <= 0 {
		errs = append(errs, "auction: commit_window must be positive")
	}
	if c.Auction.RevealWindow.Duration <= 0 {
		errs = append(errs, "auction: reveal_window must be positive")
	}
	if c.Auction.SlashBps > 10_000 {
		errs = append(errs, fmt.Sprintf("auction: slash_bps %d exceeds 10000", c.Auction.SlashBps))
	}
	if c.Auction.SlashBps > 0 && c.Auction.Beneficiary == "" {
		errs = append(errs, "auction: beneficiary is required when slash_bps > 0")
	}
	if c.Auction.CommitRateLimit < 0 {
		errs = append(errs, "auction: commit_rate_limit must not be negative")
	}
	if c.Auction.CollateralToken == "" {
		errs = append(errs, "auction: collateral_token must be set")
	}

	// Pool
	if c.Pool.ReserveBase == 0 || c.Pool.ReserveQuote == 0 {
		errs = append(errs, "pool: reserve_base and reserve_quote must both be positive")
	}
	if c.Pool.FeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("pool: fee_bps %d out of range", c.Pool.FeeBps))
	}

	// Postgres — either a DSN or discrete parameters.
	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			errs = append(errs, "postgres: host, database and user are required when dsn is not set")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: invalid port %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns exceeds pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must be set")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when s3 is enabled")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key are required when s3 is enabled")
		}
	}

	// Keeper
	if c.Keeper.Enabled && c.Keeper.PollInterval.Duration <= 0 {
		errs = append(errs, "keeper: poll_interval must be positive")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConnString assembles a PostgreSQL connection string from the discrete
// parameters unless an explicit DSN was configured.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}
