package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VEILSWAP_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VEILSWAP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VEILSWAP_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "VEILSWAP_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VEILSWAP_WALLET_KEY_PASSWORD")

	// ── Auction ──
	setStr(&cfg.Auction.TokenBase, "VEILSWAP_AUCTION_TOKEN_BASE")
	setStr(&cfg.Auction.TokenQuote, "VEILSWAP_AUCTION_TOKEN_QUOTE")
	setDuration(&cfg.Auction.CommitWindow, "VEILSWAP_AUCTION_COMMIT_WINDOW")
	setDuration(&cfg.Auction.RevealWindow, "VEILSWAP_AUCTION_REVEAL_WINDOW")
	setUint64(&cfg.Auction.MinCollateral, "VEILSWAP_AUCTION_MIN_COLLATERAL")
	setUint64(&cfg.Auction.SlashBps, "VEILSWAP_AUCTION_SLASH_BPS")
	setUint64(&cfg.Auction.PriceToleranceBps, "VEILSWAP_AUCTION_PRICE_TOLERANCE_BPS")
	setInt(&cfg.Auction.CommitRateLimit, "VEILSWAP_AUCTION_COMMIT_RATE_LIMIT")
	setStr(&cfg.Auction.Beneficiary, "VEILSWAP_AUCTION_BENEFICIARY")
	setStr(&cfg.Auction.CollateralToken, "VEILSWAP_AUCTION_COLLATERAL_TOKEN")
	setStringSlice(&cfg.Auction.Allowlist, "VEILSWAP_AUCTION_ALLOWLIST")

	// ── Pool ──
	setUint64(&cfg.Pool.ReserveBase, "VEILSWAP_POOL_RESERVE_BASE")
	setUint64(&cfg.Pool.ReserveQuote, "VEILSWAP_POOL_RESERVE_QUOTE")
	setUint64(&cfg.Pool.FeeBps, "VEILSWAP_POOL_FEE_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VEILSWAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VEILSWAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VEILSWAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VEILSWAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VEILSWAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VEILSWAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VEILSWAP_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VEILSWAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VEILSWAP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VEILSWAP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VEILSWAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VEILSWAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VEILSWAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VEILSWAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VEILSWAP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VEILSWAP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VEILSWAP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VEILSWAP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VEILSWAP_S3_REGION")
	setStr(&cfg.S3.Bucket, "VEILSWAP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VEILSWAP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VEILSWAP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VEILSWAP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VEILSWAP_S3_FORCE_PATH_STYLE")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "VEILSWAP_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.PollInterval, "VEILSWAP_KEEPER_POLL_INTERVAL")
	setDuration(&cfg.Keeper.SettleRetryInterval, "VEILSWAP_KEEPER_SETTLE_RETRY_INTERVAL")
	setInt(&cfg.Keeper.ArchiveRetentionDays, "VEILSWAP_KEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VEILSWAP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VEILSWAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VEILSWAP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VEILSWAP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VEILSWAP_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VEILSWAP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VEILSWAP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VEILSWAP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VEILSWAP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VEILSWAP_MODE")
	setStr(&cfg.LogLevel, "VEILSWAP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
