package config

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateWithWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0x01"
	cfg.Auction.Beneficiary = "0xtreasury"
	require.NoError(t, cfg.Validate())
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"missing wallet":      func(c *Config) { c.Wallet.PrivateKey = "" },
		"same tokens":         func(c *Config) { c.Auction.TokenQuote = c.Auction.TokenBase },
		"zero commit window":  func(c *Config) { c.Auction.CommitWindow = duration{} },
		"slash over 100%":     func(c *Config) { c.Auction.SlashBps = 10_001 },
		"no beneficiary":      func(c *Config) { c.Auction.Beneficiary = "" },
		"empty pool reserve":  func(c *Config) { c.Pool.ReserveBase = 0 },
		"bad mode":            func(c *Config) { c.Mode = "banana" },
		"bad server port":     func(c *Config) { c.Server.Port = 0 },
		"s3 without keys":     func(c *Config) { c.S3.Enabled = true },
		"redis without addr":  func(c *Config) { c.Redis.Addr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Wallet.PrivateKey = "0x01"
			cfg.Auction.Beneficiary = "0xtreasury"
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationDecodesFromTOML(t *testing.T) {
	var cfg Config
	_, err := toml.Decode(`
[auction]
commit_window = "90s"
reveal_window = "2m"
`, &cfg)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.Auction.CommitWindow.Duration)
	require.Equal(t, 2*time.Minute, cfg.Auction.RevealWindow.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VEILSWAP_AUCTION_SLASH_BPS", "2500")
	t.Setenv("VEILSWAP_AUCTION_COMMIT_WINDOW", "45s")
	t.Setenv("VEILSWAP_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VEILSWAP_MODE", "server")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, uint64(2500), cfg.Auction.SlashBps)
	require.Equal(t, 45*time.Second, cfg.Auction.CommitWindow.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, "server", cfg.Mode)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	require.Equal(t, "***", red.Wallet.PrivateKey)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Redis.Password)
	require.Equal(t, "***", red.Notify.TelegramToken)

	// Original untouched.
	require.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}
