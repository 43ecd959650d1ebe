package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/swap-desk/internal/types"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("listen_addr: \":9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.Equal(t, types.FeePolicyLegacy, cfg.Fees.Policy)
	assert.Equal(t, 5*time.Second, cfg.FeedTimeout())
	assert.Equal(t, 24*time.Hour, cfg.TrialPeriod())
	assert.Equal(t, 5, cfg.Offers.Window)
	assert.Equal(t, 3, cfg.Offers.SimilarLimit)
	assert.Equal(t, 3, cfg.Entitlement.FreeOffers)
	assert.Equal(t, "https://api.coingecko.com/api/v3", cfg.Feeds.CoinGeckoURL)
	assert.Equal(t, "WA", cfg.Payment.MemoPrefix)

	rate, err := cfg.FeeRate()
	require.NoError(t, err)
	assert.Equal(t, "0.0001", rate.String())
}

func TestParse_ProRoot(t *testing.T) {
	cfg, err := Parse([]byte("feeds:\n  coingecko_pro: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://pro-api.coingecko.com/api/v3", cfg.Feeds.CoinGeckoURL)
}

func TestParse_Payment(t *testing.T) {
	cfg, err := Parse([]byte("payment:\n  fiat_wallet: \"4100\"\n  addresses:\n    ton: UQ-ton\n"))
	require.NoError(t, err)
	assert.Equal(t, "4100", cfg.Payment.FiatWallet)
	assert.Equal(t, "UQ-ton", cfg.Payment.Addresses["ton"])
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("fees:\n  policy: sideways\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("fees:\n  rate: \"1.5\"\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("storage: sheets\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("listen_addr: [\n"))
	assert.Error(t, err)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SWAPDESK_COINGECKO_KEY", "cg-env")
	t.Setenv("SWAPDESK_REDIS_ADDR", "redis:6380")
	t.Setenv("SWAPDESK_FEE_POLICY", "CONVERTED")

	cfg, err := Parse([]byte("feeds:\n  coingecko_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "cg-env", cfg.Feeds.CoinGeckoKey)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, types.FeePolicyConverted, cfg.Fees.Policy)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: memory\nredis:\n  key_prefix: \"desk:\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "desk:offers:users", cfg.Key("offers:users"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
