package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type RedisCfg struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

type FeedsCfg struct {
	FiatURL           string  `yaml:"fiat_url"`
	CoinGeckoURL      string  `yaml:"coingecko_url"`
	CoinGeckoKey      string  `yaml:"coingecko_key"`
	CoinGeckoPro      bool    `yaml:"coingecko_pro"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type FeesCfg struct {
	Policy types.FeePolicy `yaml:"policy"`
	Rate   string          `yaml:"rate"`
}

type OffersCfg struct {
	Window       int `yaml:"window"`
	SimilarLimit int `yaml:"similar_limit"`
	RecentLimit  int `yaml:"recent_limit"`
}

type EntitlementCfg struct {
	FreeOffers int `yaml:"free_offers"`
	TrialHours int `yaml:"trial_hours"`
}

// PaymentCfg holds where plan payments go. Addresses is keyed by chain
// (ton, eth, sol, doge); assets on a chain without an address fall back to
// the ton wallet.
type PaymentCfg struct {
	Addresses      map[string]string `yaml:"addresses"`
	FiatWallet     string            `yaml:"fiat_wallet"`
	StarsRecipient string            `yaml:"stars_recipient"`
	MemoPrefix     string            `yaml:"memo_prefix"`
}

type JournalCfg struct {
	Enabled bool   `yaml:"enabled"`
	Stream  string `yaml:"stream"`
	MaxLen  int64  `yaml:"max_len"`
	Note    string `yaml:"note"`
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	Storage    string `yaml:"storage"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Redis       RedisCfg       `yaml:"redis"`
	Feeds       FeedsCfg       `yaml:"feeds"`
	Fees        FeesCfg        `yaml:"fees"`
	Offers      OffersCfg      `yaml:"offers"`
	Entitlement EntitlementCfg `yaml:"entitlement"`
	Payment     PaymentCfg     `yaml:"payment"`
	Journal     JournalCfg     `yaml:"journal"`
}

// Load reads the YAML file, applies SWAPDESK_* environment overrides (a .env
// next to the binary is honoured) and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SWAPDESK_COINGECKO_KEY"); v != "" {
		c.Feeds.CoinGeckoKey = v
	}
	if v := os.Getenv("SWAPDESK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SWAPDESK_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SWAPDESK_FEE_POLICY"); v != "" {
		c.Fees.Policy = types.FeePolicy(strings.ToLower(v))
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage == "" {
		c.Storage = StorageRedis
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Feeds.FiatURL == "" {
		c.Feeds.FiatURL = "https://api.exchangerate-api.com/v4/latest"
	}
	if c.Feeds.CoinGeckoURL == "" {
		if c.Feeds.CoinGeckoPro {
			c.Feeds.CoinGeckoURL = "https://pro-api.coingecko.com/api/v3"
		} else {
			c.Feeds.CoinGeckoURL = "https://api.coingecko.com/api/v3"
		}
	}
	if c.Feeds.TimeoutMs == 0 {
		c.Feeds.TimeoutMs = 5000
	}
	if c.Feeds.RequestsPerMinute == 0 {
		c.Feeds.RequestsPerMinute = 30
	}
	if c.Feeds.Burst == 0 {
		c.Feeds.Burst = 5
	}
	if c.Fees.Policy == "" {
		c.Fees.Policy = types.FeePolicyLegacy
	}
	if c.Fees.Rate == "" {
		c.Fees.Rate = "0.0001"
	}
	if c.Offers.Window == 0 {
		c.Offers.Window = 5
	}
	if c.Offers.SimilarLimit == 0 {
		c.Offers.SimilarLimit = 3
	}
	if c.Offers.RecentLimit == 0 {
		c.Offers.RecentLimit = 3
	}
	if c.Entitlement.FreeOffers == 0 {
		c.Entitlement.FreeOffers = 3
	}
	if c.Entitlement.TrialHours == 0 {
		c.Entitlement.TrialHours = 24
	}
	if c.Payment.MemoPrefix == "" {
		c.Payment.MemoPrefix = "WA"
	}
	if c.Journal.Stream == "" {
		c.Journal.Stream = "offers:journal"
	}
	if c.Journal.MaxLen == 0 {
		c.Journal.MaxLen = 10000
	}
}

func (c *Config) Validate() error {
	if !c.Fees.Policy.Valid() {
		return fmt.Errorf("fees.policy: unknown policy %q", c.Fees.Policy)
	}
	if _, err := c.FeeRate(); err != nil {
		return fmt.Errorf("fees.rate: %w", err)
	}
	if c.Storage != StorageRedis && c.Storage != StorageMemory {
		return fmt.Errorf("storage: unknown backend %q", c.Storage)
	}
	if c.Offers.Window < 0 || c.Offers.SimilarLimit < 0 {
		return fmt.Errorf("offers: window and similar_limit must be positive")
	}
	return nil
}

func (c *Config) FeeRate() (decimal.Decimal, error) {
	r, err := decimal.NewFromString(c.Fees.Rate)
	if err != nil {
		return decimal.Zero, err
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("rate %s out of range [0,1)", c.Fees.Rate)
	}
	return r, nil
}

func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feeds.TimeoutMs) * time.Millisecond
}

func (c *Config) TrialPeriod() time.Duration {
	return time.Duration(c.Entitlement.TrialHours) * time.Hour
}

// Key prefixes every Redis key with the configured namespace.
func (c *Config) Key(k string) string {
	if c.Redis.KeyPrefix == "" {
		return k
	}
	return c.Redis.KeyPrefix + k
}
