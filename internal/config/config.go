package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env       string `mapstructure:"RSK_ENV"`
	HTTPAddr  string `mapstructure:"RSK_HTTP_ADDR"`
	PublicURL string `mapstructure:"RSK_PUBLIC_ORIGIN"`

	Aptos     AptosConfig     `mapstructure:",squash"`
	Orderbook OrderbookConfig `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:",squash"`
	Security  SecurityConfig  `mapstructure:",squash"`
}

type AptosConfig struct {
	Network           string        `mapstructure:"RSK_NETWORK"`
	NodeURL           string        `mapstructure:"RSK_APTOS_NODE_URL"`
	IndexerURL        string        `mapstructure:"RSK_APTOS_INDEXER_URL"`
	APIKey            string        `mapstructure:"RSK_APTOS_API_KEY"`
	ModuleAddress     string        `mapstructure:"RSK_MODULE_ADDRESS"`
	EconiaAddress     string        `mapstructure:"RSK_ECONIA_ADDRESS"`
	CollectionAddress string        `mapstructure:"RSK_COLLECTION_ADDRESS"`
	RequestTimeout    time.Duration `mapstructure:"RSK_UPSTREAM_TIMEOUT"`
}

type OrderbookConfig struct {
	APIURL              string        `mapstructure:"RSK_ORDERBOOK_API_URL"`
	Depth               int           `mapstructure:"RSK_ORDERBOOK_DEPTH"`
	PollInterval        time.Duration `mapstructure:"RSK_ORDERBOOK_POLL_INTERVAL"`
	BalancePollInterval time.Duration `mapstructure:"RSK_BALANCE_POLL_INTERVAL"`
	TokenPollInterval   time.Duration `mapstructure:"RSK_TOKEN_POLL_INTERVAL"`
	TradeHistoryLimit   int           `mapstructure:"RSK_TRADE_HISTORY_LIMIT"`
	WatchMarkets        []uint64      `mapstructure:"RSK_WATCH_MARKETS"`
}

type CacheConfig struct {
	RedisAddr string `mapstructure:"RSK_REDIS_ADDR"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"RSK_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"RSK_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("backend", ".env"),
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // variables already set in the environment win
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("RSK_ENV", "dev")
	viper.SetDefault("RSK_HTTP_ADDR", ":8080")
	viper.SetDefault("RSK_PUBLIC_ORIGIN", "http://localhost:3000")
	viper.SetDefault("RSK_NETWORK", "testnet")
	viper.SetDefault("RSK_APTOS_NODE_URL", "")
	viper.SetDefault("RSK_APTOS_INDEXER_URL", "")
	viper.SetDefault("RSK_APTOS_API_KEY", "")
	viper.SetDefault("RSK_MODULE_ADDRESS", "0x1")
	viper.SetDefault("RSK_ECONIA_ADDRESS", "0xc0de11113b427d35ece1d8991865a941c0578b0f349acabbe9753863c24109ff")
	viper.SetDefault("RSK_COLLECTION_ADDRESS", "")
	viper.SetDefault("RSK_UPSTREAM_TIMEOUT", "10s")
	viper.SetDefault("RSK_ORDERBOOK_API_URL", "http://localhost:3001")
	viper.SetDefault("RSK_ORDERBOOK_DEPTH", 60)
	viper.SetDefault("RSK_ORDERBOOK_POLL_INTERVAL", "10s")
	viper.SetDefault("RSK_BALANCE_POLL_INTERVAL", "30s")
	viper.SetDefault("RSK_TOKEN_POLL_INTERVAL", "30s")
	viper.SetDefault("RSK_TRADE_HISTORY_LIMIT", 100)
	viper.SetDefault("RSK_REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("RSK_RATE_LIMIT_RPM", 600)
	viper.SetDefault("RSK_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	if origins := viper.GetString("RSK_CORS_ALLOWED_ORIGINS"); origins != "" {
		viper.Set("RSK_CORS_ALLOWED_ORIGINS", splitList(origins))
	}
	if raw := viper.GetString("RSK_WATCH_MARKETS"); raw != "" {
		ids, err := ParseMarketIDs(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RSK_WATCH_MARKETS: %w", err)
		}
		viper.Set("RSK_WATCH_MARKETS", ids)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyNetworkDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ParseMarketIDs parses a comma separated list of numeric market ids.
func ParseMarketIDs(raw string) ([]uint64, error) {
	parts := splitList(raw)
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("market id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Orderbook.APIURL == "" {
		return fmt.Errorf("RSK_ORDERBOOK_API_URL is required")
	}
	if c.Aptos.NodeURL == "" {
		return fmt.Errorf("RSK_APTOS_NODE_URL is required")
	}
	if c.Orderbook.Depth <= 0 {
		return fmt.Errorf("RSK_ORDERBOOK_DEPTH must be positive, got %d", c.Orderbook.Depth)
	}
	if c.Orderbook.PollInterval <= 0 || c.Orderbook.BalancePollInterval <= 0 || c.Orderbook.TokenPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	switch c.Aptos.Network {
	case "local", "devnet", "testnet", "mainnet":
	default:
		return fmt.Errorf("invalid RSK_NETWORK %q (must be local, devnet, testnet, or mainnet)", c.Aptos.Network)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// applyNetworkDefaults fills in the public node and indexer endpoints for the
// selected network when they were not set explicitly.
func (c *Config) applyNetworkDefaults() {
	net := strings.ToLower(strings.TrimSpace(c.Aptos.Network))
	node := strings.TrimRight(strings.TrimSpace(c.Aptos.NodeURL), "/")
	indexer := strings.TrimSpace(c.Aptos.IndexerURL)

	switch net {
	case "mainnet", "testnet", "devnet":
		if node == "" {
			node = fmt.Sprintf("https://api.%s.aptoslabs.com/v1", net)
		}
		if indexer == "" {
			indexer = fmt.Sprintf("https://api.%s.aptoslabs.com/v1/graphql", net)
		}
	default:
		net = "local"
		if node == "" {
			node = "http://127.0.0.1:8080/v1"
		}
		if indexer == "" {
			indexer = "http://127.0.0.1:8090/v1/graphql"
		}
	}

	c.Aptos.Network = net
	c.Aptos.NodeURL = node
	c.Aptos.IndexerURL = indexer
	if c.Aptos.RequestTimeout <= 0 {
		c.Aptos.RequestTimeout = 10 * time.Second
	}
	c.Orderbook.APIURL = strings.TrimRight(c.Orderbook.APIURL, "/")
}
