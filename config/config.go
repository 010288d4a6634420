package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"builderbuddy-backend/core/marketplace"
)

// Config is the service configuration. File values are read first, then
// BB_* environment variables override them.
type Config struct {
	Port string `yaml:"port"`

	StoreDriver   string        `yaml:"store_driver"` // memory | postgres | sqlite
	PGDSN         string        `yaml:"pg_dsn"`
	SQLitePath    string        `yaml:"sqlite_path"`
	SnapshotEvery time.Duration `yaml:"snapshot_every"`

	OwnerAddress  string `yaml:"owner_address"`
	OracleAddress string `yaml:"oracle_address"`

	Token  TokenConfig  `yaml:"token"`
	Oracle OracleConfig `yaml:"oracle"`
	Levels LevelsConfig `yaml:"levels"`

	// APIKeys binds static keys to caller addresses.
	APIKeys      map[string]string `yaml:"api_keys"`
	OwnerAPIKey  string            `yaml:"owner_api_key"`
	OracleAPIKey string            `yaml:"oracle_api_key"`

	// Per-caller token bucket; a zero burst disables throttling.
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`

	// MCPCaller is the address MCP stdio sessions act as.
	MCPCaller string `yaml:"mcp_caller"`
}

type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

type OracleConfig struct {
	Provider       string        `yaml:"provider"` // mock | gitcoin | manual
	APIBase        string        `yaml:"api_base"`
	APIKey         string        `yaml:"api_key"`
	MockScore      uint64        `yaml:"mock_score"`
	Interval       time.Duration `yaml:"interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ScorerID       string        `yaml:"scorer_id"`
	MinScore       string        `yaml:"min_score"`
	SubscriptionID uint64        `yaml:"subscription_id"`
	GasLimit       uint32        `yaml:"gas_limit"`
	DonID          string        `yaml:"don_id"`
}

// LevelsConfig overrides the default level table when both columns are set.
// Collateral is given in whole tokens and scaled by the token decimals.
type LevelsConfig struct {
	Collateral []uint64 `yaml:"collateral"`
	Scores     []uint64 `yaml:"scores"`
}

// Default reproduces the deployed settings.
func Default() Config {
	reg := marketplace.DefaultRegistryConfig()
	return Config{
		Port:          "8080",
		StoreDriver:   "memory",
		SQLitePath:    "data/builderbuddy.db",
		SnapshotEvery: time.Minute,
		OwnerAddress:  "0xowner",
		OracleAddress: "0xoracle",
		Token: TokenConfig{
			Address:  "0xusdc",
			Symbol:   "USDC",
			Decimals: 6,
		},
		Oracle: OracleConfig{
			Provider:    "mock",
			APIBase:     "https://api.scorer.gitcoin.co",
			MockScore:   100,
			Interval:    5 * time.Second,
			MaxAttempts: 5,
			ScorerID:    reg.ScorerID,
			MinScore:    reg.MinScore,
			GasLimit:    reg.GasLimit,
			DonID:       reg.DonID,
		},
		APIKeys:         map[string]string{},
		RateLimitBurst:  120,
		RateLimitPerSec: 20,
	}
}

// Load reads path (optional) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return v
		}
	}
	return def
}

func applyEnv(cfg *Config) {
	cfg.Port = envDefault("BB_PORT", cfg.Port)
	cfg.StoreDriver = envDefault("BB_STORE_DRIVER", cfg.StoreDriver)
	cfg.PGDSN = envDefault("BB_PG_DSN", cfg.PGDSN)
	cfg.SQLitePath = envDefault("BB_SQLITE_PATH", cfg.SQLitePath)
	cfg.SnapshotEvery = envSeconds("BB_SNAPSHOT_EVERY_SEC", cfg.SnapshotEvery)

	cfg.OwnerAddress = envDefault("BB_OWNER_ADDRESS", cfg.OwnerAddress)
	cfg.OracleAddress = envDefault("BB_ORACLE_ADDRESS", cfg.OracleAddress)
	cfg.OwnerAPIKey = envDefault("BB_OWNER_API_KEY", cfg.OwnerAPIKey)
	cfg.OracleAPIKey = envDefault("BB_ORACLE_API_KEY", cfg.OracleAPIKey)
	cfg.MCPCaller = envDefault("BB_MCP_CALLER", cfg.MCPCaller)
	if raw := os.Getenv("BB_RATE_LIMIT_BURST"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			cfg.RateLimitBurst = v
		}
	}
	if raw := os.Getenv("BB_RATE_LIMIT_PER_SEC"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 {
			cfg.RateLimitPerSec = v
		}
	}

	cfg.Token.Address = envDefault("BB_TOKEN_ADDRESS", cfg.Token.Address)
	cfg.Token.Symbol = envDefault("BB_TOKEN_SYMBOL", cfg.Token.Symbol)
	if raw := os.Getenv("BB_TOKEN_DECIMALS"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 8); err == nil {
			cfg.Token.Decimals = uint8(v)
		}
	}

	cfg.Oracle.Provider = envDefault("BB_ORACLE_PROVIDER", cfg.Oracle.Provider)
	cfg.Oracle.APIBase = envDefault("BB_ORACLE_API_BASE", cfg.Oracle.APIBase)
	cfg.Oracle.APIKey = envDefault("BB_GITCOIN_API_KEY", cfg.Oracle.APIKey)
	cfg.Oracle.MockScore = envUint("BB_ORACLE_MOCK_SCORE", cfg.Oracle.MockScore)
	cfg.Oracle.Interval = envSeconds("BB_ORACLE_INTERVAL_SEC", cfg.Oracle.Interval)
	if raw := os.Getenv("BB_ORACLE_MAX_ATTEMPTS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.Oracle.MaxAttempts = v
		}
	}
	cfg.Oracle.ScorerID = envDefault("BB_SCORER_ID", cfg.Oracle.ScorerID)
	cfg.Oracle.SubscriptionID = envUint("BB_SUBSCRIPTION_ID", cfg.Oracle.SubscriptionID)

	// BB_API_KEYS=key1=0xaddr1,key2=0xaddr2
	if raw := os.Getenv("BB_API_KEYS"); raw != "" {
		if cfg.APIKeys == nil {
			cfg.APIKeys = map[string]string{}
		}
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && k != "" && v != "" {
				cfg.APIKeys[k] = v
			}
		}
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.PGDSN == "" {
			return fmt.Errorf("BB_PG_DSN required when store_driver=postgres")
		}
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	if c.OwnerAddress == "" || c.OracleAddress == "" {
		return fmt.Errorf("owner_address and oracle_address are required")
	}
	if c.Oracle.GasLimit == 0 {
		return fmt.Errorf("oracle gas_limit must be positive")
	}
	if _, err := c.LevelTable(); err != nil {
		return err
	}
	return nil
}

// LevelTable builds the configured table, or the default one.
func (c Config) LevelTable() (marketplace.LevelTable, error) {
	if len(c.Levels.Collateral) == 0 && len(c.Levels.Scores) == 0 {
		return marketplace.DefaultLevelTable(c.Token.Decimals), nil
	}
	unit := uint64(1)
	for i := uint8(0); i < c.Token.Decimals; i++ {
		unit *= 10
	}
	scaled := make([]uint64, len(c.Levels.Collateral))
	for i, v := range c.Levels.Collateral {
		scaled[i] = v * unit
	}
	return marketplace.NewLevelTable(scaled, c.Levels.Scores)
}

// RegistryConfig returns the oracle subscription settings for the registry.
func (c Config) RegistryConfig() marketplace.RegistryConfig {
	return marketplace.RegistryConfig{
		ScorerID:       c.Oracle.ScorerID,
		MinScore:       c.Oracle.MinScore,
		SubscriptionID: c.Oracle.SubscriptionID,
		GasLimit:       c.Oracle.GasLimit,
		DonID:          c.Oracle.DonID,
	}
}
