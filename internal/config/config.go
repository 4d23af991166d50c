package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. PERPS_SERVER_PORT
const EnvPrefix = "PERPS"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Subgraph SubgraphConfig `mapstructure:"subgraph"`
	Prices   PricesConfig   `mapstructure:"prices"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// StreamPingInterval is the keepalive period of snapshot stream clients
	StreamPingInterval time.Duration `mapstructure:"stream_ping_interval"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL disables
// bar and fee ledger persistence.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig holds the last known price store configuration. An empty
// address keeps the store in memory.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PoolConfig describes a Uniswap-V3 pool used as a price source
type PoolConfig struct {
	Asset          string `mapstructure:"asset"`
	Address        string `mapstructure:"address"`
	Token0Decimals int32  `mapstructure:"token0_decimals"`
	Token1Decimals int32  `mapstructure:"token1_decimals"`
	AssetIsToken1  bool   `mapstructure:"asset_is_token1"`
}

// ChainConfig holds the RPC endpoints and contract addresses
type ChainConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	ChainID int64  `mapstructure:"chain_id"`
	// SecondaryRPCURL serves the governance token deployment on the
	// second chain; empty leaves its supply unknown
	SecondaryRPCURL string `mapstructure:"secondary_rpc_url"`

	Vault       string `mapstructure:"vault"`
	PoolManager string `mapstructure:"pool_manager"`
	Reader      string `mapstructure:"reader"`

	GovToken               string   `mapstructure:"gov_token"`
	SecondaryGovToken      string   `mapstructure:"secondary_gov_token"`
	IndexToken             string   `mapstructure:"index_token"`
	StakingPool            string   `mapstructure:"staking_pool"`
	RewardDistributor      string   `mapstructure:"reward_distributor"`
	RewardDecimals         int32    `mapstructure:"reward_decimals"`
	LiquidityPrimaryPool   string   `mapstructure:"liquidity_primary_pool"`
	LiquiditySecondaryPool string   `mapstructure:"liquidity_secondary_pool"`
	NonCirculatingHolders  []string `mapstructure:"non_circulating_holders"`

	Tokens []domain.TokenConfig `mapstructure:"tokens"`
	Pools  []PoolConfig         `mapstructure:"pools"`
	// DefaultMaxUsdg is the capacity in whole USDG shown for tokens
	// without a configured cap
	DefaultMaxUsdg int64 `mapstructure:"default_max_usdg"`

	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// StatsConfig holds the stats server configuration
type StatsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SubgraphConfig holds the GraphQL indexer configuration
type SubgraphConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// Tokens maps chart base symbols to indexed token addresses
	Tokens map[string]string `mapstructure:"tokens"`
	// LedgerFallback serves persisted settled fee periods while the
	// indexer is down
	LedgerFallback bool `mapstructure:"ledger_fallback"`
}

// PricesConfig holds the reconciliation rules
type PricesConfig struct {
	Sources      []string          `mapstructure:"sources"`
	Primary      map[string]string `mapstructure:"primary"`
	Assets       []string          `mapstructure:"assets"`
	VaultSource  string            `mapstructure:"vault_source"`
	GovAsset     string            `mapstructure:"gov_asset"`
	RewardAsset  string            `mapstructure:"reward_asset"`
	IndexAsset   string            `mapstructure:"index_asset"`
	LastKnownTTL time.Duration     `mapstructure:"last_known_ttl"`
	Exchange     ExchangeConfig    `mapstructure:"exchange"`
}

// ExchangeConfig holds the exchange ticker price source. It is enabled when
// at least one symbol is mapped.
type ExchangeConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	SourceID string `mapstructure:"source_id"`
	// Symbols maps assets to exchange pairs, e.g. gov: GOVUSDT
	Symbols      map[string]string `mapstructure:"symbols"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
	RetryBackoff time.Duration     `mapstructure:"retry_backoff"`
}

// PollerConfig holds refresh polling configuration
type PollerConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	RetentionDays      int           `mapstructure:"retention_days"`
	MaxConcurrentReads int           `mapstructure:"max_concurrent_reads"`
	HistoryLimit       int           `mapstructure:"history_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"port":       "server.port",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"rpc":        "chain.rpc_url",
	"db":         "database.url",
	"redis":      "redis.addr",
	"interval":   "poller.interval",
}

// Load merges the config file, environment variables and flags into Config.
// cfgFile may be empty, in which case ./config.yaml is read when present.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	for i := range cfg.Chain.Tokens {
		cfg.Chain.Tokens[i].Address = strings.ToLower(cfg.Chain.Tokens[i].Address)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.stream_ping_interval", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "perps:last_known")

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 42161)
	v.SetDefault("chain.secondary_rpc_url", "")
	v.SetDefault("chain.vault", "")
	v.SetDefault("chain.pool_manager", "")
	v.SetDefault("chain.reader", "")
	v.SetDefault("chain.gov_token", "")
	v.SetDefault("chain.secondary_gov_token", "")
	v.SetDefault("chain.index_token", "")
	v.SetDefault("chain.staking_pool", "")
	v.SetDefault("chain.reward_distributor", "")
	v.SetDefault("chain.reward_decimals", 18)
	v.SetDefault("chain.liquidity_primary_pool", "")
	v.SetDefault("chain.liquidity_secondary_pool", "")
	v.SetDefault("chain.non_circulating_holders", []string{})
	v.SetDefault("chain.default_max_usdg", 200_000_000)
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("chain.retry_backoff", 250*time.Millisecond)

	v.SetDefault("stats.base_url", "")
	v.SetDefault("stats.timeout", 10*time.Second)
	v.SetDefault("stats.max_retries", 3)
	v.SetDefault("stats.retry_backoff", 200*time.Millisecond)

	v.SetDefault("subgraph.url", "")
	v.SetDefault("subgraph.timeout", 15*time.Second)
	v.SetDefault("subgraph.max_retries", 3)
	v.SetDefault("subgraph.retry_backoff", 300*time.Millisecond)
	v.SetDefault("subgraph.ledger_fallback", false)

	v.SetDefault("prices.sources", []string{"vault"})
	v.SetDefault("prices.assets", []string{"GOV"})
	v.SetDefault("prices.vault_source", "vault")
	v.SetDefault("prices.gov_asset", "GOV")
	v.SetDefault("prices.reward_asset", "ETH")
	v.SetDefault("prices.index_asset", "MLP")
	v.SetDefault("prices.last_known_ttl", time.Duration(0))
	v.SetDefault("prices.exchange.base_url", "https://api.binance.com")
	v.SetDefault("prices.exchange.source_id", "exchange")
	v.SetDefault("prices.exchange.timeout", 10*time.Second)
	v.SetDefault("prices.exchange.max_retries", 3)
	v.SetDefault("prices.exchange.retry_backoff", 200*time.Millisecond)

	v.SetDefault("poller.interval", 30*time.Second)
	v.SetDefault("poller.retention_days", 30)
	v.SetDefault("poller.max_concurrent_reads", 8)
	v.SetDefault("poller.history_limit", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate ensures configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain RPC URL is required")
	}

	if !common.IsHexAddress(c.Chain.Vault) {
		return fmt.Errorf("invalid vault address: %q", c.Chain.Vault)
	}

	for name, addr := range map[string]string{
		"pool manager":               c.Chain.PoolManager,
		"reader":                     c.Chain.Reader,
		"governance token":           c.Chain.GovToken,
		"secondary governance token": c.Chain.SecondaryGovToken,
		"index token":                c.Chain.IndexToken,
		"staking pool":               c.Chain.StakingPool,
		"reward distributor":         c.Chain.RewardDistributor,
		"primary liquidity pool":     c.Chain.LiquidityPrimaryPool,
		"secondary liquidity pool":   c.Chain.LiquiditySecondaryPool,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %q", name, addr)
		}
	}

	for _, token := range c.Chain.Tokens {
		if token.Symbol == "" {
			return fmt.Errorf("token %s has no symbol", token.Address)
		}
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("invalid address for token %s: %q", token.Symbol, token.Address)
		}
		if token.Decimals < 0 || token.Decimals > 36 {
			return fmt.Errorf("invalid decimals for token %s: %d", token.Symbol, token.Decimals)
		}
	}

	if c.Chain.DefaultMaxUsdg < 0 {
		return fmt.Errorf("default max USDG must not be negative")
	}

	for _, pool := range c.Chain.Pools {
		if pool.Asset == "" || !common.IsHexAddress(pool.Address) {
			return fmt.Errorf("invalid price pool %q for asset %q", pool.Address, pool.Asset)
		}
	}

	if len(c.Prices.Sources) == 0 {
		return fmt.Errorf("at least one price source is required")
	}

	sources := make(map[string]bool, len(c.Prices.Sources))
	for _, s := range c.Prices.Sources {
		sources[s] = true
	}
	for asset, primary := range c.Prices.Primary {
		if !sources[primary] {
			return fmt.Errorf("primary source %q of %s is not configured", primary, asset)
		}
	}

	if len(c.Prices.Exchange.Symbols) > 0 && !sources[c.Prices.Exchange.SourceID] {
		return fmt.Errorf("exchange source %q is not configured", c.Prices.Exchange.SourceID)
	}

	if c.Prices.LastKnownTTL < 0 {
		return fmt.Errorf("last known TTL must not be negative")
	}

	if c.Poller.Interval < 5*time.Second {
		return fmt.Errorf("poller interval must be at least 5 seconds")
	}

	if c.Poller.Interval > 24*time.Hour {
		return fmt.Errorf("poller interval must be less than 24 hours")
	}

	if c.Poller.RetentionDays < 1 {
		return fmt.Errorf("retention must be at least one day")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// SourceIDs returns the configured price sources in order
func (c PricesConfig) SourceIDs() []domain.SourceID {
	out := make([]domain.SourceID, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, domain.SourceID(s))
	}
	return out
}

// PrimaryIDs returns the canonical source per asset
func (c PricesConfig) PrimaryIDs() map[string]domain.SourceID {
	out := make(map[string]domain.SourceID, len(c.Primary))
	for asset, s := range c.Primary {
		out[strings.ToUpper(asset)] = domain.SourceID(s)
	}
	return out
}
