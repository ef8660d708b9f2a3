package answer

import (
	"fmt"
	"time"

	"github.com/developer-mesh/answercache/pkg/answer/analytics"
	"github.com/developer-mesh/answercache/pkg/answer/analyzer"
	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/answer/cache"
	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/answer/normalize"
	"github.com/developer-mesh/answercache/pkg/answer/ratelimit"
	"github.com/developer-mesh/answercache/pkg/answer/warmup"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// Store drivers
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
)

// Config holds the complete answer cache configuration
type Config struct {
	Normalizer    normalize.Config     `mapstructure:"normalizer"`
	Static        StaticConfig         `mapstructure:"static"`
	Cache         cache.Config         `mapstructure:"cache"`
	RateLimit     ratelimit.Config     `mapstructure:"rate_limit"`
	Analyzer      analyzer.Config      `mapstructure:"analyzer"`
	Warmup        warmup.Config        `mapstructure:"warmup"`
	Analytics     AnalyticsConfig      `mapstructure:"analytics"`
	Store         StoreConfig          `mapstructure:"store"`
	Backend       BackendConfig        `mapstructure:"backend"`
	API           APIConfig            `mapstructure:"api"`
	Observability observability.Config `mapstructure:"observability"`
}

// StaticConfig configures the static answer table
type StaticConfig struct {
	// Threshold overrides the table's acceptance score when positive
	Threshold float64 `mapstructure:"threshold"`
}

// AnalyticsConfig configures the recorder and its rollup schedule
type AnalyticsConfig struct {
	analytics.Config `mapstructure:",squash"`

	RollupInterval   time.Duration `mapstructure:"rollup_interval"`
	TopQuestions     int           `mapstructure:"top_questions"`
}

// StoreConfig selects and configures the persistent key-value store
type StoreConfig struct {
	Driver         string               `mapstructure:"driver"`
	MemoryMaxBytes int64                `mapstructure:"memory_max_bytes"`
	Badger         kvstore.BadgerConfig `mapstructure:"badger"`
	Redis          kvstore.RedisConfig  `mapstructure:"redis"`
	SQL            kvstore.SQLConfig    `mapstructure:"sql"`
}

// BackendConfig configures the generation backend and its resilience layers
type BackendConfig struct {
	OpenAI        backend.OpenAIConfig  `mapstructure:"openai"`
	Retry         backend.RetryConfig   `mapstructure:"retry"`
	Breaker       backend.BreakerConfig `mapstructure:"breaker"`
	PacePerSecond float64               `mapstructure:"pace_per_second"`
	PaceBurst     int                   `mapstructure:"pace_burst"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the product defaults
func DefaultConfig() Config {
	return Config{
		Normalizer: normalize.DefaultConfig(),
		Static:     StaticConfig{Threshold: 0.8},
		Cache:      cache.DefaultConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		Analyzer:   analyzer.DefaultConfig(),
		Warmup:     warmup.DefaultConfig(),
		Analytics: AnalyticsConfig{
			Config:         analytics.DefaultConfig(),
			RollupInterval: time.Hour,
			TopQuestions:   10,
		},
		Store: StoreConfig{
			Driver:         DriverMemory,
			MemoryMaxBytes: 10 * 1024 * 1024,
			Badger:         kvstore.BadgerConfig{Path: "data/answercache"},
			Redis:          kvstore.RedisConfig{Addr: "localhost:6379", KeyPrefix: "answercache:"},
		},
		Backend: BackendConfig{
			OpenAI:        backend.DefaultOpenAIConfig(),
			Retry:         backend.DefaultRetryConfig(),
			Breaker:       backend.DefaultBreakerConfig(),
			PacePerSecond: 5,
			PaceBurst:     5,
		},
		API: APIConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Observability: observability.Config{
			Logging: observability.LoggingConfig{Level: "info", Format: "json"},
			Tracing: observability.TracingConfig{ServiceName: "answercache"},
		},
	}
}

// Validate checks every section
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Static.Threshold < 0 || c.Static.Threshold > 1 {
		return fmt.Errorf("static: threshold must be within [0,1], got %v", c.Static.Threshold)
	}
	if _, ok := c.RateLimit.Tiers[c.RateLimit.Tier]; !ok {
		return fmt.Errorf("rate_limit: %w: %q", ratelimit.ErrUnknownTier, c.RateLimit.Tier)
	}
	for tier, limits := range c.RateLimit.Tiers {
		if limits.RequestsPerMinute <= 0 || limits.RequestsPerDay < 0 || limits.BurstAllowance < 0 {
			return fmt.Errorf("rate_limit: invalid limits for tier %q", tier)
		}
	}
	if err := c.Analyzer.Validate(); err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}
	if err := c.Warmup.Validate(); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	if err := c.Analytics.Config.Validate(); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverBadger:
		if !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
			return fmt.Errorf("store: badger path is required")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store: redis addr is required")
		}
	case DriverSQL:
		if c.Store.SQL.DSN == "" {
			return fmt.Errorf("store: sql dsn is required")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	return nil
}
