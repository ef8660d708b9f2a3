package answer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ANSWERCACHE_CACHE_TTL
const EnvPrefix = "ANSWERCACHE"

const rootKey = "answercache"

type fileConfig struct {
	AnswerCache Config `mapstructure:"answercache"`
}

// LoadConfig reads path (optional) and environment overrides on top of the
// defaults
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	return LoadConfigFromViper(v)
}

// LoadConfigFromViper decodes the answercache section of v. Keys missing from
// v keep their defaults.
func LoadConfigFromViper(v *viper.Viper) (Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	fc := fileConfig{AnswerCache: DefaultConfig()}
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := fc.AnswerCache
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers the keys that may be overridden from the environment
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	set := func(key string, value interface{}) {
		v.SetDefault(rootKey+"."+key, value)
	}

	// Cache
	set("cache.ttl", d.Cache.TTL)
	set("cache.max_entries", d.Cache.MaxEntries)
	set("cache.max_bytes", d.Cache.MaxBytes)
	set("cache.compression_threshold", d.Cache.CompressionThreshold)
	set("cache.entry_overhead_bytes", d.Cache.EntryOverheadBytes)
	set("cache.schema_version", d.Cache.SchemaVersion)
	set("cache.key_prefix", d.Cache.KeyPrefix)
	set("cache.quota_eviction_fraction", d.Cache.QuotaEvictionFraction)
	set("cache.sweep_interval", d.Cache.SweepInterval)

	// Normalizer and static table
	set("normalizer.memo_size", d.Normalizer.MemoSize)
	set("normalizer.latency_budget", d.Normalizer.LatencyBudget)
	set("static.threshold", d.Static.Threshold)

	// Rate limiting
	set("rate_limit.tier", string(d.RateLimit.Tier))
	set("rate_limit.minute_window", d.RateLimit.MinuteWindow)
	set("rate_limit.day_window", d.RateLimit.DayWindow)
	set("rate_limit.poll_interval", d.RateLimit.PollInterval)
	set("rate_limit.state_key", d.RateLimit.StateKey)

	// Analyzer and warmup
	set("analyzer.min_confidence", d.Analyzer.MinConfidence)
	set("analyzer.max_questions", d.Analyzer.MaxQuestions)
	set("analyzer.latency_budget", d.Analyzer.LatencyBudget)
	set("warmup.max_questions", d.Warmup.MaxQuestions)
	set("warmup.stagger_delay", d.Warmup.StaggerDelay)
	set("warmup.timeout", d.Warmup.Timeout)

	// Analytics
	set("analytics.cost_per_request", d.Analytics.CostPerRequest)
	set("analytics.max_questions", d.Analytics.MaxQuestions)
	set("analytics.daily_retention", d.Analytics.DailyRetention)
	set("analytics.monthly_retention", d.Analytics.MonthlyRetention)
	set("analytics.ledger_key", d.Analytics.LedgerKey)
	set("analytics.rollup_interval", d.Analytics.RollupInterval)
	set("analytics.top_questions", d.Analytics.TopQuestions)

	// Store
	set("store.driver", d.Store.Driver)
	set("store.memory_max_bytes", d.Store.MemoryMaxBytes)
	set("store.badger.path", d.Store.Badger.Path)
	set("store.badger.in_memory", d.Store.Badger.InMemory)
	set("store.badger.sync_writes", d.Store.Badger.SyncWrites)
	set("store.badger.max_bytes", d.Store.Badger.MaxBytes)
	set("store.redis.addr", d.Store.Redis.Addr)
	set("store.redis.password", d.Store.Redis.Password)
	set("store.redis.db", d.Store.Redis.DB)
	set("store.redis.key_prefix", d.Store.Redis.KeyPrefix)
	set("store.sql.dsn", d.Store.SQL.DSN)

	// Backend
	set("backend.openai.api_key", d.Backend.OpenAI.APIKey)
	set("backend.openai.base_url", d.Backend.OpenAI.BaseURL)
	set("backend.openai.model", d.Backend.OpenAI.Model)
	set("backend.openai.max_tokens", d.Backend.OpenAI.MaxTokens)
	set("backend.openai.temperature", d.Backend.OpenAI.Temperature)
	set("backend.openai.timeout", d.Backend.OpenAI.Timeout)
	set("backend.retry.max_attempts", d.Backend.Retry.MaxAttempts)
	set("backend.retry.initial_interval", d.Backend.Retry.InitialInterval)
	set("backend.retry.max_interval", d.Backend.Retry.MaxInterval)
	set("backend.breaker.timeout", d.Backend.Breaker.Timeout)
	set("backend.breaker.failure_ratio", d.Backend.Breaker.FailureRatio)
	set("backend.pace_per_second", d.Backend.PacePerSecond)
	set("backend.pace_burst", d.Backend.PaceBurst)

	// API and observability
	set("api.listen_address", d.API.ListenAddress)
	set("api.read_timeout", d.API.ReadTimeout)
	set("api.write_timeout", d.API.WriteTimeout)
	set("api.shutdown_timeout", d.API.ShutdownTimeout)
	set("observability.logging.level", d.Observability.Logging.Level)
	set("observability.logging.format", d.Observability.Logging.Format)
	set("observability.tracing.enabled", d.Observability.Tracing.Enabled)
	set("observability.tracing.service_name", d.Observability.Tracing.ServiceName)
	set("observability.tracing.environment", d.Observability.Tracing.Environment)
	set("observability.tracing.endpoint", d.Observability.Tracing.Endpoint)
	set("observability.tracing.sample_ratio", d.Observability.Tracing.SampleRatio)
}
