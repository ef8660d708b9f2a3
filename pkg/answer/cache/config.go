package cache

import (
	"fmt"
	"time"
)

// Config holds cache limits and persistence settings
type Config struct {
	TTL                  time.Duration `mapstructure:"ttl"`
	MaxEntries           int           `mapstructure:"max_entries"`
	MaxBytes             int64         `mapstructure:"max_bytes"`
	CompressionThreshold int           `mapstructure:"compression_threshold"`
	// EntryOverheadBytes approximates timestamps and counters per entry
	EntryOverheadBytes int `mapstructure:"entry_overhead_bytes"`
	// SchemaVersion is stamped on the persisted cache; a mismatch on Load wipes it
	SchemaVersion int    `mapstructure:"schema_version"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	// QuotaEvictionFraction is the share of entries dropped after a quota failure
	QuotaEvictionFraction float64       `mapstructure:"quota_eviction_fraction"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:                   24 * time.Hour,
		MaxEntries:            100,
		MaxBytes:              5 * 1024 * 1024,
		CompressionThreshold:  1024,
		EntryOverheadBytes:    128,
		SchemaVersion:         1,
		KeyPrefix:             "answercache",
		QuotaEvictionFraction: 0.25,
		SweepInterval:         10 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", c.TTL)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", c.MaxBytes)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold must not be negative, got %d", c.CompressionThreshold)
	}
	if c.QuotaEvictionFraction <= 0 || c.QuotaEvictionFraction > 1 {
		return fmt.Errorf("quota_eviction_fraction must be in (0,1], got %v", c.QuotaEvictionFraction)
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix must not be empty")
	}
	return nil
}
