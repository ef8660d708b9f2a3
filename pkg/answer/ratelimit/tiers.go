package ratelimit

import (
	"fmt"
	"strings"
)

// Tier selects a row of the limit table
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Limits is one row of the tier table. A zero RequestsPerDay means no daily cap.
type Limits struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay    int `mapstructure:"requests_per_day" json:"requests_per_day"`
	BurstAllowance    int `mapstructure:"burst_allowance" json:"burst_allowance"`
}

// MinuteLimit is the effective per-minute limit including burst
func (l Limits) MinuteLimit() int {
	return l.RequestsPerMinute + l.BurstAllowance
}

// DefaultTiers returns the built-in tier table
func DefaultTiers() map[Tier]Limits {
	return map[Tier]Limits{
		TierFree:       {RequestsPerMinute: 10, RequestsPerDay: 100, BurstAllowance: 2},
		TierBasic:      {RequestsPerMinute: 30, RequestsPerDay: 1000, BurstAllowance: 5},
		TierPro:        {RequestsPerMinute: 60, RequestsPerDay: 5000, BurstAllowance: 10},
		TierEnterprise: {RequestsPerMinute: 300, RequestsPerDay: 0, BurstAllowance: 50},
	}
}

// ParseTier validates a tier name
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}
