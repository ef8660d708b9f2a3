// Package ratelimit gates outbound generation calls with two fixed windows,
// one per minute and one per day, sized by subscription tier.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/observability"
)

var rejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "answercache",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Calls rejected by the rate limiter by window scope",
	},
	[]string{"scope"},
)

// Config configures a Limiter
type Config struct {
	Tier         Tier            `mapstructure:"tier"`
	Tiers        map[Tier]Limits `mapstructure:"tiers"`
	MinuteWindow time.Duration   `mapstructure:"minute_window"`
	DayWindow    time.Duration   `mapstructure:"day_window"`
	PollInterval time.Duration   `mapstructure:"poll_interval"`
	StateKey     string          `mapstructure:"state_key"`
}

// DefaultConfig returns the default limiter configuration
func DefaultConfig() Config {
	return Config{
		Tier:         TierFree,
		Tiers:        DefaultTiers(),
		MinuteWindow: time.Minute,
		DayWindow:    24 * time.Hour,
		PollInterval: time.Second,
		StateKey:     "ratelimit:windows",
	}
}

// Window is a fixed counting window
type Window struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Info reports current quota
type Info struct {
	Tier           Tier           `json:"tier"`
	Limit          int            `json:"limit"`
	Remaining      int            `json:"remaining"`
	ResetIn        time.Duration  `json:"reset_in"`
	DailyLimit     int            `json:"daily_limit,omitempty"`
	DailyRemaining *int           `json:"daily_remaining,omitempty"`
	DailyResetIn   *time.Duration `json:"daily_reset_in,omitempty"`
}

type snapshot struct {
	Tier   Tier   `json:"tier"`
	Minute Window `json:"minute"`
	Day    Window `json:"day"`
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithStore enables Save and Load
func WithStore(store kvstore.Store) Option {
	return func(l *Limiter) { l.store = store }
}

// Limiter counts calls in a minute window and a day window
type Limiter struct {
	cfg    Config
	now    func() time.Time
	logger observability.Logger
	store  kvstore.Store

	mu     sync.Mutex
	tier   Tier
	limits Limits
	minute Window
	day    Window
}

// New creates a limiter with both windows starting now
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.Tier == "" {
		cfg.Tier = TierFree
	}
	if cfg.MinuteWindow <= 0 {
		cfg.MinuteWindow = time.Minute
	}
	if cfg.DayWindow <= 0 {
		cfg.DayWindow = 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StateKey == "" {
		cfg.StateKey = "ratelimit:windows"
	}
	limits, ok := cfg.Tiers[cfg.Tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, cfg.Tier)
	}

	l := &Limiter{cfg: cfg, now: time.Now, tier: cfg.Tier, limits: limits}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = observability.NewLogger("answer.ratelimit")
	}
	now := l.now()
	l.minute = Window{Start: now}
	l.day = Window{Start: now}
	return l, nil
}

// CheckLimit returns a *LimitError if a call now would exceed either window.
// The daily window is checked first.
func (l *Limiter) CheckLimit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(l.now())
}

// Acquire checks both windows and, if allowed, counts the call
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if err := l.checkLocked(now); err != nil {
		return err
	}
	l.minute.Count++
	l.day.Count++
	return nil
}

func (l *Limiter) checkLocked(now time.Time) error {
	l.rollLocked(now)

	if daily := l.limits.RequestsPerDay; daily > 0 && l.day.Count >= daily {
		rejections.WithLabelValues(string(ScopeDaily)).Inc()
		return &LimitError{
			Scope:      ScopeDaily,
			RetryAfter: retryAfter(l.day.Start.Add(l.cfg.DayWindow).Sub(now), time.Minute, l.cfg.DayWindow),
			Limit:      daily,
		}
	}
	if limit := l.limits.MinuteLimit(); l.minute.Count >= limit {
		rejections.WithLabelValues(string(ScopeMinute)).Inc()
		return &LimitError{
			Scope:      ScopeMinute,
			RetryAfter: retryAfter(l.minute.Start.Add(l.cfg.MinuteWindow).Sub(now), time.Second, l.cfg.MinuteWindow),
			Limit:      limit,
		}
	}
	return nil
}

// rollLocked resets each window once its length has elapsed
func (l *Limiter) rollLocked(now time.Time) {
	if now.Sub(l.minute.Start) >= l.cfg.MinuteWindow {
		l.minute = Window{Start: now}
	}
	if now.Sub(l.day.Start) >= l.cfg.DayWindow {
		l.day = Window{Start: now}
	}
}

// retryAfter rounds d up to unit without exceeding the window length
func retryAfter(d, unit, window time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	rounded := ((d + unit - 1) / unit) * unit
	if rounded > window {
		return window
	}
	return rounded
}

// Info returns remaining quota for both windows
func (l *Limiter) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollLocked(now)

	limit := l.limits.MinuteLimit()
	info := Info{
		Tier:      l.tier,
		Limit:     limit,
		Remaining: max(limit-l.minute.Count, 0),
		ResetIn:   l.minute.Start.Add(l.cfg.MinuteWindow).Sub(now),
	}
	if daily := l.limits.RequestsPerDay; daily > 0 {
		remaining := max(daily-l.day.Count, 0)
		resetIn := l.day.Start.Add(l.cfg.DayWindow).Sub(now)
		info.DailyLimit = daily
		info.DailyRemaining = &remaining
		info.DailyResetIn = &resetIn
	}
	return info
}

// SetTier swaps the active limits without resetting counters
func (l *Limiter) SetTier(t Tier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	limits, ok := l.cfg.Tiers[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	l.logger.Info("Rate limit tier changed", map[string]interface{}{
		"from": string(l.tier),
		"to":   string(t),
	})
	l.tier = t
	l.limits = limits
	return nil
}

// Tier returns the active tier
func (l *Limiter) Tier() Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tier
}

// WaitForAvailability blocks until a call would be allowed. It returns
// ErrWaitTimeout once maxWait elapses and ctx.Err() if ctx ends first. It does
// not count a call; follow it with Acquire.
func (l *Limiter) WaitForAvailability(ctx context.Context, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)
	for {
		err := l.CheckLimit()
		if err == nil {
			return nil
		}
		le, ok := IsLimitError(err)
		if !ok {
			return err
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return fmt.Errorf("%w after %s (%s window)", ErrWaitTimeout, maxWait, le.Scope)
		}
		wait := min(le.RetryAfter, l.cfg.PollInterval, remaining)
		if wait <= 0 {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Save persists the windows so a restart inside a window keeps its count
func (l *Limiter) Save(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	snap := snapshot{Tier: l.tier, Minute: l.minute, Day: l.day}
	l.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode rate limit state: %w", err)
	}
	if err := l.store.Set(ctx, l.cfg.StateKey, string(data)); err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}
	return nil
}

// Load restores windows saved by Save. The configured tier wins over the
// saved one; counters are kept.
func (l *Limiter) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	raw, err := l.store.Get(ctx, l.cfg.StateKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load rate limit state: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return fmt.Errorf("decode rate limit state: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.minute = snap.Minute
	l.day = snap.Day
	l.rollLocked(l.now())
	return nil
}
