package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/observability"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithLogger(observability.NewNoopLogger())}, opts...)
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	return l
}

func TestTiers(t *testing.T) {
	tiers := DefaultTiers()
	require.Len(t, tiers, 4)
	assert.Equal(t, 12, tiers[TierFree].MinuteLimit())
	assert.Zero(t, tiers[TierEnterprise].RequestsPerDay)

	tier, err := ParseTier(" Pro ")
	require.NoError(t, err)
	assert.Equal(t, TierPro, tier)

	_, err = ParseTier("platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = New(Config{Tier: "platinum"})
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestLimiter_MinuteWindow(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]Limits{TierFree: {RequestsPerMinute: 3, RequestsPerDay: 100, BurstAllowance: 1}}
	l := newTestLimiter(t, cfg, clock)

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Acquire(), "acquire %d", i)
		clock.Advance(time.Second)
	}

	err := l.Acquire()
	le, ok := IsLimitError(err)
	require.True(t, ok, "expected *LimitError, got %v", err)
	assert.Equal(t, ScopeMinute, le.Scope)
	assert.Equal(t, 4, le.Limit)
	assert.LessOrEqual(t, le.RetryAfter, time.Minute)
	assert.Equal(t, 56*time.Second, le.RetryAfter)

	// Rejections are not counted
	assert.Equal(t, 0, l.Info().Remaining)
	clock.Advance(le.RetryAfter)
	require.NoError(t, l.Acquire())
	assert.Equal(t, 3, l.Info().Remaining)
}

func TestLimiter_RetryAfterRoundsUpToSeconds(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]Limits{TierFree: {RequestsPerMinute: 1}}
	l := newTestLimiter(t, cfg, clock)

	require.NoError(t, l.Acquire())
	clock.Advance(1500 * time.Millisecond)
	err := l.CheckLimit()
	le, ok := IsLimitError(err)
	require.True(t, ok)
	assert.Equal(t, 59*time.Second, le.RetryAfter)
}

func TestLimiter_DailyCheckedFirst(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]Limits{TierFree: {RequestsPerMinute: 2, RequestsPerDay: 2}}
	l := newTestLimiter(t, cfg, clock)

	require.NoError(t, l.Acquire())
	require.NoError(t, l.Acquire())

	// Both windows are exhausted; the daily one is reported
	err := l.Acquire()
	le, ok := IsLimitError(err)
	require.True(t, ok)
	assert.Equal(t, ScopeDaily, le.Scope)
	assert.Equal(t, 24*time.Hour, le.RetryAfter)

	// The minute window resets but the daily one does not
	clock.Advance(time.Minute)
	err = l.Acquire()
	le, ok = IsLimitError(err)
	require.True(t, ok)
	assert.Equal(t, ScopeDaily, le.Scope)
	assert.Equal(t, 23*time.Hour+59*time.Minute, le.RetryAfter)

	clock.Advance(24 * time.Hour)
	assert.NoError(t, l.Acquire())
}

func TestLimiter_EnterpriseHasNoDailyCap(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Tier = TierEnterprise
	l := newTestLimiter(t, cfg, clock)

	info := l.Info()
	assert.Equal(t, TierEnterprise, info.Tier)
	assert.Equal(t, 350, info.Limit)
	assert.Nil(t, info.DailyRemaining)
	assert.Nil(t, info.DailyResetIn)

	for i := 0; i < 350; i++ {
		require.NoError(t, l.Acquire())
	}
	le, ok := IsLimitError(l.Acquire())
	require.True(t, ok)
	assert.Equal(t, ScopeMinute, le.Scope)
}

func TestLimiter_Info(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, DefaultConfig(), clock)

	require.NoError(t, l.Acquire())
	clock.Advance(10 * time.Second)

	info := l.Info()
	assert.Equal(t, TierFree, info.Tier)
	assert.Equal(t, 12, info.Limit)
	assert.Equal(t, 11, info.Remaining)
	assert.Equal(t, 50*time.Second, info.ResetIn)
	assert.Equal(t, 100, info.DailyLimit)
	require.NotNil(t, info.DailyRemaining)
	assert.Equal(t, 99, *info.DailyRemaining)
	require.NotNil(t, info.DailyResetIn)
	assert.Equal(t, 24*time.Hour-10*time.Second, *info.DailyResetIn)
}

func TestLimiter_SetTierKeepsCounters(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]Limits{
		TierFree: {RequestsPerMinute: 1},
		TierPro:  {RequestsPerMinute: 3},
	}
	l := newTestLimiter(t, cfg, clock)

	require.NoError(t, l.Acquire())
	_, limited := IsLimitError(l.Acquire())
	require.True(t, limited)

	require.NoError(t, l.SetTier(TierPro))
	assert.Equal(t, TierPro, l.Tier())
	assert.Equal(t, 2, l.Info().Remaining)
	require.NoError(t, l.Acquire())

	assert.ErrorIs(t, l.SetTier(TierEnterprise), ErrUnknownTier)
}

func TestLimiter_WaitForAvailability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]Limits{TierFree: {RequestsPerMinute: 1}}
	cfg.MinuteWindow = 50 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond

	t.Run("returns once the window resets", func(t *testing.T) {
		l, err := New(cfg, WithLogger(observability.NewNoopLogger()))
		require.NoError(t, err)
		require.NoError(t, l.Acquire())

		start := time.Now()
		require.NoError(t, l.WaitForAvailability(context.Background(), time.Second))
		assert.Less(t, time.Since(start), time.Second)
		assert.NoError(t, l.Acquire())
	})

	t.Run("times out with a distinct error", func(t *testing.T) {
		slow := cfg
		slow.MinuteWindow = time.Hour
		l, err := New(slow, WithLogger(observability.NewNoopLogger()))
		require.NoError(t, err)
		require.NoError(t, l.Acquire())

		err = l.WaitForAvailability(context.Background(), 20*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWaitTimeout)
		_, isLimit := IsLimitError(err)
		assert.False(t, isLimit)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		slow := cfg
		slow.MinuteWindow = time.Hour
		l, err := New(slow, WithLogger(observability.NewNoopLogger()))
		require.NoError(t, err)
		require.NoError(t, l.Acquire())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = l.WaitForAvailability(ctx, time.Second)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestLimiter_Concurrent(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]Limits{TierFree: {RequestsPerMinute: 20, RequestsPerDay: 1000}}
	l := newTestLimiter(t, cfg, clock)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire() == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, allowed)
}

func TestLimiter_SaveLoad(t *testing.T) {
	clock := newFakeClock()
	store := kvstore.NewMemory(0)
	ctx := context.Background()
	cfg := DefaultConfig()

	first := newTestLimiter(t, cfg, clock, WithStore(store))
	for i := 0; i < 5; i++ {
		require.NoError(t, first.Acquire())
	}
	require.NoError(t, first.Save(ctx))

	clock.Advance(30 * time.Second)
	second := newTestLimiter(t, cfg, clock, WithStore(store))
	require.NoError(t, second.Load(ctx))
	info := second.Info()
	assert.Equal(t, 7, info.Remaining)
	assert.Equal(t, 30*time.Second, info.ResetIn)
	assert.Equal(t, 95, *info.DailyRemaining)

	// Saved windows that have since elapsed are reset on load
	clock.Advance(time.Minute)
	third := newTestLimiter(t, cfg, clock, WithStore(store))
	require.NoError(t, third.Load(ctx))
	assert.Equal(t, 12, third.Info().Remaining)
	assert.Equal(t, 95, *third.Info().DailyRemaining)

	// No saved state is not an error
	fresh := newTestLimiter(t, cfg, clock, WithStore(kvstore.NewMemory(0)))
	assert.NoError(t, fresh.Load(ctx))
}
