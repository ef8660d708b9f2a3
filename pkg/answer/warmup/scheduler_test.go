package warmup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/answercache/pkg/answer/analytics"
	"github.com/developer-mesh/answercache/pkg/answer/analyzer"
	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/answer/cache"
	"github.com/developer-mesh/answercache/pkg/answer/normalize"
	"github.com/developer-mesh/answercache/pkg/answer/ratelimit"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// memCache records every write
type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	writes  []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func memKey(subjectID, q string) string { return subjectID + "|" + normalize.Clean(q) }

func (m *memCache) Covered(subjectID, q string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[memKey(subjectID, q)]
	return ok
}

func (m *memCache) Set(_ context.Context, subjectID, q string, a *cache.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey(subjectID, q)] = a.Content
	m.writes = append(m.writes, q)
	return nil
}

func (m *memCache) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func echo() backend.Generator {
	return backend.GeneratorFunc(func(_ context.Context, req backend.Request) (*backend.Generation, error) {
		return &backend.Generation{Content: "answer to " + req.Question, Model: "test"}, nil
	})
}

func newLimiter(t *testing.T, perMinute int) *ratelimit.Limiter {
	t.Helper()
	cfg := ratelimit.DefaultConfig()
	cfg.Tiers = map[ratelimit.Tier]ratelimit.Limits{ratelimit.TierFree: {RequestsPerMinute: perMinute}}
	l, err := ratelimit.New(cfg, ratelimit.WithLogger(observability.NewNoopLogger()))
	require.NoError(t, err)
	return l
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StaggerDelay = time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestScheduler(t *testing.T, deps Deps, cfg Config) *Scheduler {
	t.Helper()
	if deps.Limiter == nil {
		deps.Limiter = newLimiter(t, 1000)
	}
	if deps.Generator == nil {
		deps.Generator = echo()
	}
	deps.Logger = observability.NewNoopLogger()
	s, err := New(deps, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func wait(t *testing.T, s *Scheduler, subjectID string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Wait(ctx, subjectID)
	require.NoError(t, err)
	return st
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Timeout = 0
	_, err = New(Deps{Cache: newMemCache(), Limiter: newLimiter(t, 1), Generator: echo()}, cfg)
	assert.Error(t, err)
}

func TestWarmup_ExplicitQuestions(t *testing.T) {
	c := newMemCache()
	s := newTestScheduler(t, Deps{Cache: c}, testConfig())

	_, err := s.Warmup(Request{})
	assert.ErrorIs(t, err, ErrNoSubject)

	id, err := s.Warmup(Request{SubjectID: "r1", Questions: []string{"Pot adăuga nuci?", "pot adauga NUCI", "Pot pune stafide?"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st := wait(t, s, "r1")
	assert.Equal(t, id, st.JobID)
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, "request", st.Source)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Processed)
	assert.Equal(t, 2, st.Warmed)
	assert.False(t, st.FinishedAt.IsZero())
	assert.ElementsMatch(t, []string{"Pot adăuga nuci?", "Pot pune stafide?"}, c.written())
	assert.Zero(t, s.Active())
}

func TestWarmup_SkipsCoveredQuestions(t *testing.T) {
	c := newMemCache()
	require.NoError(t, c.Set(context.Background(), "r1", "Pot adăuga nuci?", &cache.Answer{Content: "da"}))
	s := newTestScheduler(t, Deps{Cache: c}, testConfig())

	_, err := s.Warmup(Request{SubjectID: "r1", Questions: []string{"Pot adăuga nuci?", "Pot pune stafide?"}})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Warmed)
}

func TestWarmup_SkipsAnswerCachedDuringGeneration(t *testing.T) {
	c := newMemCache()
	gen := backend.GeneratorFunc(func(ctx context.Context, req backend.Request) (*backend.Generation, error) {
		// a foreground answer lands while the backend call is running
		_ = c.Set(ctx, req.SubjectID, req.Question, &cache.Answer{Content: "foreground"})
		return &backend.Generation{Content: "warm"}, nil
	})
	s := newTestScheduler(t, Deps{Cache: c, Generator: gen}, testConfig())

	_, err := s.Warmup(Request{SubjectID: "r1", Questions: []string{"Pot adăuga nuci?"}})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Skipped)
	assert.Zero(t, st.Warmed)
	assert.Len(t, c.written(), 1)
}

func TestWarmup_UsesInjectedClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newMemCache()
	s := newTestScheduler(t, Deps{Cache: c, Clock: func() time.Time { return at }}, testConfig())

	_, err := s.Warmup(Request{SubjectID: "r1", Questions: []string{"Pot adăuga nuci?"}})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, at, st.StartedAt)
	assert.Equal(t, at, st.FinishedAt)
}

func TestWarmup_QuestionSources(t *testing.T) {
	a, err := analyzer.New(analyzer.DefaultConfig(), analyzer.WithLogger(observability.NewNoopLogger()))
	require.NoError(t, err)
	content := &analyzer.Content{
		Title:       "Tartă cu mere",
		Ingredients: []string{"100 g unt", "1 cup zahăr"},
		Steps:       []string{"Coace la 180°C timp de 35 de minute."},
	}
	popular := popularStub{{Question: "Pot folosi mere verzi?"}, {Question: "Se poate congela?"}}

	tests := []struct {
		name    string
		deps    Deps
		content *analyzer.Content
		source  string
		total   int
	}{
		{"analyzer", Deps{Analyzer: a, Popular: popular}, content, "analyzer", 4},
		{"analytics when content is absent", Deps{Analyzer: a, Popular: popular}, nil, "analytics", 2},
		{"analytics when nothing is predicted", Deps{Analyzer: a, Popular: popular}, &analyzer.Content{Title: "Salată"}, "analytics", 2},
		{"defaults", Deps{Analyzer: a}, nil, "defaults", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.deps.Cache = newMemCache()
			s := newTestScheduler(t, tt.deps, testConfig())
			_, err := s.Warmup(Request{SubjectID: "r1", Content: tt.content})
			require.NoError(t, err)
			st := wait(t, s, "r1")
			assert.Equal(t, StateCompleted, st.State)
			assert.Equal(t, tt.source, st.Source)
			assert.Equal(t, tt.total, st.Total)
			assert.Equal(t, tt.total, st.Warmed)
		})
	}
}

type popularStub []analytics.TopQuestion

func (p popularStub) GetTopQuestions(limit int) []analytics.TopQuestion {
	if len(p) > limit {
		return p[:limit]
	}
	return p
}

func TestWarmup_RequestConfigOverride(t *testing.T) {
	c := newMemCache()
	s := newTestScheduler(t, Deps{Cache: c}, testConfig())

	_, err := s.Warmup(Request{SubjectID: "r1", Config: &Config{MaxQuestions: 2}})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, 2, st.Total)
	assert.Len(t, c.written(), 2)
}

func TestWarmup_RateLimitAborts(t *testing.T) {
	c := newMemCache()
	cfg := testConfig()
	cfg.StaggerDelay = 20 * time.Millisecond
	s := newTestScheduler(t, Deps{Cache: c, Limiter: newLimiter(t, 2)}, cfg)

	_, err := s.Warmup(Request{SubjectID: "r1"})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Error, "rate limit exceeded")
	assert.LessOrEqual(t, len(c.written()), 2)
	assert.Less(t, st.Processed, 5)
}

func TestWarmup_SwallowsIndividualFailures(t *testing.T) {
	c := newMemCache()
	gen := backend.GeneratorFunc(func(_ context.Context, req backend.Request) (*backend.Generation, error) {
		switch req.Question {
		case "bad":
			return nil, &backend.Error{Kind: backend.KindServer, Err: errors.New("boom")}
		case "worse":
			panic("generator exploded")
		}
		return &backend.Generation{Content: "ok"}, nil
	})
	s := newTestScheduler(t, Deps{Cache: c, Generator: gen}, testConfig())

	_, err := s.Warmup(Request{SubjectID: "r1", Questions: []string{"good", "bad", "worse", "fine"}})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 4, st.Processed)
	assert.Equal(t, 2, st.Warmed)
	assert.Equal(t, 2, st.Failed)
}

// blocking generators wait for release or cancellation
func blocking(release <-chan struct{}) backend.Generator {
	return backend.GeneratorFunc(func(ctx context.Context, req backend.Request) (*backend.Generation, error) {
		select {
		case <-release:
			return &backend.Generation{Content: "late"}, nil
		case <-ctx.Done():
			return nil, &backend.Error{Kind: backend.KindTimeout, Err: ctx.Err()}
		}
	})
}

func TestWarmup_Timeout(t *testing.T) {
	c := newMemCache()
	cfg := testConfig()
	cfg.Timeout = 30 * time.Millisecond
	s := newTestScheduler(t, Deps{Cache: c, Generator: blocking(make(chan struct{}))}, cfg)

	_, err := s.Warmup(Request{SubjectID: "r1"})
	require.NoError(t, err)
	st := wait(t, s, "r1")
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, ErrTimeout.Error(), st.Error)
	assert.Empty(t, c.written())
}

func TestWarmup_Cancel(t *testing.T) {
	c := newMemCache()
	release := make(chan struct{})
	s := newTestScheduler(t, Deps{Cache: c, Generator: blocking(release)}, testConfig())

	assert.False(t, s.Cancel("r1"))
	_, err := s.Warmup(Request{SubjectID: "r1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := s.Status("r1")
		return ok && st.State == StateWarming
	}, time.Second, time.Millisecond)

	assert.True(t, s.Cancel("r1"))
	close(release)
	st := wait(t, s, "r1")
	assert.Equal(t, StateCancelled, st.State)
	assert.Empty(t, c.written())
}

func TestWarmup_SingleJobPerSubject(t *testing.T) {
	c := newMemCache()
	cfg := testConfig()
	cfg.StaggerDelay = 30 * time.Millisecond
	s := newTestScheduler(t, Deps{Cache: c}, cfg)

	first := make([]string, 5)
	for i := range first {
		first[i] = fmt.Sprintf("first %d", i)
	}
	firstID, err := s.Warmup(Request{SubjectID: "r1", Questions: first})
	require.NoError(t, err)

	secondID, err := s.Warmup(Request{SubjectID: "r1", Questions: []string{"second 0", "second 1"}})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, 1, s.Active())

	countFirst := func() int {
		n := 0
		for _, q := range c.written() {
			if q[:5] == "first" {
				n++
			}
		}
		return n
	}
	// Only the immediate first sub-task can have run before cancellation
	beforeCancel := countFirst()
	assert.LessOrEqual(t, beforeCancel, 1)

	st := wait(t, s, "r1")
	assert.Equal(t, secondID, st.JobID)
	assert.Equal(t, StateCompleted, st.State)

	// Outlive the first job's original schedule
	time.Sleep(5 * cfg.StaggerDelay)
	assert.Equal(t, beforeCancel, countFirst())
}

func TestWarmup_IndependentSubjects(t *testing.T) {
	c := newMemCache()
	s := newTestScheduler(t, Deps{Cache: c}, testConfig())

	for i := 0; i < 3; i++ {
		_, err := s.Warmup(Request{SubjectID: fmt.Sprintf("r%d", i), Questions: []string{"q"}})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		st := wait(t, s, fmt.Sprintf("r%d", i))
		assert.Equal(t, StateCompleted, st.State)
	}
	assert.Len(t, c.written(), 3)
}

func TestScheduler_Close(t *testing.T) {
	c := newMemCache()
	s := newTestScheduler(t, Deps{Cache: c, Generator: blocking(make(chan struct{}))}, testConfig())

	_, err := s.Warmup(Request{SubjectID: "r1"})
	require.NoError(t, err)
	s.Close()

	st, ok := s.Status("r1")
	require.True(t, ok)
	assert.Equal(t, StateCancelled, st.State)

	_, err = s.Warmup(Request{SubjectID: "r2"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatus_Unknown(t *testing.T) {
	s := newTestScheduler(t, Deps{Cache: newMemCache()}, testConfig())
	_, ok := s.Status("nobody")
	assert.False(t, ok)

	st := wait(t, s, "nobody")
	assert.Equal(t, StateIdle, st.State)
}
