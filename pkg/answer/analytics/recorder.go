// Package analytics records cache effectiveness: hit and miss counters, the
// estimated cost avoided, per-question popularity, and daily and monthly
// rollups. Recording is best effort and never fails the lookup path.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/answer/normalize"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// ErrEmptyQuestion is returned when an event carries no question text
var ErrEmptyQuestion = errors.New("empty question")

const maxSubjectsPerQuestion = 64

var trackedQuestions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "answercache",
	Subsystem: "analytics",
	Name:      "tracked_questions",
	Help:      "Distinct questions held in the analytics ledger",
})

// Config configures a Recorder
type Config struct {
	// CostPerRequest is the estimated backend cost avoided by one hit
	CostPerRequest   string `mapstructure:"cost_per_request"`
	MaxQuestions     int    `mapstructure:"max_questions"`
	DailyRetention   int    `mapstructure:"daily_retention"`
	MonthlyRetention int    `mapstructure:"monthly_retention"`
	LedgerKey        string `mapstructure:"ledger_key"`
}

// DefaultConfig returns the default recorder configuration
func DefaultConfig() Config {
	return Config{
		CostPerRequest:   "0.002",
		MaxQuestions:     500,
		DailyRetention:   30,
		MonthlyRetention: 12,
		LedgerKey:        "analytics:ledger",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	cost, err := decimal.NewFromString(c.CostPerRequest)
	if err != nil {
		return fmt.Errorf("invalid cost_per_request %q: %w", c.CostPerRequest, err)
	}
	if cost.IsNegative() {
		return fmt.Errorf("cost_per_request must not be negative, got %s", c.CostPerRequest)
	}
	if c.MaxQuestions <= 0 {
		return fmt.Errorf("max_questions must be positive, got %d", c.MaxQuestions)
	}
	if c.DailyRetention <= 0 || c.MonthlyRetention <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	if c.LedgerKey == "" {
		return fmt.Errorf("ledger_key is required")
	}
	return nil
}

// Normalizer groups equivalent phrasings under one key
type Normalizer interface {
	Normalize(raw string) string
}

// Effectiveness summarizes cache performance
type Effectiveness struct {
	HitRate       float64         `json:"hit_rate"`
	TotalRequests int64           `json:"total_requests"`
	Hits          int64           `json:"hits"`
	Misses        int64           `json:"misses"`
	StaticHits    int64           `json:"static_hits"`
	CostSaved     decimal.Decimal `json:"cost_saved"`
}

// TopQuestion is one entry of GetTopQuestions
type TopQuestion struct {
	Key          string    `json:"key"`
	Question     string    `json:"question"`
	Count        int64     `json:"count"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	SubjectCount int       `json:"subject_count"`
}

// Summary is the caller-facing analytics report
type Summary struct {
	Effectiveness Effectiveness `json:"effectiveness"`
	TopQuestions  []TopQuestion `json:"top_questions"`
	Daily         []Bucket      `json:"daily"`
	Monthly       []Bucket      `json:"monthly"`
}

// Option configures a Recorder
type Option func(*Recorder)

// WithNormalizer groups questions by normalized key instead of cleaned text
func WithNormalizer(n Normalizer) Option {
	return func(r *Recorder) { r.normalizer = n }
}

// WithStore enables Load and Flush
func WithStore(store kvstore.Store) Option {
	return func(r *Recorder) { r.store = store }
}

// WithLogger sets the logger
func WithLogger(logger observability.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder accumulates analytics in memory and persists them on rollup and
// Flush
type Recorder struct {
	cfg        Config
	cost       decimal.Decimal
	normalizer Normalizer
	store      kvstore.Store
	logger     observability.Logger
	now        func() time.Time

	mu     sync.Mutex
	ledger *ledger
}

// New creates a recorder with an empty ledger
func New(cfg Config, opts ...Option) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{
		cfg:    cfg,
		cost:   decimal.RequireFromString(cfg.CostPerRequest),
		now:    time.Now,
		ledger: newLedger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.NewLogger("answer.analytics")
	}
	return r, nil
}

type eventKind int

const (
	eventHit eventKind = iota
	eventMiss
	eventStatic
)

// RecordHit records a cache hit
func (r *Recorder) RecordHit(subjectID, question string) error {
	return r.record(eventHit, subjectID, question)
}

// RecordMiss records a cache miss
func (r *Recorder) RecordMiss(subjectID, question string) error {
	return r.record(eventMiss, subjectID, question)
}

// RecordStaticHit records a static-table answer
func (r *Recorder) RecordStaticHit(subjectID, question string) error {
	return r.record(eventStatic, subjectID, question)
}

func (r *Recorder) record(kind eventKind, subjectID, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}
	key := r.key(question)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.ledger
	day := bucketFor(l.Daily, dayKey(now))
	month := bucketFor(l.Monthly, monthKey(now))
	for _, b := range []*Bucket{day, month} {
		b.Requests++
		switch kind {
		case eventHit:
			b.Hits++
		case eventMiss:
			b.Misses++
		case eventStatic:
			b.StaticHits++
		}
		if kind != eventMiss {
			b.CostSaved = b.CostSaved.Add(r.cost)
		}
	}
	switch kind {
	case eventHit:
		l.Hits++
	case eventMiss:
		l.Misses++
	case eventStatic:
		l.StaticHits++
	}
	if kind != eventMiss {
		l.CostSaved = l.CostSaved.Add(r.cost)
	}

	stats, ok := l.Questions[key]
	if !ok {
		stats = &QuestionStats{Key: key, Question: question, Subjects: make(map[string]struct{})}
		l.Questions[key] = stats
	}
	stats.Count++
	stats.LastSeenAt = now
	if subjectID != "" && len(stats.Subjects) < maxSubjectsPerQuestion {
		stats.Subjects[subjectID] = struct{}{}
	}
	if !ok {
		r.enforceBudgetLocked()
	}
	trackedQuestions.Set(float64(len(l.Questions)))
	return nil
}

func (r *Recorder) key(question string) string {
	if r.normalizer != nil {
		if k := r.normalizer.Normalize(question); k != "" {
			return k
		}
	}
	return normalize.Clean(question)
}

// enforceBudgetLocked drops the least recently asked questions over budget
func (r *Recorder) enforceBudgetLocked() {
	l := r.ledger
	over := len(l.Questions) - r.cfg.MaxQuestions
	if over <= 0 {
		return
	}
	all := make([]*QuestionStats, 0, len(l.Questions))
	for _, q := range l.Questions {
		all = append(all, q)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSeenAt.Equal(all[j].LastSeenAt) {
			return all[i].LastSeenAt.Before(all[j].LastSeenAt)
		}
		return all[i].Key < all[j].Key
	})
	for _, q := range all[:over] {
		delete(l.Questions, q.Key)
	}
	r.logger.Debug("Dropped least recently asked questions", map[string]interface{}{
		"dropped": over,
	})
}

// GetEffectiveness returns aggregate counters since the ledger was created
func (r *Recorder) GetEffectiveness() Effectiveness {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectivenessLocked()
}

func (r *Recorder) effectivenessLocked() Effectiveness {
	l := r.ledger
	total := l.Hits + l.Misses + l.StaticHits
	e := Effectiveness{
		TotalRequests: total,
		Hits:          l.Hits,
		Misses:        l.Misses,
		StaticHits:    l.StaticHits,
		CostSaved:     l.CostSaved,
	}
	if total > 0 {
		e.HitRate = float64(l.Hits+l.StaticHits) / float64(total)
	}
	return e
}

// GetTopQuestions returns the most asked questions, most recent first on ties
func (r *Recorder) GetTopQuestions(limit int) []TopQuestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topLocked(limit)
}

func (r *Recorder) topLocked(limit int) []TopQuestion {
	out := make([]TopQuestion, 0, len(r.ledger.Questions))
	for _, q := range r.ledger.Questions {
		out = append(out, TopQuestion{
			Key:          q.Key,
			Question:     q.Question,
			Count:        q.Count,
			LastSeenAt:   q.LastSeenAt,
			SubjectCount: len(q.Subjects),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary returns effectiveness, the top questions and all retained buckets
func (r *Recorder) Summary(topLimit int) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Effectiveness: r.effectivenessLocked(),
		TopQuestions:  r.topLocked(topLimit),
		Daily:         sortedBuckets(r.ledger.Daily),
		Monthly:       sortedBuckets(r.ledger.Monthly),
	}
}

// RollupDaily closes the day buckets and prunes those past retention. A second
// call on the same day is a no-op and returns false.
func (r *Recorder) RollupDaily(ctx context.Context) bool {
	today := dayKey(r.now())

	r.mu.Lock()
	if r.ledger.LastDailyRollup == today {
		r.mu.Unlock()
		return false
	}
	pruned := pruneBuckets(r.ledger.Daily, r.cfg.DailyRetention)
	r.ledger.LastDailyRollup = today
	r.mu.Unlock()

	r.logger.Debug("Daily analytics rollup", map[string]interface{}{
		"day":    today,
		"pruned": pruned,
	})
	r.flushBestEffort(ctx)
	return true
}

// RollupMonthly closes the month buckets and prunes those past retention. A
// second call in the same month is a no-op and returns false.
func (r *Recorder) RollupMonthly(ctx context.Context) bool {
	month := monthKey(r.now())

	r.mu.Lock()
	if r.ledger.LastMonthlyRollup == month {
		r.mu.Unlock()
		return false
	}
	pruned := pruneBuckets(r.ledger.Monthly, r.cfg.MonthlyRetention)
	r.ledger.LastMonthlyRollup = month
	r.mu.Unlock()

	r.logger.Debug("Monthly analytics rollup", map[string]interface{}{
		"month":  month,
		"pruned": pruned,
	})
	r.flushBestEffort(ctx)
	return true
}

// StartRollups runs both rollups every interval until ctx is done
func (r *Recorder) StartRollups(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RollupDaily(ctx)
				r.RollupMonthly(ctx)
			}
		}
	}()
}

func (r *Recorder) flushBestEffort(ctx context.Context) {
	if err := r.Flush(ctx); err != nil {
		r.logger.Warn("Failed to persist analytics", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Flush writes the ledger to the store
func (r *Recorder) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	data, err := json.Marshal(r.ledger)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode analytics ledger: %w", err)
	}
	if err := r.store.Set(ctx, r.cfg.LedgerKey, string(data)); err != nil {
		return fmt.Errorf("save analytics ledger: %w", err)
	}
	return nil
}

// Load replaces the in-memory ledger with the persisted one. A missing record
// is not an error; a corrupt one is discarded.
func (r *Recorder) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	raw, err := r.store.Get(ctx, r.cfg.LedgerKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load analytics ledger: %w", err)
	}

	loaded := newLedger()
	if err := json.Unmarshal([]byte(raw), loaded); err != nil {
		r.logger.Warn("Discarding corrupt analytics ledger", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	loaded.ensureMaps()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = loaded
	r.enforceBudgetLocked()
	trackedQuestions.Set(float64(len(loaded.Questions)))
	return nil
}
