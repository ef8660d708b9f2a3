// Package answer is the caller-facing surface of the answer cache: it wires
// the normalizer, static table, response cache, rate limiter, analyzer,
// warmup scheduler and analytics recorder around one key-value store and one
// generation backend.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/answercache/pkg/answer/analytics"
	"github.com/developer-mesh/answercache/pkg/answer/analyzer"
	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/answer/cache"
	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/answer/normalize"
	"github.com/developer-mesh/answercache/pkg/answer/ratelimit"
	"github.com/developer-mesh/answercache/pkg/answer/static"
	"github.com/developer-mesh/answercache/pkg/answer/warmup"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// Deps are the external collaborators of a Service
type Deps struct {
	// Store persists cache, analytics and rate-limit state. A nil store or a
	// failed probe puts the service in pass-through mode.
	Store kvstore.Store
	// Generator answers questions the cache cannot. Optional.
	Generator backend.Generator
	Logger    observability.Logger
	// Clock overrides time.Now for every time-dependent component
	Clock func() time.Time
}

// AnswerRequest is a question that may be sent to the backend
type AnswerRequest struct {
	SubjectID      string `json:"subject_id"`
	Question       string `json:"question"`
	SubjectContext string `json:"context,omitempty"`
}

// Service is the answer cache. Safe for concurrent use.
type Service struct {
	cfg       Config
	logger    observability.Logger
	store     kvstore.Store
	generator backend.Generator
	enabled   bool
	now       func() time.Time

	normalizer *normalize.Normalizer
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	analyzer   *analyzer.Analyzer
	recorder   *analytics.Recorder
	scheduler  *warmup.Scheduler

	flights   singleflight.Group
	stop      context.CancelFunc
	closeOnce sync.Once
}

// New builds a service. The store is probed once; on failure every lookup is
// a miss and nothing is cached, but answers can still be generated.
func New(ctx context.Context, cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger("answer")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		generator: deps.Generator,
		now:       now,
	}

	if err := kvstore.Probe(ctx, deps.Store); err != nil {
		logger.Warn("Key-value store unavailable, running in pass-through mode", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		s.enabled = true
	}
	if s.enabled {
		enabledGauge.Set(1)
	} else {
		enabledGauge.Set(0)
	}

	var err error
	if s.normalizer, err = normalize.New(cfg.Normalizer, logger.WithPrefix("normalize")); err != nil {
		return nil, err
	}

	recorderOpts := []analytics.Option{
		analytics.WithNormalizer(s.normalizer),
		analytics.WithLogger(logger.WithPrefix("analytics")),
		analytics.WithClock(now),
	}
	limiterOpts := []ratelimit.Option{
		ratelimit.WithLogger(logger.WithPrefix("ratelimit")),
		ratelimit.WithClock(now),
	}
	if s.enabled {
		recorderOpts = append(recorderOpts, analytics.WithStore(s.store))
		limiterOpts = append(limiterOpts, ratelimit.WithStore(s.store))
	}
	if s.recorder, err = analytics.New(cfg.Analytics.Config, recorderOpts...); err != nil {
		return nil, err
	}
	if s.limiter, err = ratelimit.New(cfg.RateLimit, limiterOpts...); err != nil {
		return nil, err
	}
	if s.analyzer, err = analyzer.New(cfg.Analyzer, analyzer.WithLogger(logger.WithPrefix("analyzer"))); err != nil {
		return nil, err
	}

	if s.enabled {
		table, err := static.Default()
		if err != nil {
			return nil, err
		}
		s.cache, err = cache.New(cfg.Cache, s.normalizer,
			cache.WithStaticTable(table.WithThreshold(cfg.Static.Threshold)),
			cache.WithRecorder(s.recorder),
			cache.WithStore(s.store),
			cache.WithLogger(logger.WithPrefix("cache")),
			cache.WithClock(now),
		)
		if err != nil {
			return nil, err
		}
		s.load(ctx)
	}

	if s.enabled && s.generator != nil {
		s.scheduler, err = warmup.New(warmup.Deps{
			Cache:     s.cache,
			Limiter:   s.limiter,
			Generator: sharedGenerator{s: s},
			Analyzer:  s.analyzer,
			Popular:   s.recorder,
			Logger:    logger.WithPrefix("warmup"),
			Clock:     now,
		}, cfg.Warmup)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("Answer cache ready", map[string]interface{}{
		"enabled": s.enabled,
		"backend": s.generator != nil,
		"tier":    string(s.limiter.Tier()),
	})
	return s, nil
}

func (s *Service) load(ctx context.Context) {
	if err := s.cache.Load(ctx); err != nil {
		s.logger.Warn("Failed to load persisted cache", map[string]interface{}{"error": err.Error()})
	}
	if err := s.limiter.Load(ctx); err != nil {
		s.logger.Warn("Failed to load rate limit windows", map[string]interface{}{"error": err.Error()})
	}
	if err := s.recorder.Load(ctx); err != nil {
		s.logger.Warn("Failed to load analytics ledger", map[string]interface{}{"error": err.Error()})
	}
}

// Start runs the expiry sweeper and the analytics rollups until ctx is done
// or the service is closed
func (s *Service) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	if s.cache != nil {
		s.cache.StartSweeper(ctx, s.cfg.Cache.SweepInterval)
	}
	s.recorder.StartRollups(ctx, s.cfg.Analytics.RollupInterval)
}

// Enabled reports whether the store passed its probe
func (s *Service) Enabled() bool {
	return s.enabled
}

// LookupAnswer returns a static or cached answer. It never calls the backend
// and never fails; problems degrade to a miss.
func (s *Service) LookupAnswer(ctx context.Context, subjectID, question string) (*cache.Answer, bool) {
	if !s.enabled || !validInput(subjectID, question) {
		return nil, false
	}
	a, ok := s.cache.Get(ctx, subjectID, question)
	if ok {
		answersServed.WithLabelValues(string(a.Source)).Inc()
	}
	return a, ok
}

// StoreAnswer caches an answer produced elsewhere, stamping GeneratedAt when
// unset. Only invalid arguments are reported; cache failures are logged.
func (s *Service) StoreAnswer(ctx context.Context, subjectID, question string, a *cache.Answer) error {
	if !validInput(subjectID, question) || a == nil || strings.TrimSpace(a.Content) == "" {
		return ErrInvalidArgument
	}
	if !s.enabled {
		return nil
	}
	if a.GeneratedAt.IsZero() {
		cp := *a
		cp.GeneratedAt = s.now()
		a = &cp
	}
	s.storeBestEffort(ctx, subjectID, question, a)
	return nil
}

func (s *Service) storeBestEffort(ctx context.Context, subjectID, question string, a *cache.Answer) {
	if err := s.cache.Set(ctx, subjectID, question, a); err != nil {
		s.logger.Warn("Failed to cache answer", map[string]interface{}{
			"subject_id": subjectID,
			"error":      err.Error(),
		})
	}
}

// Answer serves a question from the static table or the cache, and otherwise
// asks the backend and caches the result. Concurrent calls for the same
// subject and normalized question share one backend call. A rate limit
// rejection is returned as *ratelimit.LimitError.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (*cache.Answer, error) {
	if !validInput(req.SubjectID, req.Question) {
		return nil, ErrInvalidArgument
	}
	ctx, span := observability.StartSpan(ctx, "answer.service.answer")
	defer span.End()
	span.SetAttribute("subject_id", req.SubjectID)

	if a, ok := s.LookupAnswer(ctx, req.SubjectID, req.Question); ok {
		span.SetAttribute("source", string(a.Source))
		return a, nil
	}
	if s.generator == nil {
		return nil, ErrNoBackend
	}

	a, err := s.generateOnce(ctx, req)
	if err != nil {
		span.RecordError(err)
		answersServed.WithLabelValues("error").Inc()
		return nil, err
	}
	answersServed.WithLabelValues(string(a.Source)).Inc()
	span.SetAttribute("source", string(a.Source))
	return a, nil
}

// generateOnce joins or starts the flight for the request's key. A flight
// that finds the answer already cached returns it without paying again.
func (s *Service) generateOnce(ctx context.Context, req AnswerRequest) (*cache.Answer, error) {
	v, err, shared := s.flights.Do(s.flightKey(req), func() (interface{}, error) {
		if a, ok := s.peek(req.SubjectID, req.Question); ok {
			return a, nil
		}
		return s.generate(context.WithoutCancel(ctx), req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		sharedFlights.Inc()
	}
	cp := *v.(*cache.Answer)
	return &cp, nil
}

func (s *Service) peek(subjectID, question string) (*cache.Answer, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Peek(subjectID, question)
}

func (s *Service) flightKey(req AnswerRequest) string {
	if s.cache != nil {
		return s.cache.Key(req.SubjectID, req.Question).String()
	}
	return cache.Key{SubjectID: req.SubjectID, Question: s.normalizer.Normalize(req.Question)}.String()
}

func (s *Service) generate(ctx context.Context, req AnswerRequest) (*cache.Answer, error) {
	if err := s.limiter.Acquire(); err != nil {
		return nil, err
	}
	if s.enabled {
		if err := s.limiter.Save(ctx); err != nil {
			s.logger.Debug("Failed to persist rate limit windows", map[string]interface{}{"error": err.Error()})
		}
	}

	a, err := s.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.enabled && strings.TrimSpace(a.Content) != "" {
		s.storeBestEffort(ctx, req.SubjectID, req.Question, a)
	}
	return a, nil
}

// call asks the backend without touching quota or the cache
func (s *Service) call(ctx context.Context, req AnswerRequest) (*cache.Answer, error) {
	gen, err := s.generator.Generate(ctx, backend.Request{
		SubjectID:      req.SubjectID,
		Question:       req.Question,
		SubjectContext: req.SubjectContext,
	})
	if err != nil {
		s.logger.Warn("Backend failed to answer", map[string]interface{}{
			"subject_id": req.SubjectID,
			"retryable":  backend.IsRetryable(err),
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	a := &cache.Answer{
		Content:      gen.Content,
		Model:        gen.Model,
		FinishReason: gen.FinishReason,
		GeneratedAt:  s.now(),
		Source:       cache.SourceBackend,
	}
	if gen.Usage != nil {
		a.Usage = &cache.Usage{
			PromptTokens:     gen.Usage.PromptTokens,
			CompletionTokens: gen.Usage.CompletionTokens,
			TotalTokens:      gen.Usage.TotalTokens,
		}
	}
	return a, nil
}

// sharedGenerator runs warmup generations on the same flights as Answer.
// The warmup task acquires quota and stores the result itself.
type sharedGenerator struct {
	s *Service
}

func (g sharedGenerator) Generate(ctx context.Context, req backend.Request) (*backend.Generation, error) {
	areq := AnswerRequest{SubjectID: req.SubjectID, Question: req.Question, SubjectContext: req.SubjectContext}
	v, err, shared := g.s.flights.Do(g.s.flightKey(areq), func() (interface{}, error) {
		if a, ok := g.s.peek(req.SubjectID, req.Question); ok {
			return a, nil
		}
		return g.s.call(context.WithoutCancel(ctx), areq)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		sharedFlights.Inc()
	}
	a := v.(*cache.Answer)
	gen := &backend.Generation{
		Content:      a.Content,
		Model:        a.Model,
		FinishReason: a.FinishReason,
	}
	if a.Usage != nil {
		gen.Usage = &backend.Usage{
			PromptTokens:     a.Usage.PromptTokens,
			CompletionTokens: a.Usage.CompletionTokens,
			TotalTokens:      a.Usage.TotalTokens,
		}
	}
	return gen, nil
}

// InvalidateSubject drops every cached answer of one subject and returns how
// many were removed
func (s *Service) InvalidateSubject(ctx context.Context, subjectID string) int {
	if !s.enabled || strings.TrimSpace(subjectID) == "" {
		return 0
	}
	return s.cache.Invalidate(ctx, cache.BySubject(subjectID))
}

// InvalidateCategory drops every cached answer whose normalized question
// belongs to category, across subjects
func (s *Service) InvalidateCategory(ctx context.Context, category string) int {
	if !s.enabled || strings.TrimSpace(category) == "" {
		return 0
	}
	return s.cache.Invalidate(ctx, cache.ByCategory(category))
}

// Warmup starts preloading answers for a subject and returns the job id.
// A running job for the same subject is cancelled first.
func (s *Service) Warmup(req warmup.Request) (string, error) {
	if !s.enabled {
		return "", ErrDisabled
	}
	if s.scheduler == nil {
		return "", ErrNoBackend
	}
	return s.scheduler.Warmup(req)
}

// WarmupStatus returns the latest job status for a subject
func (s *Service) WarmupStatus(subjectID string) (warmup.Status, bool) {
	if s.scheduler == nil {
		return warmup.Status{}, false
	}
	return s.scheduler.Status(subjectID)
}

// CancelWarmup cancels the running job for a subject
func (s *Service) CancelWarmup(subjectID string) bool {
	if s.scheduler == nil {
		return false
	}
	return s.scheduler.Cancel(subjectID)
}

// WaitWarmup blocks until the subject's job is terminal or ctx is done
func (s *Service) WaitWarmup(ctx context.Context, subjectID string) (warmup.Status, error) {
	if s.scheduler == nil {
		return warmup.Status{}, ErrDisabled
	}
	return s.scheduler.Wait(ctx, subjectID)
}

// GetCacheStats returns cache statistics; Enabled is false in pass-through mode
func (s *Service) GetCacheStats() cache.Stats {
	if !s.enabled {
		return cache.Stats{
			MaxEntries: s.cfg.Cache.MaxEntries,
			MaxBytes:   s.cfg.Cache.MaxBytes,
		}
	}
	return s.cache.Stats()
}

// GetRateLimitInfo returns the current quota
func (s *Service) GetRateLimitInfo() ratelimit.Info {
	return s.limiter.Info()
}

// SetTier switches the rate limit tier, keeping current counters
func (s *Service) SetTier(tier ratelimit.Tier) error {
	return s.limiter.SetTier(tier)
}

// GetAnalyticsSummary returns effectiveness, top questions and rollup buckets
func (s *Service) GetAnalyticsSummary() analytics.Summary {
	return s.recorder.Summary(s.cfg.Analytics.TopQuestions)
}

// AnalyzeContent predicts follow-up questions for a subject's content
func (s *Service) AnalyzeContent(ctx context.Context, c *analyzer.Content) []analyzer.Question {
	return s.analyzer.Analyze(ctx, c)
}

// Close stops background work, persists analytics and rate-limit state and
// closes the store
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		if s.scheduler != nil {
			s.scheduler.Close()
		}
		if s.enabled {
			if err := s.cache.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
			if err := s.recorder.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
			if err := s.limiter.Save(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if s.cache != nil {
			s.cache.Close()
		}
		if closer, ok := s.store.(kvstore.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

func validInput(subjectID, question string) bool {
	return strings.TrimSpace(subjectID) != "" && strings.TrimSpace(question) != ""
}
