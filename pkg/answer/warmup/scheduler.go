// Package warmup primes the response cache ahead of demand. A job predicts the
// questions a subject is likely to get, drops those already answerable, and
// fetches the rest from the backend with staggered start times. At most one
// job runs per subject.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/answer/cache"
	"github.com/developer-mesh/answercache/pkg/answer/normalize"
	"github.com/developer-mesh/answercache/pkg/answer/ratelimit"
	"github.com/developer-mesh/answercache/pkg/observability"
)

var jobsFinished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "answercache",
		Subsystem: "warmup",
		Name:      "jobs_total",
		Help:      "Warmup jobs by terminal state",
	},
	[]string{"state"},
)

var questionsWarmed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "answercache",
		Subsystem: "warmup",
		Name:      "questions_total",
		Help:      "Warmup sub-tasks by outcome",
	},
	[]string{"outcome"},
)

// Deps are the collaborators of a Scheduler. Analyzer and Popular are optional.
type Deps struct {
	Cache     Cache
	Limiter   Limiter
	Generator backend.Generator
	Analyzer  Analyzer
	Popular   Popular
	Logger    observability.Logger
	// Clock overrides time.Now for job timestamps
	Clock func() time.Time
}

// Scheduler runs warmup jobs
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger observability.Logger
	now    func() time.Time

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	// startMu serializes Warmup so replacing a job is atomic
	startMu sync.Mutex
	mu      sync.Mutex
	active  map[string]*job
	history *lru.Cache[string, Status]
}

// New creates a scheduler
func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Cache == nil || deps.Limiter == nil || deps.Generator == nil {
		return nil, errors.New("warmup requires a cache, a limiter and a generator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1024
	}
	history, err := lru.New[string, Status](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("create warmup history: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger("answer.warmup")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		now:     now,
		ctx:     ctx,
		stop:    stop,
		active:  make(map[string]*job),
		history: history,
	}, nil
}

// job is one running warmup
type job struct {
	id        string
	subjectID string
	started   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu orders cache writes against cancellation: once cancelled is set
	// under mu, no sub-task writes to the cache.
	mu        sync.Mutex
	cancelled bool
	state     State
	source    string
	total     int
	finished  time.Time
	errText   string

	processed atomic.Int32
	warmed    atomic.Int32
	skipped   atomic.Int32
	failed    atomic.Int32
}

func (j *job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		j.state = s
	}
}

// requestCancel marks the job cancelled and signals its sub-tasks
func (j *job) requestCancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
	j.cancel()
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		JobID:      j.id,
		SubjectID:  j.subjectID,
		State:      j.state,
		Source:     j.source,
		Total:      j.total,
		Processed:  int(j.processed.Load()),
		Warmed:     int(j.warmed.Load()),
		Skipped:    int(j.skipped.Load()),
		Failed:     int(j.failed.Load()),
		StartedAt:  j.started,
		FinishedAt: j.finished,
		Error:      j.errText,
	}
}

// Warmup starts a job for req.SubjectID, cancelling any job already running
// for it. It returns the new job's ID without waiting for the job.
func (s *Scheduler) Warmup(req Request) (string, error) {
	if req.SubjectID == "" {
		return "", ErrNoSubject
	}
	cfg := s.cfg.merge(req.Config)
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.closed.Load() {
		return "", ErrClosed
	}

	s.mu.Lock()
	old := s.active[req.SubjectID]
	s.mu.Unlock()
	if old != nil {
		s.logger.Info("Replacing running warmup", map[string]interface{}{
			"subject_id": req.SubjectID,
			"job_id":     old.id,
		})
		old.requestCancel()
		<-old.done
	}

	ctx, cancel := context.WithTimeout(s.ctx, cfg.Timeout)
	j := &job{
		id:        uuid.NewString(),
		subjectID: req.SubjectID,
		started:   s.now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	s.mu.Lock()
	s.active[req.SubjectID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(j, req, cfg)
	return j.id, nil
}

// Status returns the running job for a subject, or the last finished one
func (s *Scheduler) Status(subjectID string) (Status, bool) {
	s.mu.Lock()
	j := s.active[subjectID]
	s.mu.Unlock()
	if j != nil {
		return j.status(), true
	}
	return s.history.Get(subjectID)
}

// Cancel stops the running job for a subject. Once it returns, the job
// writes nothing more to the cache.
func (s *Scheduler) Cancel(subjectID string) bool {
	s.mu.Lock()
	j := s.active[subjectID]
	s.mu.Unlock()
	if j == nil {
		return false
	}
	j.requestCancel()
	return true
}

// Wait blocks until the job for subjectID finishes or ctx ends
func (s *Scheduler) Wait(ctx context.Context, subjectID string) (Status, error) {
	s.mu.Lock()
	j := s.active[subjectID]
	s.mu.Unlock()
	if j != nil {
		select {
		case <-j.done:
		case <-ctx.Done():
			return j.status(), ctx.Err()
		}
	}
	st, ok := s.history.Get(subjectID)
	if !ok {
		return Status{SubjectID: subjectID, State: StateIdle}, nil
	}
	return st, nil
}

// Active returns the number of running jobs
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close cancels every job and waits for them to finish
func (s *Scheduler) Close() {
	s.startMu.Lock()
	s.closed.Store(true)
	s.startMu.Unlock()

	s.mu.Lock()
	jobs := make([]*job, 0, len(s.active))
	for _, j := range s.active {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	for _, j := range jobs {
		j.requestCancel()
	}
	s.stop()
	s.wg.Wait()
}

func (s *Scheduler) run(j *job, req Request, cfg Config) {
	defer s.wg.Done()
	defer close(j.done)
	defer j.cancel()

	ctx, span := observability.StartSpan(j.ctx, "answer.warmup.job")
	defer span.End()
	span.SetAttribute("subject_id", j.subjectID)

	logger := s.logger.With(map[string]interface{}{
		"job_id":     j.id,
		"subject_id": j.subjectID,
	})

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("warmup panic: %v", r)
			}
		}()
		runErr = s.execute(ctx, j, req, cfg, logger)
	}()

	s.finish(j, runErr, logger)
}

func (s *Scheduler) execute(ctx context.Context, j *job, req Request, cfg Config, logger observability.Logger) error {
	j.setState(StateAnalyzing)
	questions, source := s.candidates(ctx, req, cfg)

	pending := make([]string, 0, len(questions))
	for _, q := range questions {
		if !s.deps.Cache.Covered(req.SubjectID, q) {
			pending = append(pending, q)
		}
	}

	j.mu.Lock()
	j.source = source
	j.total = len(pending)
	j.mu.Unlock()
	j.setState(StateWarming)
	logger.Info("Warmup started", map[string]interface{}{
		"source":     source,
		"candidates": len(questions),
		"pending":    len(pending),
	})

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range pending {
		delay := time.Duration(i) * cfg.StaggerDelay
		g.Go(func() error {
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-gctx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
			}
			return s.warmOne(gctx, j, req, q, logger)
		})
	}
	return g.Wait()
}

// candidates returns questions from the request, the analyzer, popular
// questions or the defaults, in that order of preference
func (s *Scheduler) candidates(ctx context.Context, req Request, cfg Config) ([]string, string) {
	if len(req.Questions) > 0 {
		return dedupe(req.Questions, cfg.MaxQuestions), "request"
	}
	if s.deps.Analyzer != nil && req.Content != nil {
		predicted := s.deps.Analyzer.Analyze(ctx, req.Content)
		qs := make([]string, 0, len(predicted))
		for _, p := range predicted {
			qs = append(qs, p.Question)
		}
		if out := dedupe(qs, cfg.MaxQuestions); len(out) > 0 {
			return out, "analyzer"
		}
	}
	if s.deps.Popular != nil {
		top := s.deps.Popular.GetTopQuestions(cfg.MaxQuestions)
		qs := make([]string, 0, len(top))
		for _, t := range top {
			qs = append(qs, t.Question)
		}
		if out := dedupe(qs, cfg.MaxQuestions); len(out) > 0 {
			return out, "analytics"
		}
	}
	return dedupe(cfg.DefaultQuestions, cfg.MaxQuestions), "defaults"
}

func dedupe(qs []string, limit int) []string {
	seen := make(map[string]bool, len(qs))
	out := make([]string, 0, min(len(qs), limit))
	for _, q := range qs {
		key := normalize.Clean(q)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// warmOne fetches and caches one question. Only a rate-limit rejection is
// returned; it aborts the job. Every other failure is counted and swallowed.
func (s *Scheduler) warmOne(ctx context.Context, j *job, req Request, question string, logger observability.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Warmup sub-task panicked", map[string]interface{}{
				"question": question,
				"panic":    fmt.Sprintf("%v", r),
			})
			s.count(j, "failed")
			err = nil
		}
	}()

	if ctx.Err() != nil {
		return nil
	}
	if err := s.deps.Limiter.CheckLimit(); err != nil {
		return s.limitFailure(j, question, err, logger)
	}
	if s.deps.Cache.Covered(req.SubjectID, question) {
		s.count(j, "skipped")
		return nil
	}
	if err := s.deps.Limiter.Acquire(); err != nil {
		return s.limitFailure(j, question, err, logger)
	}
	if ctx.Err() != nil {
		return nil
	}

	gen, err := s.deps.Generator.Generate(ctx, backend.Request{
		SubjectID:      req.SubjectID,
		Question:       question,
		SubjectContext: req.SubjectContext,
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logger.Warn("Warmup generation failed", map[string]interface{}{
			"question": question,
			"error":    err.Error(),
		})
		s.count(j, "failed")
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled || ctx.Err() != nil {
		return nil
	}
	if s.deps.Cache.Covered(req.SubjectID, question) {
		s.countLocked(j, "skipped")
		return nil
	}
	if err := s.deps.Cache.Set(ctx, req.SubjectID, question, s.answerFrom(gen)); err != nil {
		logger.Warn("Warmup store failed", map[string]interface{}{
			"question": question,
			"error":    err.Error(),
		})
		s.countLocked(j, "failed")
		return nil
	}
	s.countLocked(j, "warmed")
	return nil
}

func (s *Scheduler) limitFailure(j *job, question string, err error, logger observability.Logger) error {
	if _, ok := ratelimit.IsLimitError(err); ok {
		logger.Warn("Warmup stopped by rate limit", map[string]interface{}{
			"question": question,
			"error":    err.Error(),
		})
		return err
	}
	s.count(j, "failed")
	return nil
}

func (s *Scheduler) count(j *job, outcome string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s.countLocked(j, outcome)
}

func (s *Scheduler) countLocked(j *job, outcome string) {
	switch outcome {
	case "warmed":
		j.warmed.Add(1)
	case "skipped":
		j.skipped.Add(1)
	case "failed":
		j.failed.Add(1)
	}
	j.processed.Add(1)
	questionsWarmed.WithLabelValues(outcome).Inc()
}

func (s *Scheduler) finish(j *job, runErr error, logger observability.Logger) {
	j.mu.Lock()
	switch {
	case j.cancelled:
		j.state = StateCancelled
	case errors.Is(j.ctx.Err(), context.DeadlineExceeded):
		j.state = StateError
		j.errText = ErrTimeout.Error()
	case runErr != nil:
		j.state = StateError
		j.errText = runErr.Error()
	case errors.Is(j.ctx.Err(), context.Canceled):
		// scheduler closed
		j.state = StateCancelled
	default:
		j.state = StateCompleted
	}
	j.finished = s.now()
	state := j.state
	j.mu.Unlock()

	st := j.status()
	s.mu.Lock()
	if s.active[j.subjectID] == j {
		delete(s.active, j.subjectID)
	}
	s.history.Add(j.subjectID, st)
	s.mu.Unlock()

	jobsFinished.WithLabelValues(string(state)).Inc()
	logger.Info("Warmup finished", map[string]interface{}{
		"state":     string(state),
		"total":     st.Total,
		"processed": st.Processed,
		"warmed":    st.Warmed,
		"failed":    st.Failed,
		"error":     st.Error,
	})
}

func (s *Scheduler) answerFrom(gen *backend.Generation) *cache.Answer {
	a := &cache.Answer{
		Content:      gen.Content,
		Model:        gen.Model,
		FinishReason: gen.FinishReason,
		GeneratedAt:  s.now(),
	}
	if gen.Usage != nil {
		a.Usage = &cache.Usage{
			PromptTokens:     gen.Usage.PromptTokens,
			CompletionTokens: gen.Usage.CompletionTokens,
			TotalTokens:      gen.Usage.TotalTokens,
		}
	}
	return a
}
