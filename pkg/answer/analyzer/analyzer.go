// Package analyzer predicts the follow-up questions a subject's content is
// likely to prompt. Prediction is best effort: any detector failure yields an
// empty result, never an error.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/developer-mesh/answercache/pkg/answer/normalize"
	"github.com/developer-mesh/answercache/pkg/observability"
)

var analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "answercache",
	Subsystem: "analyzer",
	Name:      "duration_seconds",
	Help:      "Time spent analyzing subject content",
	Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
})

// Config configures an Analyzer
type Config struct {
	MinConfidence float64       `mapstructure:"min_confidence"`
	MaxQuestions  int           `mapstructure:"max_questions"`
	LatencyBudget time.Duration `mapstructure:"latency_budget"`
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.7,
		MaxQuestions:  5,
		LatencyBudget: 50 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence)
	}
	if c.MaxQuestions <= 0 {
		return fmt.Errorf("max_questions must be positive, got %d", c.MaxQuestions)
	}
	return nil
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithDetectors replaces the built-in detectors
func WithDetectors(detectors ...Detector) Option {
	return func(a *Analyzer) { a.detectors = detectors }
}

// WithLogger sets the logger
func WithLogger(logger observability.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// Analyzer runs detectors over subject content
type Analyzer struct {
	cfg       Config
	detectors []Detector
	logger    observability.Logger
}

// New creates an analyzer with the built-in detectors
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{cfg: cfg, detectors: DefaultDetectors()}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = observability.NewLogger("answer.analyzer")
	}
	return a, nil
}

// Analyze returns predicted questions ordered by confidence, then category
// priority, filtered by MinConfidence and truncated to MaxQuestions. It
// returns an empty slice when content is nil or any detector fails.
func (a *Analyzer) Analyze(ctx context.Context, c *Content) []Question {
	_, span := observability.StartSpan(ctx, "answer.analyzer.analyze")
	defer span.End()

	start := time.Now()
	questions, err := a.analyze(c)
	elapsed := time.Since(start)
	analysisDuration.Observe(elapsed.Seconds())

	if a.cfg.LatencyBudget > 0 && elapsed > a.cfg.LatencyBudget {
		a.logger.Warn("Content analysis exceeded latency budget", map[string]interface{}{
			"elapsed_ms": elapsed.Milliseconds(),
			"budget_ms":  a.cfg.LatencyBudget.Milliseconds(),
		})
	}
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("Content analysis failed", map[string]interface{}{
			"error": err.Error(),
		})
		return []Question{}
	}
	span.SetAttribute("questions", len(questions))
	return questions
}

func (a *Analyzer) analyze(c *Content) (questions []Question, err error) {
	defer func() {
		if r := recover(); r != nil {
			questions = nil
			err = fmt.Errorf("%w: panic: %v", ErrAnalysisFailed, r)
		}
	}()
	if c == nil {
		return []Question{}, nil
	}

	var candidates []Question
	for _, d := range a.detectors {
		found, derr := d.Detect(c)
		if derr != nil {
			return nil, fmt.Errorf("%w: %s detector: %v", ErrAnalysisFailed, d.Category(), derr)
		}
		candidates = append(candidates, found...)
	}
	return a.rank(candidates), nil
}

// rank collapses duplicates keeping the first, keeps one question per
// category, then sorts and truncates
func (a *Analyzer) rank(candidates []Question) []Question {
	seenText := make(map[string]bool, len(candidates))
	seenCategory := make(map[Category]bool)
	out := make([]Question, 0, len(candidates))
	for _, q := range candidates {
		if q.Confidence < a.cfg.MinConfidence {
			continue
		}
		key := normalize.Clean(q.Question)
		if seenText[key] || seenCategory[q.Category] {
			continue
		}
		seenText[key] = true
		seenCategory[q.Category] = true
		out = append(out, q)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Priority > out[j].Priority
	})
	if len(out) > a.cfg.MaxQuestions {
		out = out[:a.cfg.MaxQuestions]
	}
	return out
}
