package warmup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/developer-mesh/answercache/pkg/answer/analytics"
	"github.com/developer-mesh/answercache/pkg/answer/analyzer"
	"github.com/developer-mesh/answercache/pkg/answer/cache"
)

// State is a job's position in its lifecycle
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateWarming   State = "warming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

// Terminal reports whether no further transitions happen
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

var (
	// ErrTimeout is the terminal error of a job that outlived its timeout
	ErrTimeout = errors.New("warmup timed out")

	// ErrClosed is returned once the scheduler is closed
	ErrClosed = errors.New("warmup scheduler closed")

	// ErrNoSubject is returned for requests without a subject
	ErrNoSubject = errors.New("subject id is required")
)

// Config bounds one job
type Config struct {
	MaxQuestions     int           `mapstructure:"max_questions" json:"max_questions,omitempty"`
	StaggerDelay     time.Duration `mapstructure:"stagger_delay" json:"stagger_delay,omitempty"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	DefaultQuestions []string      `mapstructure:"default_questions" json:"-"`
	HistorySize      int           `mapstructure:"history_size" json:"-"`
}

// DefaultConfig returns the default job bounds
func DefaultConfig() Config {
	return Config{
		MaxQuestions: 5,
		StaggerDelay: 2 * time.Second,
		Timeout:      2 * time.Minute,
		DefaultQuestions: []string{
			"Cu ce pot înlocui ingredientele principale?",
			"Pot pregăti rețeta cu o zi înainte?",
			"Cum îmi dau seama că preparatul este gata?",
			"Ce garnitură se potrivește cu acest preparat?",
			"Pot dubla cantitățile din rețetă?",
		},
		HistorySize: 1024,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxQuestions <= 0 {
		return fmt.Errorf("max_questions must be positive, got %d", c.MaxQuestions)
	}
	if c.StaggerDelay < 0 {
		return fmt.Errorf("stagger_delay must not be negative, got %s", c.StaggerDelay)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// merge applies the non-zero fields of o
func (c Config) merge(o *Config) Config {
	if o == nil {
		return c
	}
	if o.MaxQuestions > 0 {
		c.MaxQuestions = o.MaxQuestions
	}
	if o.StaggerDelay > 0 {
		c.StaggerDelay = o.StaggerDelay
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if len(o.DefaultQuestions) > 0 {
		c.DefaultQuestions = o.DefaultQuestions
	}
	return c
}

// Request starts a job for one subject
type Request struct {
	SubjectID string
	// Questions, when set, replace prediction entirely
	Questions      []string
	Content        *analyzer.Content
	SubjectContext string
	Config         *Config
}

// Status is a snapshot of a job
type Status struct {
	JobID      string    `json:"job_id"`
	SubjectID  string    `json:"subject_id"`
	State      State     `json:"state"`
	Source     string    `json:"source,omitempty"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Warmed     int       `json:"warmed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Cache is the part of the response cache a job touches
type Cache interface {
	Covered(subjectID, rawQuestion string) bool
	Set(ctx context.Context, subjectID, rawQuestion string, answer *cache.Answer) error
}

// Limiter gates backend calls
type Limiter interface {
	CheckLimit() error
	Acquire() error
}

// Analyzer predicts questions from content
type Analyzer interface {
	Analyze(ctx context.Context, c *analyzer.Content) []analyzer.Question
}

// Popular ranks questions across all subjects
type Popular interface {
	GetTopQuestions(limit int) []analytics.TopQuestion
}
