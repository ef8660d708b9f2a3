// Package normalize maps raw recipe questions to canonical category tokens
// used as cache keys and for grouping equivalent phrasings.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/developer-mesh/answercache/pkg/observability"
)

const (
	// DefaultMemoSize bounds the raw-question memo
	DefaultMemoSize = 512
	// DefaultLatencyBudget is the time after which a slow normalization is logged
	DefaultLatencyBudget = 3 * time.Millisecond

	maxSlugLength = 96
)

// Config configures a Normalizer
type Config struct {
	MemoSize      int           `mapstructure:"memo_size"`
	LatencyBudget time.Duration `mapstructure:"latency_budget"`
	// Patterns replaces the built-in table when non-empty
	Patterns []Pattern `mapstructure:"-"`
}

// DefaultConfig returns the default normalizer configuration
func DefaultConfig() Config {
	return Config{
		MemoSize:      DefaultMemoSize,
		LatencyBudget: DefaultLatencyBudget,
	}
}

type compiledPattern struct {
	category string
	priority int
	terms    []string
	stemmed  []string
}

// Normalizer turns free-form questions into deterministic category tokens
type Normalizer struct {
	patterns []compiledPattern
	memo     *lru.Cache[string, string]
	budget   time.Duration
	logger   observability.Logger
}

// New creates a Normalizer
func New(cfg Config, logger observability.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = observability.NewLogger("answer.normalize")
	}
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = DefaultMemoSize
	}
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = DefaultLatencyBudget
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}

	memo, err := lru.New[string, string](cfg.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create normalizer memo: %w", err)
	}

	return &Normalizer{
		patterns: compile(patterns),
		memo:     memo,
		budget:   cfg.LatencyBudget,
		logger:   logger,
	}, nil
}

func compile(patterns []Pattern) []compiledPattern {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		cp := compiledPattern{category: p.Category, priority: p.Priority}
		for _, term := range p.Terms {
			cleaned := Clean(term)
			if cleaned == "" {
				continue
			}
			cp.terms = append(cp.terms, cleaned)
			cp.stemmed = append(cp.stemmed, StemPhrase(cleaned))
		}
		out = append(out, cp)
	}
	// Stable so equal priorities keep table order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority > out[j].priority
	})
	return out
}

type match struct {
	category string
	priority int
	term     string
	pos      int
}

func (m match) betterThan(o match) bool {
	if m.priority != o.priority {
		return m.priority > o.priority
	}
	if len(m.term) != len(o.term) {
		return len(m.term) > len(o.term)
	}
	return m.pos < o.pos
}

// Normalize returns the category token for raw. The result is a pure function
// of the input.
func (n *Normalizer) Normalize(raw string) string {
	if v, ok := n.memo.Get(raw); ok {
		return v
	}

	start := time.Now()
	result := n.normalize(raw)
	if elapsed := time.Since(start); elapsed > n.budget {
		n.logger.Warn("Question normalization exceeded latency budget", map[string]interface{}{
			"elapsed_us": elapsed.Microseconds(),
			"budget_us":  n.budget.Microseconds(),
		})
	}

	n.memo.Add(raw, result)
	return result
}

func (n *Normalizer) normalize(raw string) string {
	cleaned := Clean(raw)
	if cleaned == "" {
		return ""
	}

	if m, ok := n.bestMatch(cleaned, false); ok {
		return n.token(m, cleaned)
	}

	stemmed := StemPhrase(cleaned)
	if m, ok := n.bestMatch(stemmed, true); ok {
		return n.token(m, stemmed)
	}

	return slug(cleaned)
}

func (n *Normalizer) bestMatch(text string, useStems bool) (match, bool) {
	var best match
	found := false
	for _, p := range n.patterns {
		// Patterns are sorted; nothing below a found priority can win.
		if found && p.priority < best.priority {
			break
		}
		terms := p.terms
		if useStems {
			terms = p.stemmed
		}
		for _, term := range terms {
			pos := containsPhrase(text, term)
			if pos < 0 {
				continue
			}
			m := match{category: p.category, priority: p.priority, term: term, pos: pos}
			if !found || m.betterThan(best) {
				best = m
				found = true
			}
		}
	}
	return best, found
}

func (n *Normalizer) token(m match, text string) string {
	if m.category != CategorySubstitution {
		return m.category
	}
	if word := contextWord(text, m); word != "" {
		return m.category + ":" + word
	}
	return m.category
}

// contextWord returns the first non-stop word after the matched term, stemmed
// so that singular and plural forms share a bucket.
func contextWord(text string, m match) string {
	// pos is an offset into " "+text+" "
	end := m.pos + len(m.term)
	if end >= len(text) {
		return ""
	}
	for _, w := range strings.Fields(text[end:]) {
		if IsStopWord(w) {
			continue
		}
		return Stem(w)
	}
	return ""
}

func slug(cleaned string) string {
	r := []rune(strings.ReplaceAll(cleaned, " ", "-"))
	if len(r) > maxSlugLength {
		r = r[:maxSlugLength]
	}
	return strings.TrimRight(string(r), "-")
}
