// Package static serves zero-cost answers for questions that do not depend on
// a particular recipe, such as unit conversions or storage times.
package static

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/developer-mesh/answercache/pkg/answer/normalize"
)

//go:embed answers.yaml
var defaultTable []byte

const (
	// DefaultAcceptanceThreshold is the minimum score for a row to answer
	DefaultAcceptanceThreshold = 0.8

	// partialWeight caps rows matched word by word below exact phrases
	partialWeight = 0.9
	// containmentWeight scores a word that only matches by containment
	containmentWeight = 0.9
	minContainmentLen = 3
)

// ErrEmptyTable is returned when a table definition has no rows
var ErrEmptyTable = errors.New("static answer table has no rows")

// Row is one group of phrasings sharing an answer
type Row struct {
	ID         string   `yaml:"id"`
	Category   string   `yaml:"category"`
	Confidence float64  `yaml:"confidence"`
	Triggers   []string `yaml:"triggers"`
	Answer     string   `yaml:"answer"`
}

type definition struct {
	Version             int     `yaml:"version"`
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`
	Rows                []Row   `yaml:"rows"`
}

type compiledRow struct {
	row      Row
	triggers []string
	words    [][]string
}

// Match is a successful lookup
type Match struct {
	RowID    string
	Category string
	Answer   string
	Score    float64
}

// Table is a read-only, versioned answer table. Safe for concurrent use.
type Table struct {
	version   int
	threshold float64
	rows      []compiledRow
}

// Default parses the embedded table
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Parse builds a table from its YAML definition
func Parse(data []byte) (*Table, error) {
	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse static answer table: %w", err)
	}
	if len(def.Rows) == 0 {
		return nil, ErrEmptyTable
	}
	if def.AcceptanceThreshold <= 0 {
		def.AcceptanceThreshold = DefaultAcceptanceThreshold
	}

	t := &Table{version: def.Version, threshold: def.AcceptanceThreshold}
	for _, r := range def.Rows {
		if r.Confidence <= 0 || r.Confidence > 1 {
			r.Confidence = 1
		}
		cr := compiledRow{row: r}
		for _, trig := range r.Triggers {
			cleaned := normalize.Clean(trig)
			if cleaned == "" {
				continue
			}
			cr.triggers = append(cr.triggers, cleaned)
			cr.words = append(cr.words, strings.Fields(cleaned))
		}
		if len(cr.triggers) == 0 {
			return nil, fmt.Errorf("static answer row %q has no usable triggers", r.ID)
		}
		t.rows = append(t.rows, cr)
	}
	return t, nil
}

// WithThreshold returns a copy of the table using a different acceptance threshold
func (t *Table) WithThreshold(threshold float64) *Table {
	if threshold <= 0 {
		return t
	}
	cp := *t
	cp.threshold = threshold
	return &cp
}

// Version returns the table version stamp
func (t *Table) Version() int { return t.version }

// Len returns the number of rows
func (t *Table) Len() int { return len(t.rows) }

// Lookup returns the best scoring row for text if it reaches the acceptance
// threshold. text may be raw or already cleaned.
func (t *Table) Lookup(text string) (Match, bool) {
	cleaned := normalize.Clean(text)
	if cleaned == "" {
		return Match{}, false
	}
	words := strings.Fields(cleaned)

	var best Match
	for _, r := range t.rows {
		score := r.score(cleaned, words) * r.row.Confidence
		if score > best.Score {
			best = Match{
				RowID:    r.row.ID,
				Category: r.row.Category,
				Answer:   r.row.Answer,
				Score:    score,
			}
		}
	}
	if best.Score < t.threshold {
		return Match{}, false
	}
	return best, true
}

func (r compiledRow) score(text string, words []string) float64 {
	best := 0.0
	for i, trig := range r.triggers {
		if normalize.ContainsPhrase(text, trig) {
			return 1.0
		}
		if s := partialScore(r.words[i], words); s > best {
			best = s
		}
	}
	return best
}

// partialScore is the weighted fraction of trigger words found in the text
func partialScore(trigger, words []string) float64 {
	if len(trigger) == 0 {
		return 0
	}
	total := 0.0
	for _, tw := range trigger {
		total += wordWeight(tw, words)
	}
	return partialWeight * total / float64(len(trigger))
}

func wordWeight(tw string, words []string) float64 {
	weight := 0.0
	for _, w := range words {
		if w == tw {
			return 1.0
		}
		if contains(w, tw) {
			weight = containmentWeight
		}
	}
	return weight
}

func contains(a, b string) bool {
	if len(a) < minContainmentLen || len(b) < minContainmentLen {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
