package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

func dayKey(t time.Time) string   { return t.UTC().Format(dayLayout) }
func monthKey(t time.Time) string { return t.UTC().Format(monthLayout) }

// Bucket aggregates one day or one month
type Bucket struct {
	Period     string          `json:"period"`
	Hits       int64           `json:"hits"`
	Misses     int64           `json:"misses"`
	StaticHits int64           `json:"static_hits"`
	Requests   int64           `json:"requests"`
	CostSaved  decimal.Decimal `json:"cost_saved"`
}

// QuestionStats counts one normalized question
type QuestionStats struct {
	Key        string              `json:"key"`
	Question   string              `json:"question"`
	Count      int64               `json:"count"`
	LastSeenAt time.Time           `json:"last_seen_at"`
	Subjects   map[string]struct{} `json:"subjects"`
}

// ledger is the persisted analytics state
type ledger struct {
	Hits       int64                     `json:"hits"`
	Misses     int64                     `json:"misses"`
	StaticHits int64                     `json:"static_hits"`
	CostSaved  decimal.Decimal           `json:"cost_saved"`
	Questions  map[string]*QuestionStats `json:"questions"`
	Daily      map[string]*Bucket        `json:"daily"`
	Monthly    map[string]*Bucket        `json:"monthly"`

	LastDailyRollup   string `json:"last_daily_rollup,omitempty"`
	LastMonthlyRollup string `json:"last_monthly_rollup,omitempty"`
}

func newLedger() *ledger {
	return &ledger{
		Questions: make(map[string]*QuestionStats),
		Daily:     make(map[string]*Bucket),
		Monthly:   make(map[string]*Bucket),
	}
}

// ensureMaps repairs a ledger decoded from a partial record
func (l *ledger) ensureMaps() {
	if l.Questions == nil {
		l.Questions = make(map[string]*QuestionStats)
	}
	if l.Daily == nil {
		l.Daily = make(map[string]*Bucket)
	}
	if l.Monthly == nil {
		l.Monthly = make(map[string]*Bucket)
	}
	for _, q := range l.Questions {
		if q.Subjects == nil {
			q.Subjects = make(map[string]struct{})
		}
	}
}

func bucketFor(m map[string]*Bucket, period string) *Bucket {
	b, ok := m[period]
	if !ok {
		b = &Bucket{Period: period}
		m[period] = b
	}
	return b
}

// pruneBuckets keeps the newest keep periods. Period keys sort chronologically.
func pruneBuckets(m map[string]*Bucket, keep int) int {
	if len(m) <= keep {
		return 0
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	drop := keys[:len(keys)-keep]
	for _, k := range drop {
		delete(m, k)
	}
	return len(drop)
}

func sortedBuckets(m map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}
