package cache

import (
	"strings"
	"time"

	"github.com/developer-mesh/answercache/pkg/answer/static"
)

// Source tells where an answer came from
type Source string

const (
	SourceStatic  Source = "static"
	SourceCache   Source = "cache"
	SourceBackend Source = "backend"
)

// Usage carries token accounting reported by the generation backend
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Answer is the cached payload
type Answer struct {
	Content      string    `json:"content"`
	Model        string    `json:"model,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`

	// Source is set on reads and never persisted
	Source Source `json:"-"`
}

// Key identifies an entry
type Key struct {
	SubjectID string
	Question  string
}

// String returns the persisted form of the key
func (k Key) String() string {
	return k.SubjectID + "|" + k.Question
}

// Entry is a stored answer plus its bookkeeping
type Entry struct {
	Key            Key
	Payload        []byte
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	SizeBytes      int64
	Compressed     bool
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Enabled             bool      `json:"enabled"`
	ItemCount           int       `json:"item_count"`
	MaxEntries          int       `json:"max_entries"`
	TotalBytes          int64     `json:"total_bytes"`
	MaxBytes            int64     `json:"max_bytes"`
	HitCount            int64     `json:"hit_count"`
	MissCount           int64     `json:"miss_count"`
	StaticHitCount      int64     `json:"static_hit_count"`
	HitRate             float64   `json:"hit_rate"`
	EvictionCount       int64     `json:"eviction_count"`
	LastEvictionAt      time.Time `json:"last_eviction_at,omitempty"`
	OldestEntryAt       time.Time `json:"oldest_entry_at,omitempty"`
	NewestEntryAt       time.Time `json:"newest_entry_at,omitempty"`
	CompressedEntries   int       `json:"compressed_entries"`
	AvgCompressionRatio float64   `json:"avg_compression_ratio"`
}

// Normalizer maps raw questions to the question component of a Key
type Normalizer interface {
	Normalize(raw string) string
}

// StaticTable answers recipe-agnostic questions
type StaticTable interface {
	Lookup(text string) (static.Match, bool)
}

// Recorder receives lookup outcomes. Failures are logged and never affect the
// lookup result.
type Recorder interface {
	RecordHit(subjectID, question string) error
	RecordMiss(subjectID, question string) error
	RecordStaticHit(subjectID, question string) error
}

// Matcher selects keys for invalidation
type Matcher func(Key) bool

// BySubject matches every entry of one subject
func BySubject(subjectID string) Matcher {
	return func(k Key) bool { return k.SubjectID == subjectID }
}

// ByCategory matches entries whose normalized question is the category token
// or one of its qualified forms (e.g. "substitution:unt")
func ByCategory(category string) Matcher {
	return func(k Key) bool {
		return k.Question == category || strings.HasPrefix(k.Question, category+":")
	}
}

// All matches every entry
func All() Matcher {
	return func(Key) bool { return true }
}
