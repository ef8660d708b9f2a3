package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// Option configures a Cache
type Option func(*Cache)

// WithStaticTable sets the table consulted before every lookup
func WithStaticTable(t StaticTable) Option {
	return func(c *Cache) { c.static = t }
}

// WithRecorder sets the analytics sink
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// WithStore enables write-through persistence
func WithStore(s kvstore.Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger
func WithLogger(l observability.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the answer cache. All methods are safe for concurrent use; every
// mutation holds the lock until aggregates are consistent again.
type Cache struct {
	cfg        Config
	normalizer Normalizer
	static     StaticTable
	recorder   Recorder
	store      kvstore.Store
	codec      *Codec
	logger     observability.Logger
	now        func() time.Time

	mu             sync.Mutex
	entries        map[Key]*list.Element
	order          *list.List // front is most recently accessed
	touched        map[Key]struct{}
	totalBytes     int64
	hitCount       int64
	missCount      int64
	staticHitCount int64
	evictionCount  int64
	lastEvictionAt time.Time
	ratioSum       float64
	ratioCount     int64
}

// New creates an empty cache. Call Load to rehydrate from the store.
func New(cfg Config, normalizer Normalizer, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if normalizer == nil {
		return nil, errors.New("cache requires a normalizer")
	}
	codec, err := NewCodec(cfg.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:        cfg,
		normalizer: normalizer,
		codec:      codec,
		now:        time.Now,
		entries:    make(map[Key]*list.Element),
		order:      list.New(),
		touched:    make(map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = observability.NewLogger("answer.cache")
	}
	return c, nil
}

// Key returns the cache key for a raw question
func (c *Cache) Key(subjectID, rawQuestion string) Key {
	return Key{SubjectID: subjectID, Question: c.normalizer.Normalize(rawQuestion)}
}

// Get returns a static answer if one matches, otherwise the cached answer for
// the subject. Expired and undecodable entries are removed and reported as
// misses.
func (c *Cache) Get(ctx context.Context, subjectID, rawQuestion string) (*Answer, bool) {
	ctx, span := observability.StartSpan(ctx, "answer.cache.get")
	defer span.End()

	if c.static != nil {
		if m, ok := c.static.Lookup(rawQuestion); ok {
			c.mu.Lock()
			c.staticHitCount++
			c.mu.Unlock()
			c.recordOutcome("static", subjectID, rawQuestion)
			span.SetAttribute("outcome", "static")
			return &Answer{
				Content: m.Answer,
				Model:   "static:" + m.RowID,
				Source:  SourceStatic,
			}, true
		}
	}

	key := c.Key(subjectID, rawQuestion)
	answer, outcome := c.lookup(ctx, key)
	c.recordOutcome(outcome, subjectID, rawQuestion)
	span.SetAttribute("outcome", outcome)
	return answer, answer != nil
}

func (c *Cache) lookup(ctx context.Context, key Key) (*Answer, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.missCount++
		return nil, "miss"
	}
	e := el.Value.(*Entry)
	now := c.now()

	if c.expired(e, now) {
		c.removeLocked(el, reasonExpired)
		c.forgetLocked(ctx, []Key{key})
		c.missCount++
		return nil, "expired"
	}

	answer, err := c.decode(e)
	if err != nil {
		c.logger.Warn("Evicting undecodable cache entry", map[string]interface{}{
			"subject_id": key.SubjectID,
			"question":   key.Question,
			"error":      err.Error(),
		})
		c.removeLocked(el, reasonCorrupt)
		c.forgetLocked(ctx, []Key{key})
		c.missCount++
		return nil, "corrupt"
	}

	e.LastAccessedAt = now
	e.AccessCount++
	c.order.MoveToFront(el)
	c.touched[key] = struct{}{}
	c.hitCount++
	answer.Source = SourceCache
	return answer, "hit"
}

func (c *Cache) decode(e *Entry) (*Answer, error) {
	payload := e.Payload
	if e.Compressed {
		var err error
		if payload, err = c.codec.Decode(payload); err != nil {
			return nil, err
		}
	}
	var a Answer
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	return &a, nil
}

// Set stores answer for the subject and question, evicting older entries as
// needed. A returned error means the answer is not cached; the caller may
// ignore it.
func (c *Cache) Set(ctx context.Context, subjectID, rawQuestion string, answer *Answer) error {
	if answer == nil {
		return errors.New("cache: nil answer")
	}
	ctx, span := observability.StartSpan(ctx, "answer.cache.set")
	defer span.End()

	key := c.Key(subjectID, rawQuestion)
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	stored, compressed, ratio := c.codec.Encode(payload)
	size := int64(len(key.String()) + len(stored) + c.cfg.EntryOverheadBytes)
	span.SetAttribute("size_bytes", size)
	span.SetAttribute("compressed", compressed)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.cfg.MaxBytes {
		return fmt.Errorf("%w: %d > %d", ErrEntryTooLarge, size, c.cfg.MaxBytes)
	}

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el, "")
	}

	var removed []Key
	if len(c.entries) >= c.cfg.MaxEntries {
		if k, ok := c.evictOldestLocked(reasonCapacity); ok {
			removed = append(removed, k)
		}
	}
	for c.totalBytes+size > c.cfg.MaxBytes {
		k, ok := c.evictOldestLocked(reasonBytes)
		if !ok {
			break
		}
		removed = append(removed, k)
	}

	now := c.now()
	e := &Entry{
		Key:            key,
		Payload:        stored,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      size,
		Compressed:     compressed,
	}
	c.insertLocked(e)
	if compressed {
		c.ratioSum += ratio
		c.ratioCount++
		compressionRatio.Observe(ratio)
	}

	return c.persistLocked(ctx, e, removed)
}

// Has reports whether a live entry exists without touching access order or
// hit statistics.
func (c *Cache) Has(subjectID, rawQuestion string) bool {
	key := c.Key(subjectID, rawQuestion)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	return ok && !c.expired(el.Value.(*Entry), c.now())
}

// Peek returns the live cached answer without consulting the static table and
// without touching access order, statistics or analytics
func (c *Cache) Peek(subjectID, rawQuestion string) (*Answer, bool) {
	key := c.Key(subjectID, rawQuestion)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry)
	if c.expired(e, c.now()) {
		return nil, false
	}
	a, err := c.decode(e)
	if err != nil {
		return nil, false
	}
	a.Source = SourceCache
	return a, true
}

// Covered reports whether a lookup would be answered without the backend,
// either by the static table or by a live entry. It records nothing.
func (c *Cache) Covered(subjectID, rawQuestion string) bool {
	if c.static != nil {
		if _, ok := c.static.Lookup(rawQuestion); ok {
			return true
		}
	}
	return c.Has(subjectID, rawQuestion)
}

// Invalidate removes every entry matched by m and returns how many were removed
func (c *Cache) Invalidate(ctx context.Context, m Matcher) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []Key
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if m(e.Key) {
			c.removeLocked(el, "")
			removed = append(removed, e.Key)
		}
		el = next
	}
	if len(removed) > 0 {
		c.forgetLocked(ctx, removed)
		c.logger.Info("Invalidated cache entries", map[string]interface{}{"count": len(removed)})
	}
	return len(removed)
}

// Sweep removes expired entries and returns how many were removed
func (c *Cache) Sweep(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed []Key
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*Entry)
		if c.expired(e, now) {
			c.removeLocked(el, reasonExpired)
			removed = append(removed, e.Key)
		}
		el = prev
	}
	if len(removed) > 0 {
		c.forgetLocked(ctx, removed)
	}
	return len(removed)
}

// StartSweeper runs Sweep every interval until ctx is done
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
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
				if n := c.Sweep(ctx); n > 0 {
					c.logger.Debug("Swept expired cache entries", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}

// Clear removes every entry from memory and the store
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(ctx)
}

// Keys returns the cached keys ordered from least to most recently accessed
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for el := c.order.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*Entry).Key)
	}
	return keys
}

// Stats returns current statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Enabled:        true,
		ItemCount:      len(c.entries),
		MaxEntries:     c.cfg.MaxEntries,
		TotalBytes:     c.totalBytes,
		MaxBytes:       c.cfg.MaxBytes,
		HitCount:       c.hitCount,
		MissCount:      c.missCount,
		StaticHitCount: c.staticHitCount,
		EvictionCount:  c.evictionCount,
		LastEvictionAt: c.lastEvictionAt,
	}
	if total := c.hitCount + c.missCount; total > 0 {
		s.HitRate = float64(c.hitCount) / float64(total)
	}
	if c.ratioCount > 0 {
		s.AvgCompressionRatio = c.ratioSum / float64(c.ratioCount)
	}
	for _, el := range c.entries {
		e := el.Value.(*Entry)
		if e.Compressed {
			s.CompressedEntries++
		}
		if s.OldestEntryAt.IsZero() || e.CreatedAt.Before(s.OldestEntryAt) {
			s.OldestEntryAt = e.CreatedAt
		}
		if e.CreatedAt.After(s.NewestEntryAt) {
			s.NewestEntryAt = e.CreatedAt
		}
	}
	return s
}

// Flush persists access metadata of entries read since the last write,
// together with the current recency order
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	c.flushTouchedLocked(ctx)
	if err := c.writeIndexLocked(ctx); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return nil
}

// Close releases codec resources
func (c *Cache) Close() {
	c.codec.Close()
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) >= c.cfg.TTL
}

func (c *Cache) recordOutcome(outcome, subjectID, question string) {
	lookups.WithLabelValues(outcome).Inc()
	if c.recorder == nil {
		return
	}
	var err error
	switch outcome {
	case "static":
		err = c.recorder.RecordStaticHit(subjectID, question)
	case "hit":
		err = c.recorder.RecordHit(subjectID, question)
	default:
		err = c.recorder.RecordMiss(subjectID, question)
	}
	if err != nil {
		c.logger.Debug("Failed to record lookup outcome", map[string]interface{}{
			"outcome": outcome,
			"error":   err.Error(),
		})
	}
}
