package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
)

type metaRecord struct {
	Version   int       `json:"version"`
	WrittenAt time.Time `json:"written_at"`
}

type entryRecord struct {
	SubjectID      string    `json:"subject_id"`
	Question       string    `json:"question"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	Compressed     bool      `json:"compressed"`
}

func (c *Cache) metaKey() string  { return c.cfg.KeyPrefix + ":meta" }
func (c *Cache) indexKey() string { return c.cfg.KeyPrefix + ":index" }
func (c *Cache) entryKey(k string) string {
	return c.cfg.KeyPrefix + ":entry:" + k
}

// Load rehydrates the cache from the store. A schema version mismatch discards
// every persisted entry and starts empty; nothing else is touched.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.store.Get(ctx, c.metaKey())
	if errors.Is(err, kvstore.ErrNotFound) {
		return c.writeMetaLocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("read cache meta: %w", err)
	}

	var meta metaRecord
	if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta.Version != c.cfg.SchemaVersion {
		c.logger.Info("Cache schema version changed, discarding persisted entries", map[string]interface{}{
			"stored_version":  meta.Version,
			"current_version": c.cfg.SchemaVersion,
		})
		c.discardPersistedLocked(ctx)
		return c.writeMetaLocked(ctx)
	}

	keys, err := c.readIndexLocked(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	loaded := make([]*Entry, 0, len(keys))
	var drop []Key
	for _, sk := range keys {
		e, err := c.readEntryLocked(ctx, sk)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			c.logger.Warn("Skipping unreadable persisted entry", map[string]interface{}{
				"key":   sk,
				"error": err.Error(),
			})
			_ = c.store.Remove(ctx, c.entryKey(sk))
			continue
		}
		if c.expired(e, now) {
			drop = append(drop, e.Key)
			continue
		}
		loaded = append(loaded, e)
	}

	// The index runs from least to most recently accessed
	for _, e := range loaded {
		c.insertLocked(e)
	}

	// Limits may have shrunk since the entries were written
	for len(c.entries) > c.cfg.MaxEntries {
		k, _ := c.evictOldestLocked(reasonCapacity)
		drop = append(drop, k)
	}
	for c.totalBytes > c.cfg.MaxBytes {
		k, ok := c.evictOldestLocked(reasonBytes)
		if !ok {
			break
		}
		drop = append(drop, k)
	}

	if len(drop) > 0 || len(loaded) != len(keys) {
		c.forgetLocked(ctx, drop)
	}

	c.logger.Info("Cache rehydrated", map[string]interface{}{
		"entries":     len(c.entries),
		"total_bytes": c.totalBytes,
		"dropped":     len(drop),
	})
	return nil
}

func (c *Cache) writeMetaLocked(ctx context.Context) error {
	data, err := json.Marshal(metaRecord{Version: c.cfg.SchemaVersion, WrittenAt: c.now()})
	if err != nil {
		return fmt.Errorf("encode cache meta: %w", err)
	}
	if err := c.store.Set(ctx, c.metaKey(), string(data)); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

func (c *Cache) readIndexLocked(ctx context.Context) ([]string, error) {
	raw, err := c.store.Get(ctx, c.indexKey())
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		c.logger.Warn("Discarding corrupt cache index", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	return keys, nil
}

func (c *Cache) readEntryLocked(ctx context.Context, storageKey string) (*Entry, error) {
	raw, err := c.store.Get(ctx, c.entryKey(storageKey))
	if err != nil {
		return nil, err
	}
	var rec entryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	key := Key{SubjectID: rec.SubjectID, Question: rec.Question}
	return &Entry{
		Key:            key,
		Payload:        rec.Payload,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
		AccessCount:    rec.AccessCount,
		SizeBytes:      int64(len(key.String()) + len(rec.Payload) + c.cfg.EntryOverheadBytes),
		Compressed:     rec.Compressed,
	}, nil
}

// discardPersistedLocked removes every indexed entry and the index itself
func (c *Cache) discardPersistedLocked(ctx context.Context) {
	keys, _ := c.readIndexLocked(ctx)
	for _, sk := range keys {
		if err := c.store.Remove(ctx, c.entryKey(sk)); err != nil {
			c.logger.Warn("Failed to remove persisted entry", map[string]interface{}{"key": sk, "error": err.Error()})
		}
	}
	if err := c.store.Remove(ctx, c.indexKey()); err != nil {
		c.logger.Warn("Failed to remove cache index", map[string]interface{}{"error": err.Error()})
	}
}

// persistLocked writes e and drops removed keys. A quota failure triggers the
// aggressive pass; any other store failure is logged and the in-memory entry
// stays authoritative.
func (c *Cache) persistLocked(ctx context.Context, e *Entry, removed []Key) error {
	if c.store == nil {
		return nil
	}
	for _, k := range removed {
		c.removeRecordLocked(ctx, k)
	}
	c.flushTouchedLocked(ctx)

	err := c.writeEntryLocked(ctx, e)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kvstore.ErrQuotaExceeded) {
		persistFailures.WithLabelValues("error").Inc()
		c.logger.Warn("Failed to persist cache entry", map[string]interface{}{
			"subject_id": e.Key.SubjectID,
			"error":      err.Error(),
		})
		return nil
	}

	persistFailures.WithLabelValues("quota").Inc()
	dropped := c.evictFractionLocked(e.Key)
	for _, k := range dropped {
		c.removeRecordLocked(ctx, k)
	}
	c.logger.Warn("Store quota exceeded, evicted oldest entries", map[string]interface{}{
		"evicted":   len(dropped),
		"remaining": len(c.entries),
	})

	if err := c.writeEntryLocked(ctx, e); err == nil {
		return nil
	}

	persistFailures.WithLabelValues("quota_unrecoverable").Inc()
	c.logger.Error("Store quota still exceeded after eviction, clearing cache", map[string]interface{}{
		"entries": len(c.entries),
	})
	c.clearLocked(ctx)
	return ErrCacheCleared
}

func (c *Cache) writeEntryLocked(ctx context.Context, e *Entry) error {
	if err := c.writeRecordLocked(ctx, e); err != nil {
		return err
	}
	delete(c.touched, e.Key)
	return c.writeIndexLocked(ctx)
}

// flushTouchedLocked rewrites the records of entries read since they were
// last written
func (c *Cache) flushTouchedLocked(ctx context.Context) {
	for k := range c.touched {
		delete(c.touched, k)
		el, ok := c.entries[k]
		if !ok {
			continue
		}
		if err := c.writeRecordLocked(ctx, el.Value.(*Entry)); err != nil {
			c.logger.Debug("Failed to persist access metadata", map[string]interface{}{
				"key":   k.String(),
				"error": err.Error(),
			})
		}
	}
}

func (c *Cache) writeRecordLocked(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(entryRecord{
		SubjectID:      e.Key.SubjectID,
		Question:       e.Key.Question,
		Payload:        e.Payload,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		AccessCount:    e.AccessCount,
		Compressed:     e.Compressed,
	})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return c.store.Set(ctx, c.entryKey(e.Key.String()), string(data))
}

func (c *Cache) writeIndexLocked(ctx context.Context) error {
	keys := make([]string, 0, len(c.entries))
	for el := c.order.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*Entry).Key.String())
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return c.store.Set(ctx, c.indexKey(), string(data))
}

// forgetLocked removes records for keys no longer cached and rewrites the index
func (c *Cache) forgetLocked(ctx context.Context, keys []Key) {
	if c.store == nil {
		return
	}
	for _, k := range keys {
		c.removeRecordLocked(ctx, k)
	}
	if err := c.writeIndexLocked(ctx); err != nil {
		c.logger.Warn("Failed to rewrite cache index", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Cache) removeRecordLocked(ctx context.Context, k Key) {
	if err := c.store.Remove(ctx, c.entryKey(k.String())); err != nil {
		c.logger.Warn("Failed to remove persisted entry", map[string]interface{}{
			"key":   k.String(),
			"error": err.Error(),
		})
	}
}
