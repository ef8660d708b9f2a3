package cache

import (
	"container/list"
	"context"
	"math"
)

// Eviction reasons counted in Stats.EvictionCount
var countedReasons = map[string]bool{
	reasonCapacity: true,
	reasonBytes:    true,
	reasonQuota:    true,
	reasonCorrupt:  true,
}

func (c *Cache) insertLocked(e *Entry) {
	c.entries[e.Key] = c.order.PushFront(e)
	c.totalBytes += e.SizeBytes
	c.updateGaugesLocked()
}

// removeLocked drops an element and keeps totals consistent. An empty reason
// is a replacement or invalidation and is not reported as an eviction.
func (c *Cache) removeLocked(el *list.Element, reason string) {
	e := el.Value.(*Entry)
	c.order.Remove(el)
	delete(c.entries, e.Key)
	delete(c.touched, e.Key)
	c.totalBytes -= e.SizeBytes

	if reason != "" {
		evictions.WithLabelValues(reason).Inc()
	}
	if countedReasons[reason] {
		c.evictionCount++
		c.lastEvictionAt = c.now()
	}
	c.updateGaugesLocked()
}

// evictOldestLocked removes the least recently accessed entry
func (c *Cache) evictOldestLocked(reason string) (Key, bool) {
	el := c.order.Back()
	if el == nil {
		return Key{}, false
	}
	k := el.Value.(*Entry).Key
	c.removeLocked(el, reason)
	return k, true
}

// evictFractionLocked drops the oldest share of entries, never keep
func (c *Cache) evictFractionLocked(keep Key) []Key {
	candidates := len(c.entries) - 1
	if candidates <= 0 {
		return nil
	}
	n := int(math.Ceil(float64(candidates) * c.cfg.QuotaEvictionFraction))

	removed := make([]Key, 0, n)
	for el := c.order.Back(); el != nil && len(removed) < n; {
		prev := el.Prev()
		if k := el.Value.(*Entry).Key; k != keep {
			c.removeLocked(el, reasonQuota)
			removed = append(removed, k)
		}
		el = prev
	}
	return removed
}

func (c *Cache) clearLocked(ctx context.Context) {
	removed := make([]Key, 0, len(c.entries))
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		removed = append(removed, el.Value.(*Entry).Key)
		c.removeLocked(el, reasonCleared)
		el = prev
	}
	if c.store == nil {
		return
	}
	for _, k := range removed {
		c.removeRecordLocked(ctx, k)
	}
	if err := c.store.Remove(ctx, c.indexKey()); err != nil {
		c.logger.Warn("Failed to remove cache index", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Cache) updateGaugesLocked() {
	sizeBytes.Set(float64(c.totalBytes))
	entryCount.Set(float64(len(c.entries)))
}
