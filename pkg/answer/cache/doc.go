// Package cache implements the size- and time-bounded answer cache.
//
// Entries are keyed by subject and normalized question. Before the cache is
// consulted the static answer table is checked, so recipe-agnostic questions
// never occupy cache space. Large payloads are stored zstd-compressed.
//
// Eviction is least-recently-used: when the entry cap is reached the single
// oldest entry is dropped, and when the byte budget would be exceeded entries
// are dropped oldest first until the new one fits. Expiry is checked lazily on
// read; StartSweeper can reclaim expired entries proactively.
//
// When a Store is attached every mutation is written through. A store that
// reports quota exhaustion triggers an aggressive pass that drops the oldest
// quarter of entries and retries once; if the retry fails too the whole cache
// is cleared.
package cache
