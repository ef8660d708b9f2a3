// Package kvstore defines the persistent key-value contract used by the answer
// cache, analytics ledger and rate limiter, together with adapters for an
// in-memory byte-budgeted map, BadgerDB, Redis and a SQL table.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key is absent
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrQuotaExceeded is returned by Set when the store's byte budget is exhausted
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

	// ErrUnavailable reports a store that failed its availability probe
	ErrUnavailable = errors.New("kvstore: store unavailable")
)

// Store is the narrow persistence contract
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	EstimateUsedBytes(ctx context.Context) (int64, error)
}

// Closer is implemented by stores holding external resources
type Closer interface {
	Close() error
}
