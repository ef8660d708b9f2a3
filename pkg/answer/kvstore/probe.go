package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// ProbeKey is written and removed by Probe
const ProbeKey = "answercache:probe"

// Probe checks that the store accepts a write, returns it, and deletes it.
// Any failure is wrapped in ErrUnavailable.
func Probe(ctx context.Context, store Store) error {
	if store == nil {
		return ErrUnavailable
	}
	value := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := store.Set(ctx, ProbeKey, value); err != nil {
		return fmt.Errorf("%w: write sentinel: %v", ErrUnavailable, err)
	}
	got, err := store.Get(ctx, ProbeKey)
	if err != nil {
		return fmt.Errorf("%w: read sentinel: %v", ErrUnavailable, err)
	}
	if got != value {
		return fmt.Errorf("%w: sentinel mismatch", ErrUnavailable)
	}
	if err := store.Remove(ctx, ProbeKey); err != nil {
		return fmt.Errorf("%w: remove sentinel: %v", ErrUnavailable, err)
	}
	return nil
}
