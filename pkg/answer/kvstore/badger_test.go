package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/answercache/pkg/observability"
)

func openTestBadger(t *testing.T, maxBytes int64) *Badger {
	t.Helper()
	b, err := OpenBadger(BadgerConfig{InMemory: true, MaxBytes: maxBytes}, observability.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestBadger(t, 0)

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Set(ctx, "answer:r1|duration", "payload"))
	got, err := b.Get(ctx, "answer:r1|duration")
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	used, err := b.EstimateUsedBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("answer:r1|duration")+len("payload")), used)

	require.NoError(t, b.Remove(ctx, "answer:r1|duration"))
	_, err = b.Get(ctx, "answer:r1|duration")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadger_Quota(t *testing.T) {
	ctx := context.Background()
	b := openTestBadger(t, 16)

	require.NoError(t, b.Set(ctx, "k1", "0123456789"))
	assert.ErrorIs(t, b.Set(ctx, "k2", "0123456789"), ErrQuotaExceeded)
	require.NoError(t, b.Set(ctx, "k1", "short"))
}

func TestBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{}, observability.NewNoopLogger())
	assert.Error(t, err)
}

func TestBadger_Probe(t *testing.T) {
	require.NoError(t, Probe(context.Background(), openTestBadger(t, 0)))
}
