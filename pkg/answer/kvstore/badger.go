package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/developer-mesh/answercache/pkg/observability"
)

// BadgerConfig configures the Badger-backed store
type BadgerConfig struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
	// MaxBytes caps the logical size of stored keys and values. Zero disables the check.
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type badgerLogger struct {
	logger observability.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// Badger is a Store on top of an embedded BadgerDB
type Badger struct {
	db       *badger.DB
	maxBytes int64
}

// OpenBadger opens (or creates) a Badger database
func OpenBadger(cfg BadgerConfig, logger observability.Logger) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if logger == nil {
		logger = observability.NewLogger("answer.kvstore.badger")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, maxBytes: cfg.MaxBytes}, nil
}

// Get implements Store
func (b *Badger) Get(_ context.Context, key string) (string, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger get %s: %w", key, err)
	}
	return string(value), nil
}

// Set implements Store
func (b *Badger) Set(ctx context.Context, key, value string) error {
	if b.maxBytes > 0 {
		used, err := b.EstimateUsedBytes(ctx)
		if err != nil {
			return err
		}
		delta := int64(len(key) + len(value))
		old, err := b.Get(ctx, key)
		switch {
		case err == nil:
			delta -= int64(len(key) + len(old))
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if used+delta > b.maxBytes {
			return ErrQuotaExceeded
		}
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return ErrQuotaExceeded
	}
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// Remove implements Store
func (b *Badger) Remove(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger remove %s: %w", key, err)
	}
	return nil
}

// EstimateUsedBytes sums key and value sizes of live items
func (b *Badger) EstimateUsedBytes(_ context.Context) (int64, error) {
	var total int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			total += int64(len(item.Key())) + int64(item.ValueSize())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger size scan: %w", err)
	}
	return total, nil
}

// Close closes the underlying database
func (b *Badger) Close() error {
	return b.db.Close()
}
