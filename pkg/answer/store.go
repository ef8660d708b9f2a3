package answer

import (
	"context"
	"fmt"

	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// OpenStore opens the key-value store selected by cfg.Driver
func OpenStore(ctx context.Context, cfg StoreConfig, logger observability.Logger) (kvstore.Store, error) {
	if logger == nil {
		logger = observability.NewLogger("answer.store")
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return kvstore.NewMemory(cfg.MemoryMaxBytes), nil
	case DriverBadger:
		store, err := kvstore.OpenBadger(cfg.Badger, logger.WithPrefix("badger"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverRedis:
		return kvstore.NewRedis(cfg.Redis), nil
	case DriverSQL:
		store, err := kvstore.OpenSQL(ctx, cfg.SQL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
