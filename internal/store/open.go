package store

import (
	"context"
	"fmt"

	"keygate/internal/config"
)

// Open builds the KeyStore selected by cfg and checks connectivity.
func Open(ctx context.Context, cfg config.StoreConfig) (KeyStore, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory, "":
		return NewMemoryStore(), nil
	case config.StoreBackendRedis:
		client, err := Connect(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		s := NewRedisStore(client, cfg.OperationTimeout)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Backend)
	}
}
