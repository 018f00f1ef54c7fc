package server

import (
	"context"
	"fmt"

	"github.com/aspect-build/veritas/internal/nonce"
)

// OpenNonceStore builds the configured nonce store. The returned closer
// releases the store and any client it owns.
func OpenNonceStore(ctx context.Context, cfg *Config) (nonce.Store, func() error, error) {
	switch cfg.NonceStore {
	case StoreSQLite:
		s, err := nonce.NewSQLiteStore(cfg.DBPath, cfg.NonceTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case StoreRedis:
		client, err := nonce.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		s := nonce.NewRedisStore(client, nonce.WithRetention(cfg.NonceTTL))
		return s, client.Close, nil
	case StoreMemory, "":
		s := nonce.NewMemoryStore(cfg.NonceTTL)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown nonce store %q", cfg.NonceStore)
	}
}
