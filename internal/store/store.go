// Package store provides shared sliding-window stores for rate limiting so
// that limits hold across replicas.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/db"
	"github.com/sells-group/vision-cli/internal/resilience"
)

// WindowStore is a resilience.WindowStore with a lifecycle.
type WindowStore interface {
	resilience.WindowStore
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the configured shared store. The "memory" driver returns
// nil, which leaves each limiter on its process-local window.
func Open(ctx context.Context, cfg config.StoreConfig) (WindowStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return nil, nil
	case "redis":
		return NewRedis(ctx, cfg.URL)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.URL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "store: open postgres")
		}
		s := NewPostgres(pool)
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLite(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// OpenOrLocal is Open for server startup. A shared store that cannot be
// reached is logged and replaced by nil, so limiters run on their
// process-local windows. Configuration errors are still returned.
func OpenOrLocal(ctx context.Context, cfg config.StoreConfig) (WindowStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory", "redis", "postgres", "sqlite":
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	s, err := Open(ctx, cfg)
	if err != nil {
		zap.L().Warn("shared rate limit store unavailable, using process-local windows",
			zap.String("driver", cfg.Driver),
			zap.Error(err),
		)
		return nil, nil
	}
	return s, nil
}
