// internal/store/connect.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Connect opens a pool for cfg.DSN and wraps it in a Store. The returned
// cleanup closes the pool.
func Connect(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Store, func(), error) {
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("store DSN is not configured (CARTPILOT_STORE_DSN)")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := New(connectCtx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}
