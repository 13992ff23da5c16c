package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Healthcheck returns a readiness probe that pings the pool and, when tables
// are given, verifies that each of them exists. A missing table usually means
// migrations have not been applied yet.
func Healthcheck(pool *pgxpool.Pool, tables ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		for _, table := range tables {
			var exists bool
			if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
				return errors.Join(ErrHealthcheckFailed, err)
			}
			if !exists {
				return errors.Join(ErrHealthcheckFailed, ErrSchemaNotReady, fmt.Errorf("table %q does not exist", table))
			}
		}
		return nil
	}
}
