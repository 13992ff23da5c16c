// Package pg bootstraps PostgreSQL access with the pgx/v5 driver: a retrying
// connection pool, goose migrations from an fs.FS, a readiness probe that
// also checks the schema is in place and helpers that classify *pgconn.PgError values.
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations(), cfg, slog.Default()); err != nil {
//	    return err
//	}
//
//	ready := pg.Healthcheck(pool, pgstore.Tables()...)
//
// # Error Handling
//
// IsDuplicateKeyError, IsCheckViolationError and ConstraintName let a store
// translate constraint violations into domain errors. IsLockTimeoutError
// groups the SQLSTATE codes that signal lock contention (lock_timeout,
// deadlock, serialization failure) so callers can surface them as retryable.
package pg
