package pgstore_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/pg"
	"github.com/dmitrymomot/quotaledger/pkg/quota"
	"github.com/dmitrymomot/quotaledger/pkg/quota/pgstore"
	"github.com/dmitrymomot/quotaledger/pkg/quota/quotatest"
)

// connect returns a migrated pool for the database in QUOTA_TEST_PG_URL and
// skips the test when the variable is unset.
func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("QUOTA_TEST_PG_URL")
	if url == "" {
		t.Skip("QUOTA_TEST_PG_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     25,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		MigrationsTable:  "quota_schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, pgstore.Migrations(), cfg, slog.New(slog.DiscardHandler)))
	require.NoError(t, pg.Healthcheck(pool, pgstore.Tables()...)(ctx))
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE "+strings.Join(pgstore.Tables(), ", "))
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	pool := connect(t)
	quotatest.RunStoreSuite(t, func(t *testing.T) quota.Store {
		truncate(t, pool)
		return pgstore.New(pool, pgstore.Config{LockTimeout: 2 * time.Second})
	})
}

func TestHealthcheckMissingTable(t *testing.T) {
	pool := connect(t)
	err := pg.Healthcheck(pool, "quota_no_such_table")(context.Background())
	require.ErrorIs(t, err, pg.ErrHealthcheckFailed)
	require.ErrorIs(t, err, pg.ErrSchemaNotReady)
}

func TestPostgresLockTimeout(t *testing.T) {
	pool := connect(t)
	truncate(t, pool)
	ctx := context.Background()
	store := pgstore.New(pool, pgstore.Config{LockTimeout: 50 * time.Millisecond})
	svc := quota.NewService(quotatest.Catalog(t), store)
	userID := uuid.New()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(ctx context.Context, tx quota.Tx) error {
			if err := tx.LockUsage(ctx, userID, quotatest.Articles); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	res, err := svc.TryConsume(ctx, userID, quotatest.Articles, 1, "")
	require.NoError(t, err)
	require.Equal(t, quota.KindRetry, res.Kind)

	close(release)
	require.NoError(t, <-done)
}

func TestPostgresSubscriptionReadsDoNotBlockOtherFeatures(t *testing.T) {
	pool := connect(t)
	truncate(t, pool)
	ctx := context.Background()
	store := pgstore.New(pool, pgstore.Config{LockTimeout: 50 * time.Millisecond})
	svc := quota.NewService(quotatest.Catalog(t), store)
	userID := uuid.New()

	_, err := svc.ActivateSubscription(ctx, quota.ActivateSubscriptionParams{UserID: userID, PlanID: quotatest.PlanBasic, OrderID: "order-1"})
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(ctx context.Context, tx quota.Tx) error {
			if err := tx.LockUsage(ctx, userID, quotatest.Articles); err != nil {
				return err
			}
			if _, err := tx.ActiveSubscription(ctx, userID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	res, err := svc.TryConsume(ctx, userID, quotatest.Images, 1, "")
	close(release)
	require.NoError(t, <-done)
	require.NoError(t, err)
	require.True(t, res.Success, "kind %q", res.Kind)
}
