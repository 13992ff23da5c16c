// Command quotad runs the quota ledger background daemon: it applies billing
// orders from the order stream, expires ledger rows on a schedule, sends
// expiry reminders and serves metrics and health probes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/quotaledger/pkg/config"
	"github.com/dmitrymomot/quotaledger/pkg/httpserver"
	"github.com/dmitrymomot/quotaledger/pkg/logger"
	"github.com/dmitrymomot/quotaledger/pkg/pg"
	"github.com/dmitrymomot/quotaledger/pkg/quota"
	"github.com/dmitrymomot/quotaledger/pkg/quota/pgstore"
	"github.com/dmitrymomot/quotaledger/pkg/quota/redisbus"
	"github.com/dmitrymomot/quotaledger/pkg/redis"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		slog.Error("failed to load .env", logger.Error(err))
		os.Exit(1)
	}
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", logger.Error(err))
		os.Exit(1)
	}

	opts := []logger.Option{logger.WithEnvironment(cfg.Env, cfg.Service)}
	if cfg.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(cfg.LogLevel))
	}
	log := logger.New(opts...)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("quotad stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("quotad stopped")
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	catalog, err := quota.LoadCatalogFile(cfg.CatalogPath)
	if err != nil {
		return err
	}

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Migrate {
		if err := pg.Migrate(ctx, pool, pgstore.Migrations(), cfg.PG, log); err != nil {
			return err
		}
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis client", logger.Error(err))
		}
	}()

	publisher, err := redisbus.NewPublisher(rdb, cfg.Bus)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := quota.NewService(catalog, pgstore.New(pool, cfg.Store),
		quota.WithLogger(log),
		quota.WithMetrics(quota.NewMetrics(reg)),
		quota.WithNotifier(publisher),
		quota.WithLocation(loc),
		quota.WithExpirationWarningDays(cfg.ExpirationWarningDays),
		quota.WithReminderDays(cfg.ReminderDays...),
	)

	scheduler, err := newScheduler(ctx, cfg, loc, svc, log)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpserver.LivenessHandler())
	var streams []string
	if cfg.ConsumeOrders {
		streams = append(streams, cfg.Bus.OrdersStream)
	}
	r.Get("/readyz", httpserver.ReadinessHandler(log, cfg.HTTP.ProbeTimeout,
		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool, pgstore.Tables()...)},
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb, streams...)},
	))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log.With(logger.Component("ops_server"))))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Run(ctx, r) })

	g.Go(func() error {
		scheduler.Start()
		log.InfoContext(ctx, "scheduler started",
			"reconcile", cfg.ReconcileSchedule,
			"reminders", cfg.ReminderSchedule,
		)
		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	if cfg.ConsumeOrders {
		consumer, err := redisbus.NewOrderConsumer(rdb, svc, cfg.Bus, redisbus.WithConsumerLogger(log))
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
