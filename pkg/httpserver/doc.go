// Package httpserver runs the operational HTTP endpoint of the quota daemon:
// metrics, liveness and readiness probes.
//
// Server binds its listener before running listen callbacks, so a bad address
// fails Run immediately with ErrStart. Run returns once the context is
// cancelled and in-flight requests have drained within the shutdown timeout.
// Signal handling belongs to the caller; wrap the context with
// signal.NotifyContext.
//
//	r := chi.NewRouter()
//	r.Get("/healthz", httpserver.LivenessHandler())
//	r.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second,
//		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool, pgstore.Tables()...)},
//	))
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	err := srv.Run(ctx, r)
package httpserver
