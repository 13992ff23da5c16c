package main

import (
	"errors"
	"time"

	"github.com/dmitrymomot/quotaledger/pkg/config"
	"github.com/dmitrymomot/quotaledger/pkg/httpserver"
	"github.com/dmitrymomot/quotaledger/pkg/pg"
	"github.com/dmitrymomot/quotaledger/pkg/quota/pgstore"
	"github.com/dmitrymomot/quotaledger/pkg/quota/redisbus"
	"github.com/dmitrymomot/quotaledger/pkg/redis"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Service  string `env:"APP_SERVICE" envDefault:"quotad"`
	LogLevel string `env:"LOG_LEVEL"`

	CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.yaml"`
	Timezone    string `env:"TIMEZONE" envDefault:"UTC"`

	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 1m"`
	ReminderSchedule  string        `env:"REMINDER_SCHEDULE" envDefault:"0 9 * * *"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"30s"`

	ExpirationWarningDays int   `env:"QUOTA_EXPIRATION_WARNING_DAYS" envDefault:"7"`
	ReminderDays          []int `env:"QUOTA_REMINDER_DAYS" envDefault:"7,3,1" envSeparator:","`

	ConsumeOrders bool `env:"QUOTA_CONSUME_ORDERS" envDefault:"true"`
	Migrate       bool `env:"QUOTA_MIGRATE" envDefault:"true"`

	PG    pg.Config
	Redis redis.Config
	Store pgstore.Config
	Bus   redisbus.Config
	HTTP  httpserver.Config
}

// loadConfig reads the environment into appConfig. main loads .env files
// beforehand.
func loadConfig(opts ...config.Option) (appConfig, error) {
	var cfg appConfig
	if err := config.Load(&cfg, opts...); err != nil {
		return appConfig{}, err
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return appConfig{}, errors.Join(config.ErrParsingConfig, err)
	}
	return cfg, nil
}
