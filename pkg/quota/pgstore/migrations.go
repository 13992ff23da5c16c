package pgstore

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the goose migrations of the ledger schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err) // the directory is embedded at build time
	}
	return sub
}

// Tables lists the ledger tables, children first.
func Tables() []string {
	return []string{
		"quota_reservations",
		"quota_usage_records",
		"quota_booster_quotas",
		"quota_booster_subscriptions",
		"quota_usage_periods",
		"quota_subscription_orders",
		"quota_subscriptions",
	}
}
