// Package redis connects to a Redis server with the go-redis client and
// exposes a readiness probe for it.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	ready := redis.Healthcheck(client, "billing.orders")
//
// Keys passed to Healthcheck must exist for the probe to pass. quotad uses
// this to wait for the billing orders stream.
//
// Config fields are populated from environment variables via
// github.com/caarlos0/env. Errors wrap the sentinels in errors.go with
// errors.Join, so they can be matched with errors.Is.
package redis
