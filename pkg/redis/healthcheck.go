package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Healthcheck returns a readiness probe that pings the server and checks that
// every given key exists, e.g. a stream whose consumer group must be created
// before the service can take traffic.
func Healthcheck(client redis.UniversalClient, keys ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		for _, key := range keys {
			n, err := client.Exists(ctx, key).Result()
			if err != nil {
				return errors.Join(ErrHealthcheckFailed, err)
			}
			if n == 0 {
				return errors.Join(ErrHealthcheckFailed, ErrKeyMissing, fmt.Errorf("key %q", key))
			}
		}
		return nil
	}
}
