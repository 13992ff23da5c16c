package redisbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

// Publisher publishes ledger events on a Redis pub/sub channel.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

var _ quota.Notifier = (*Publisher)(nil)

// NewPublisher returns a Publisher for cfg.EventsChannel.
func NewPublisher(client redis.UniversalClient, cfg Config) (*Publisher, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	return &Publisher{client: client, channel: cfg.withDefaults().EventsChannel}, nil
}

// Notify implements quota.Notifier.
func (p *Publisher) Notify(ctx context.Context, ev quota.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Join(ErrFailedToPublish, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Join(ErrFailedToPublish, err)
	}
	return nil
}
