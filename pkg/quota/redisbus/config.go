package redisbus

import "time"

// Config describes the channels and streams used by the bus.
type Config struct {
	EventsChannel    string        `env:"QUOTA_EVENTS_CHANNEL" envDefault:"quota.events"`
	OrdersStream     string        `env:"QUOTA_ORDERS_STREAM" envDefault:"billing.orders"`
	DeadLetterStream string        `env:"QUOTA_ORDERS_DEAD_LETTER_STREAM" envDefault:"billing.orders.dead"`
	ConsumerGroup    string        `env:"QUOTA_ORDERS_GROUP" envDefault:"quota-ledger"`
	ConsumerName     string        `env:"QUOTA_ORDERS_CONSUMER"`
	BatchSize        int64         `env:"QUOTA_ORDERS_BATCH_SIZE" envDefault:"10"`
	BlockTimeout     time.Duration `env:"QUOTA_ORDERS_BLOCK_TIMEOUT" envDefault:"5s"`
	RetryBackoff     time.Duration `env:"QUOTA_ORDERS_RETRY_BACKOFF" envDefault:"2s"`
	MaxAttempts      int           `env:"QUOTA_ORDERS_MAX_ATTEMPTS" envDefault:"10"`
}

// DefaultConfig returns the values used for zero fields.
func DefaultConfig() Config {
	return Config{
		EventsChannel:    "quota.events",
		OrdersStream:     "billing.orders",
		DeadLetterStream: "billing.orders.dead",
		ConsumerGroup:    "quota-ledger",
		ConsumerName:     "quotad",
		BatchSize:        10,
		BlockTimeout:     5 * time.Second,
		RetryBackoff:     2 * time.Second,
		MaxAttempts:      10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EventsChannel == "" {
		c.EventsChannel = d.EventsChannel
	}
	if c.OrdersStream == "" {
		c.OrdersStream = d.OrdersStream
	}
	if c.DeadLetterStream == "" {
		c.DeadLetterStream = d.DeadLetterStream
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = d.ConsumerGroup
	}
	if c.ConsumerName == "" {
		c.ConsumerName = d.ConsumerName
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = d.BlockTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}
