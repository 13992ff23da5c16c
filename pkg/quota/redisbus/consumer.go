package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

// OrderHandler applies a paid order. quota.Service implements it.
type OrderHandler interface {
	HandleOrderPaid(ctx context.Context, ev quota.OrderPaid) error
}

// ConsumerOption configures an OrderConsumer.
type ConsumerOption func(*OrderConsumer)

// WithConsumerLogger sets the logger of the consumer.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *OrderConsumer) {
		if l != nil {
			c.log = l
		}
	}
}

// OrderConsumer applies billing orders read from a Redis stream.
type OrderConsumer struct {
	client  redis.UniversalClient
	handler OrderHandler
	cfg     Config
	log     *slog.Logger

	// attempts counts failed deliveries per message id. Only the Run
	// goroutine touches it.
	attempts map[string]int
}

// NewOrderConsumer returns a consumer for cfg.OrdersStream.
func NewOrderConsumer(client redis.UniversalClient, handler OrderHandler, cfg Config, opts ...ConsumerOption) (*OrderConsumer, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	if handler == nil {
		return nil, ErrHandlerNil
	}
	c := &OrderConsumer{
		client:   client,
		handler:  handler,
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
		attempts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("order_consumer"))
	return c, nil
}

// Run consumes the stream until ctx is cancelled. It returns nil on
// cancellation and an error only if the consumer group cannot be created.
func (c *OrderConsumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.OrdersStream, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Join(ErrConsumerGroup, err)
	}

	c.log.InfoContext(ctx, "order consumer started",
		"stream", c.cfg.OrdersStream,
		"group", c.cfg.ConsumerGroup,
		"consumer", c.cfg.ConsumerName,
	)

	// Start with this consumer's pending entries: they were delivered
	// before a restart or failed transiently.
	pending := true
	for ctx.Err() == nil {
		msgs, err := c.read(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.ErrorContext(ctx, "failed to read order stream", logger.Error(err))
			c.sleep(ctx, c.cfg.RetryBackoff)
			continue
		}
		if pending && len(msgs) == 0 {
			pending = false
			continue
		}

		failed := false
		for _, msg := range msgs {
			if c.process(ctx, msg) {
				failed = true
			}
		}
		// Keep draining pending entries until a read comes back empty.
		pending = pending || failed
		if failed {
			c.sleep(ctx, c.cfg.RetryBackoff)
		}
	}

	c.log.InfoContext(context.WithoutCancel(ctx), "order consumer stopped")
	return nil
}

func (c *OrderConsumer) read(ctx context.Context, pending bool) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.OrdersStream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.BlockTimeout,
	}
	if pending {
		args.Streams[1] = "0"
		args.Block = -1
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// process applies one message and reports whether it should be retried.
func (c *OrderConsumer) process(ctx context.Context, msg redis.XMessage) (retry bool) {
	ctx = logger.ContextWithAttrs(ctx, logger.MessageID(msg.ID))
	start := time.Now()

	ev, err := decodeOrder(msg.Values)
	if err != nil {
		c.log.ErrorContext(ctx, "dropping malformed order message", logger.Error(err))
		c.deadLetter(ctx, msg, err)
		return false
	}

	err = c.handler.HandleOrderPaid(ctx, ev)
	switch {
	case err == nil:
		c.log.InfoContext(ctx, "order applied",
			logger.UserID(ev.UserID),
			logger.PlanID(ev.PlanID),
			logger.OrderID(ev.OrderID),
			logger.Duration(time.Since(start)),
		)
		c.ack(ctx, msg.ID)
		return false

	case quota.IsPermanent(err):
		c.log.ErrorContext(ctx, "order rejected permanently",
			logger.UserID(ev.UserID),
			logger.PlanID(ev.PlanID),
			logger.OrderID(ev.OrderID),
			logger.Error(err),
		)
		c.deadLetter(ctx, msg, err)
		return false
	}

	c.attempts[msg.ID]++
	if n := c.attempts[msg.ID]; n >= c.cfg.MaxAttempts {
		c.log.ErrorContext(ctx, "order retries exhausted",
			logger.OrderID(ev.OrderID),
			"attempts", n,
			logger.Error(err),
		)
		c.deadLetter(ctx, msg, err)
		return false
	}
	c.log.WarnContext(ctx, "order will be retried",
		logger.OrderID(ev.OrderID),
		"attempt", c.attempts[msg.ID],
		logger.Error(err),
	)
	return true
}

func (c *OrderConsumer) ack(ctx context.Context, id string) {
	delete(c.attempts, id)
	if err := c.client.XAck(ctx, c.cfg.OrdersStream, c.cfg.ConsumerGroup, id).Err(); err != nil {
		c.log.ErrorContext(ctx, "failed to ack order message", logger.Error(err))
	}
}

// deadLetter copies msg with the failure reason to the dead-letter stream
// and acknowledges it. If the copy fails the message stays pending.
func (c *OrderConsumer) deadLetter(ctx context.Context, msg redis.XMessage, reason error) {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID
	values["error"] = reason.Error()

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DeadLetterStream,
		Values: values,
	}).Err(); err != nil {
		c.log.ErrorContext(ctx, "failed to dead-letter order message", logger.Error(err))
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *OrderConsumer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func decodeOrder(values map[string]any) (quota.OrderPaid, error) {
	field := func(name string) (string, error) {
		v, ok := values[name].(string)
		if !ok || v == "" {
			return "", errors.Join(ErrInvalidOrderMessage, fmt.Errorf("missing field %q", name))
		}
		return v, nil
	}

	raw, err := field("user_id")
	if err != nil {
		return quota.OrderPaid{}, err
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return quota.OrderPaid{}, errors.Join(ErrInvalidOrderMessage, fmt.Errorf("user_id: %w", err))
	}
	planID, err := field("plan_id")
	if err != nil {
		return quota.OrderPaid{}, err
	}
	orderID, err := field("order_id")
	if err != nil {
		return quota.OrderPaid{}, err
	}
	return quota.OrderPaid{UserID: userID, PlanID: planID, OrderID: orderID}, nil
}
