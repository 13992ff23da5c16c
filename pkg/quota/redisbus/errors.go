package redisbus

import "errors"

var (
	ErrClientNil           = errors.New("redisbus: redis client cannot be nil")
	ErrHandlerNil          = errors.New("redisbus: order handler cannot be nil")
	ErrFailedToPublish     = errors.New("redisbus: failed to publish event")
	ErrInvalidOrderMessage = errors.New("redisbus: invalid order message")
	ErrConsumerGroup       = errors.New("redisbus: failed to create consumer group")
)
