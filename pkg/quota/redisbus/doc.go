// Package redisbus connects the quota ledger to Redis.
//
// Publisher is a quota.Notifier that publishes every ledger event as JSON on
// a pub/sub channel, where UI gateways and mailers pick them up.
//
// OrderConsumer reads billing "order paid" messages from a Redis stream with
// a consumer group and applies them through quota.Service.HandleOrderPaid.
// A message is acknowledged once it was applied or failed permanently;
// transient failures stay pending and are retried with a backoff until
// MaxAttempts is reached, after which the message is copied to the
// dead-letter stream and acknowledged. Pending messages of the consumer are
// replayed on start, so a crash never loses an order.
//
// Stream entries carry three fields:
//
//	XADD billing.orders * user_id 6f1c... plan_id booster_articles_25 order_id ord_123
package redisbus
