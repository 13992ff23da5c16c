package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger event.
type EventType string

const (
	EventQuotaUpdated          EventType = "quota.updated"
	EventQuotaAlert            EventType = "quota.alert"
	EventQuotaReserved         EventType = "quota.reserved"
	EventReservationReleased   EventType = "quota.reservation_released"
	EventBoosterActivated      EventType = "booster.activated"
	EventBoosterExpired        EventType = "booster.expired"
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventSubscriptionExpired   EventType = "subscription.expired"
	EventSubscriptionExpiring  EventType = "subscription.expiring"
	EventCustomQuotaChanged    EventType = "subscription.custom_quota_changed"
)

// Event is published after a ledger change has been committed.
type Event struct {
	Type           EventType   `json:"type"`
	UserID         uuid.UUID   `json:"user_id"`
	Feature        FeatureCode `json:"feature,omitempty"`
	SubscriptionID uuid.UUID   `json:"subscription_id,omitempty"`
	PlanID         string      `json:"plan_id,omitempty"`
	OrderID        string      `json:"order_id,omitempty"`
	Amount         int64       `json:"amount,omitempty"`
	Remaining      int64       `json:"remaining,omitempty"`
	Level          AlertLevel  `json:"level,omitempty"`
	Percentage     int         `json:"percentage,omitempty"`
	DaysRemaining  int         `json:"days_remaining,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// Notifier delivers ledger events to interested parties (UI refresh, email
// reminders, analytics).
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
