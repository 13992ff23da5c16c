package quota

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// FeatureCode identifies a rate-limited feature, e.g. "articles_per_month".
type FeatureCode string

// Cycle defines how often the base usage counter of a feature resets.
type Cycle string

const (
	// CycleNone never resets: the period spans the whole subscription.
	CycleNone Cycle = "none"
	// CycleDaily resets at midnight in the configured location.
	CycleDaily Cycle = "daily"
	// CycleMonthly resets every month, anchored on the subscription start.
	CycleMonthly Cycle = "monthly"
)

// SubscriptionStatus is the lifecycle state of a base or booster subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// PeriodStatus is the lifecycle state of a usage period.
type PeriodStatus string

const (
	PeriodCurrent PeriodStatus = "current"
	PeriodClosed  PeriodStatus = "closed"
	PeriodExpired PeriodStatus = "expired"
)

// BoosterStatus is the lifecycle state of a booster quota row.
type BoosterStatus string

const (
	BoosterActive  BoosterStatus = "active"
	BoosterExpired BoosterStatus = "expired"
)

// Subscription is a user's base plan subscription.
// CustomQuotas override the plan default per feature; a missing key means
// "use the plan value".
type Subscription struct {
	ID           uuid.UUID             `json:"id"`
	UserID       uuid.UUID             `json:"user_id"`
	PlanID       string                `json:"plan_id"`
	OrderID      string                `json:"order_id"`
	Status       SubscriptionStatus    `json:"status"`
	StartDate    time.Time             `json:"start_date"`
	EndDate      time.Time             `json:"end_date"`
	CustomQuotas map[FeatureCode]int64 `json:"custom_quotas,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// IsActive reports whether the subscription grants quota at the given time.
func (s Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && !now.Before(s.StartDate) && now.Before(s.EndDate)
}

// BoosterSubscription is a purchased booster pack.
type BoosterSubscription struct {
	ID        uuid.UUID          `json:"id"`
	UserID    uuid.UUID          `json:"user_id"`
	OrderID   string             `json:"order_id"`
	PlanID    string             `json:"plan_id"`
	Status    SubscriptionStatus `json:"status"`
	StartDate time.Time          `json:"start_date"`
	EndDate   time.Time          `json:"end_date"`
	CreatedAt time.Time          `json:"created_at"`
}

// BoosterQuota is the per-feature allowance granted by a booster pack.
// ExpiresAt always equals the owning BoosterSubscription.EndDate.
type BoosterQuota struct {
	ID                    uuid.UUID     `json:"id"`
	BoosterSubscriptionID uuid.UUID     `json:"booster_subscription_id"`
	UserID                uuid.UUID     `json:"user_id"`
	FeatureCode           FeatureCode   `json:"feature_code"`
	Limit                 int64         `json:"limit"`
	Used                  int64         `json:"used"`
	Status                BoosterStatus `json:"status"`
	ExpiresAt             time.Time     `json:"expires_at"`
	CreatedAt             time.Time     `json:"created_at"`
}

// Remaining returns the units left on the booster row.
func (q BoosterQuota) Remaining() int64 {
	return Remaining(q.Limit, q.Used)
}

// IsActive reports whether the row still grants quota at the given time.
func (q BoosterQuota) IsActive(now time.Time) bool {
	return q.Status == BoosterActive && now.Before(q.ExpiresAt)
}

// CompareBoosterQuotas orders booster rows by consumption priority: soonest
// expiry first, then oldest, then id.
func CompareBoosterQuotas(a, b BoosterQuota) int {
	if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// ReservationStatus is the lifecycle state of a quota hold.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "reserved"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation holds units of a feature for a task that has not finished yet.
// Held units are subtracted from the combined remaining quota until the
// hold is confirmed, released or expires.
type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	UserID        uuid.UUID         `json:"user_id"`
	FeatureCode   FeatureCode       `json:"feature_code"`
	Amount        int64             `json:"amount"`
	Status        ReservationStatus `json:"status"`
	ClientID      string            `json:"client_id,omitempty"`
	ReleaseReason string            `json:"release_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	ReleasedAt    *time.Time        `json:"released_at,omitempty"`
}

// IsHeld reports whether the reservation still withholds quota at the given time.
func (r Reservation) IsHeld(now time.Time) bool {
	return r.Status == ReservationHeld && now.Before(r.ExpiresAt)
}

// UsagePeriod is the base usage counter for one (user, feature) cycle.
// The window is half-open: [PeriodStart, PeriodEnd).
type UsagePeriod struct {
	ID             uuid.UUID    `json:"id"`
	UserID         uuid.UUID    `json:"user_id"`
	FeatureCode    FeatureCode  `json:"feature_code"`
	SubscriptionID uuid.UUID    `json:"subscription_id"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
	UsageCount     int64        `json:"usage_count"`
	Status         PeriodStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Contains reports whether t falls inside the period window.
func (p UsagePeriod) Contains(t time.Time) bool {
	return !t.Before(p.PeriodStart) && t.Before(p.PeriodEnd)
}

// UsageRecord is an immutable audit entry written for every consumption.
type UsageRecord struct {
	ID            uuid.UUID   `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	FeatureCode   FeatureCode `json:"feature_code"`
	Amount        int64       `json:"amount"`
	BaseAmount    int64       `json:"base_amount"`
	BoosterAmount int64       `json:"booster_amount"`
	UsagePeriodID *uuid.UUID  `json:"usage_period_id,omitempty"`
	ResourceID    string      `json:"resource_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Usage describes one quota source: its limit, what was used and what is left.
type Usage struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// IsUnlimited reports whether the source has no cap.
func (u Usage) IsUnlimited() bool {
	return u.Limit == Unlimited
}

// BoosterUsage aggregates all active booster rows of one feature.
type BoosterUsage struct {
	TotalLimit         int64      `json:"total_limit"`
	TotalUsed          int64      `json:"total_used"`
	TotalRemaining     int64      `json:"total_remaining"`
	ActivePackCount    int        `json:"active_pack_count"`
	EarliestExpiration *time.Time `json:"earliest_expiration,omitempty"`
}

// CombinedQuota is the read-only answer of the resolver.
type CombinedQuota struct {
	UserID            uuid.UUID    `json:"user_id"`
	Feature           FeatureCode  `json:"feature"`
	HasQuota          bool         `json:"has_quota"`
	Kind              Kind         `json:"kind,omitempty"`
	Base              Usage        `json:"base"`
	Booster           BoosterUsage `json:"booster"`
	Reserved          int64        `json:"reserved"`
	CombinedRemaining int64        `json:"combined_remaining"`
	HasSubscription   bool         `json:"has_subscription"`
}

// Allows reports whether amount units fit into the combined remaining quota.
func (q CombinedQuota) Allows(amount int64) bool {
	return Fits(q.CombinedRemaining, amount)
}

// BoosterDraw records how many units were taken from one booster row.
type BoosterDraw struct {
	BoosterQuotaID uuid.UUID `json:"booster_quota_id"`
	Amount         int64     `json:"amount"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ConsumptionResult is the outcome of TryConsume.
// Business refusals are reported through Kind with Success=false and a nil error.
type ConsumptionResult struct {
	UserID            uuid.UUID     `json:"user_id"`
	Feature           FeatureCode   `json:"feature"`
	Amount            int64         `json:"amount"`
	ResourceID        string        `json:"resource_id,omitempty"`
	Success           bool          `json:"success"`
	Duplicate         bool          `json:"duplicate,omitempty"`
	Kind              Kind          `json:"kind,omitempty"`
	ConsumedFromBase  int64         `json:"consumed_from_base"`
	BoosterDraws      []BoosterDraw `json:"booster_draws,omitempty"`
	BaseRemaining     int64         `json:"base_remaining"`
	BoosterRemaining  int64         `json:"booster_remaining"`
	CombinedRemaining int64         `json:"combined_remaining"`
}

// ConsumedFromBoosters returns the total taken from booster rows.
func (r ConsumptionResult) ConsumedFromBoosters() int64 {
	var n int64
	for _, d := range r.BoosterDraws {
		n += d.Amount
	}
	return n
}

// ReservationResult is the outcome of Reserve.
// Refusals are reported through Kind with Success=false and a nil error.
type ReservationResult struct {
	Reservation       Reservation `json:"reservation"`
	Success           bool        `json:"success"`
	Kind              Kind        `json:"kind,omitempty"`
	CombinedRemaining int64       `json:"combined_remaining"`
}

// PurchaseEligibility is the answer of CanPurchaseBooster.
type PurchaseEligibility struct {
	Allowed bool `json:"allowed"`
	Kind    Kind `json:"kind,omitempty"`
}

// BoosterActivation is the outcome of ActivateBoosterPack.
type BoosterActivation struct {
	Subscription BoosterSubscription `json:"subscription"`
	Quotas       []BoosterQuota      `json:"quotas"`
	Kind         Kind                `json:"kind,omitempty"`
}

// BoosterHistoryRecord is a booster subscription with its quota rows.
type BoosterHistoryRecord struct {
	Subscription BoosterSubscription `json:"subscription"`
	Quotas       []BoosterQuota      `json:"quotas"`
}

// BoosterHistory is one page of a user's booster purchases, newest first.
type BoosterHistory struct {
	Records    []BoosterHistoryRecord `json:"records"`
	Total      int                    `json:"total"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
	TotalPages int                    `json:"total_pages"`
}

// ExpiringBooster is an active booster row that expires soon.
type ExpiringBooster struct {
	BoosterSubscriptionID uuid.UUID   `json:"booster_subscription_id"`
	BoosterQuotaID        uuid.UUID   `json:"booster_quota_id"`
	Feature               FeatureCode `json:"feature"`
	Limit                 int64       `json:"limit"`
	Used                  int64       `json:"used"`
	Remaining             int64       `json:"remaining"`
	ExpiresAt             time.Time   `json:"expires_at"`
	DaysRemaining         int         `json:"days_remaining"`
}

// FeatureOverview is a dashboard-friendly summary of one feature.
type FeatureOverview struct {
	Feature           FeatureDefinition `json:"feature"`
	Quota             CombinedQuota     `json:"quota"`
	Percentage        int               `json:"percentage"`
	ResetAt           *time.Time        `json:"reset_at,omitempty"`
	IsBeingConsumed   bool              `json:"is_being_consumed"`
	ExpirationWarning bool              `json:"expiration_warning"`
}

// UsageRecordPage is one page of the consumption audit log.
type UsageRecordPage struct {
	Records    []UsageRecord `json:"records"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// UsageDrift compares the stored counter of the current period with the sum
// reconstructed from the audit log.
type UsageDrift struct {
	UserID        uuid.UUID   `json:"user_id"`
	Feature       FeatureCode `json:"feature"`
	PeriodID      uuid.UUID   `json:"period_id"`
	Stored        int64       `json:"stored"`
	Reconstructed int64       `json:"reconstructed"`
}

// HasDrift reports whether the stored counter disagrees with the audit log.
func (d UsageDrift) HasDrift() bool {
	return d.Stored != d.Reconstructed
}

// OrderPaid is the billing event that completes a purchase.
type OrderPaid struct {
	UserID  uuid.UUID `json:"user_id"`
	PlanID  string    `json:"plan_id"`
	OrderID string    `json:"order_id"`
}
