package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// Service is the public surface consumed by feature-gated code paths,
// billing integrations and background jobs.
type Service interface {
	// Quota checks
	CheckCombinedQuota(ctx context.Context, userID uuid.UUID, feature FeatureCode) (CombinedQuota, error)
	GetQuotaOverview(ctx context.Context, userID uuid.UUID) ([]FeatureOverview, error)
	GetBoosterSummary(ctx context.Context, userID uuid.UUID) (map[FeatureCode]BoosterUsage, error)

	// Consumption
	TryConsume(ctx context.Context, userID uuid.UUID, feature FeatureCode, amount int64, resourceID string) (ConsumptionResult, error)
	ListUsageRecords(ctx context.Context, userID uuid.UUID, feature FeatureCode, page, pageSize int) (UsageRecordPage, error)
	VerifyUsage(ctx context.Context, userID uuid.UUID, feature FeatureCode) (UsageDrift, error)
	RepairUsage(ctx context.Context, userID uuid.UUID, feature FeatureCode) (UsageDrift, error)

	// Reservations
	Reserve(ctx context.Context, userID uuid.UUID, feature FeatureCode, amount int64, clientID string) (ReservationResult, error)
	ConfirmReservation(ctx context.Context, userID, reservationID uuid.UUID) (ConsumptionResult, error)
	ReleaseReservation(ctx context.Context, userID, reservationID uuid.UUID, reason string) (Reservation, error)
	GetUserReservations(ctx context.Context, userID uuid.UUID, status ReservationStatus) ([]Reservation, error)

	// Boosters
	CanPurchaseBooster(ctx context.Context, userID uuid.UUID) (PurchaseEligibility, error)
	ActivateBoosterPack(ctx context.Context, userID uuid.UUID, planID, orderID string) (BoosterActivation, error)
	GetUserBoosterHistory(ctx context.Context, userID uuid.UUID, page, pageSize int) (BoosterHistory, error)
	GetExpiringBoosters(ctx context.Context, userID uuid.UUID, withinDays int) ([]ExpiringBooster, error)

	// Subscriptions
	ActivateSubscription(ctx context.Context, p ActivateSubscriptionParams) (SubscriptionActivation, error)
	CancelSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error)
	SetCustomQuota(ctx context.Context, userID uuid.UUID, feature FeatureCode, value *int64) (Subscription, error)
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error)

	// Billing events
	HandleOrderPaid(ctx context.Context, ev OrderPaid) error

	// Background jobs
	Reconcile(ctx context.Context) (ReconcileResult, error)
	SendExpirationReminders(ctx context.Context) (int, error)
}

type service struct {
	*Resolver
	*Coordinator
	*BoosterLedger
	*SubscriptionLedger
	*Reconciler
}

// NewService wires all components around one catalog and store.
// Panics if catalog or store is nil to fail fast during initialization.
func NewService(catalog Catalog, store Store, opts ...Option) Service {
	d := newDeps(catalog, store, opts)
	tracker := &UsagePeriodTracker{deps: d}
	return &service{
		Resolver:           &Resolver{deps: d},
		Coordinator:        &Coordinator{deps: d, tracker: tracker},
		BoosterLedger:      &BoosterLedger{deps: d},
		SubscriptionLedger: &SubscriptionLedger{deps: d, tracker: tracker},
		Reconciler:         &Reconciler{deps: d, tracker: tracker},
	}
}

// HandleOrderPaid routes a billing "order paid" event to the ledger that
// owns the purchased plan. Replays are acknowledged without changes.
func (s *service) HandleOrderPaid(ctx context.Context, ev OrderPaid) error {
	d := s.Resolver.deps
	plan, err := d.catalog.Plan(ctx, ev.PlanID)
	if err != nil {
		return err
	}

	switch plan.Type {
	case PlanTypeBooster:
		_, err = s.ActivateBoosterPack(ctx, ev.UserID, ev.PlanID, ev.OrderID)
	case PlanTypeBase:
		_, err = s.ActivateSubscription(ctx, ActivateSubscriptionParams{
			UserID:  ev.UserID,
			PlanID:  ev.PlanID,
			OrderID: ev.OrderID,
		})
	default:
		err = errors.Join(ErrPlanNotFound, fmt.Errorf("plan %q has unsupported type %q", plan.ID, plan.Type))
	}
	if err != nil {
		d.log.ErrorContext(ctx, "failed to apply paid order",
			logger.UserID(ev.UserID),
			logger.PlanID(ev.PlanID),
			logger.OrderID(ev.OrderID),
			logger.Error(err),
		)
		return err
	}
	return nil
}
