package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// maxReservationsListed caps GetUserReservations.
const maxReservationsListed = 100

// errHoldRefused rolls back a confirmation whose consumption was refused.
var errHoldRefused = errors.New("reservation hold refused")

// Reserve holds amount units of a feature for a task that will report back
// later. Held units count against the combined quota of every other caller
// until the reservation is confirmed, released or expires.
//
// Refusals are reported through ReservationResult.Kind with a nil error,
// the same way TryConsume reports them.
func (c *Coordinator) Reserve(ctx context.Context, userID uuid.UUID, feature FeatureCode, amount int64, clientID string) (ReservationResult, error) {
	var res ReservationResult
	if userID == uuid.Nil {
		res.Kind = KindNotAuthenticated
		c.metrics.reservation(feature, "reserve", string(res.Kind))
		return res, nil
	}
	if amount <= 0 {
		return res, errors.Join(ErrInvalidArgument, fmt.Errorf("amount must be positive, got %d", amount))
	}

	def, err := c.catalog.Feature(ctx, feature)
	if err != nil {
		if errors.Is(err, ErrUnknownFeature) {
			res.Kind = KindUnknownFeature
			c.metrics.reservation(feature, "reserve", string(res.Kind))
			return res, nil
		}
		return res, err
	}

	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res = ReservationResult{}
		if err := tx.LockUsage(ctx, userID, feature); err != nil {
			return err
		}

		now := c.now()
		snap, err := c.evaluate(ctx, tx, userID, def, now)
		if err != nil {
			return err
		}
		if !snap.quota.Allows(amount) {
			res.Kind = refusalKind(snap.quota)
			res.CombinedRemaining = snap.quota.CombinedRemaining
			return nil
		}

		r := Reservation{
			ID:          uuid.New(),
			UserID:      userID,
			FeatureCode: feature,
			Amount:      amount,
			Status:      ReservationHeld,
			ClientID:    clientID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(c.reservationTTL),
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}

		res.Reservation = r
		res.Success = true
		res.CombinedRemaining = snap.quota.CombinedRemaining
		if res.CombinedRemaining != Unlimited {
			res.CombinedRemaining -= amount
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.metrics.lockTimeout("reserve")
			c.metrics.reservation(feature, "reserve", string(KindRetry))
			return ReservationResult{Kind: KindRetry}, nil
		}
		return res, err
	}

	if !res.Success {
		c.metrics.reservation(feature, "reserve", string(res.Kind))
		return res, nil
	}
	c.metrics.reservation(feature, "reserve", "reserved")
	exp := res.Reservation.ExpiresAt
	c.notify(ctx, Event{
		Type:      EventQuotaReserved,
		UserID:    userID,
		Feature:   feature,
		Amount:    amount,
		Remaining: res.CombinedRemaining,
		ExpiresAt: &exp,
	})
	return res, nil
}

// ConfirmReservation turns a held reservation into a consumption of the
// reserved amount. The usage record carries the resource id
// "reservation:<id>", so confirming twice returns the first outcome with
// Duplicate set.
//
// A reservation past its ExpiresAt is marked expired and refused with
// KindReservationExpired. A released or expired one is refused with
// KindReservationClosed. When the quota shrank below the reserved amount
// the consumption is refused and the hold stays in place.
func (c *Coordinator) ConfirmReservation(ctx context.Context, userID, reservationID uuid.UUID) (ConsumptionResult, error) {
	if userID == uuid.Nil {
		return ConsumptionResult{Kind: KindNotAuthenticated}, nil
	}
	r, err := c.ownReservation(ctx, userID, reservationID)
	if err != nil {
		return ConsumptionResult{}, err
	}
	def, err := c.catalog.Feature(ctx, r.FeatureCode)
	if err != nil {
		return ConsumptionResult{}, err
	}

	resourceID := "reservation:" + reservationID.String()
	res := ConsumptionResult{UserID: userID, Feature: r.FeatureCode, Amount: r.Amount, ResourceID: resourceID}
	var before Usage
	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUsage(ctx, userID, r.FeatureCode); err != nil {
			return err
		}
		cur, err := tx.Reservation(ctx, reservationID)
		if err != nil {
			return err
		}

		now := c.now()
		switch {
		case cur.Status == ReservationConfirmed:
			res, before, err = c.consume(ctx, tx, def, userID, cur.Amount, resourceID, now)
			return err
		case cur.Status != ReservationHeld:
			res.Kind = KindReservationClosed
			return nil
		case !cur.IsHeld(now):
			res.Kind = KindReservationExpired
			cur.Status = ReservationExpired
			return tx.UpdateReservation(ctx, cur)
		}

		cur.Status = ReservationConfirmed
		cur.ConfirmedAt = &now
		if err := tx.UpdateReservation(ctx, cur); err != nil {
			return err
		}
		res, before, err = c.consume(ctx, tx, def, userID, cur.Amount, resourceID, now)
		if err != nil {
			return err
		}
		if !res.Success {
			return errHoldRefused
		}
		return nil
	})
	switch {
	case errors.Is(err, errHoldRefused):
		c.log.WarnContext(ctx, "reserved quota no longer fits",
			logger.UserID(userID),
			logger.Feature(string(r.FeatureCode)),
			"reservation_id", reservationID,
			"kind", res.Kind,
		)
	case errors.Is(err, ErrLockTimeout):
		c.metrics.lockTimeout("confirm_reservation")
		res = ConsumptionResult{UserID: userID, Feature: r.FeatureCode, Amount: r.Amount, ResourceID: resourceID, Kind: KindRetry}
	case err != nil:
		return res, err
	}

	outcome := string(res.Kind)
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case res.Success:
		outcome = "confirmed"
	}
	c.metrics.reservation(r.FeatureCode, "confirm", outcome)
	if res.Kind == KindNone {
		c.afterConsume(ctx, res, before)
	}
	return res, nil
}

// ReleaseReservation gives the held units back. Only a held reservation can
// be released; any other state fails with ErrReservationClosed.
func (c *Coordinator) ReleaseReservation(ctx context.Context, userID, reservationID uuid.UUID, reason string) (Reservation, error) {
	if userID == uuid.Nil {
		return Reservation{}, ErrNotAuthenticated
	}
	r, err := c.ownReservation(ctx, userID, reservationID)
	if err != nil {
		return Reservation{}, err
	}

	var out Reservation
	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUsage(ctx, userID, r.FeatureCode); err != nil {
			return err
		}
		cur, err := tx.Reservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if cur.Status != ReservationHeld {
			return errors.Join(ErrReservationClosed, fmt.Errorf("reservation %s is %s", cur.ID, cur.Status))
		}
		now := c.now()
		cur.Status = ReservationReleased
		cur.ReleasedAt = &now
		cur.ReleaseReason = reason
		if err := tx.UpdateReservation(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.metrics.lockTimeout("release_reservation")
		}
		outcome := string(KindOf(err))
		if outcome == "" {
			outcome = "failed"
		}
		c.metrics.reservation(r.FeatureCode, "release", outcome)
		return Reservation{}, err
	}

	c.metrics.reservation(r.FeatureCode, "release", "released")
	c.notify(ctx, Event{
		Type:    EventReservationReleased,
		UserID:  userID,
		Feature: out.FeatureCode,
		Amount:  out.Amount,
	})
	return out, nil
}

// GetUserReservations lists the user's most recent reservations, newest
// first. An empty status lists every status.
func (c *Coordinator) GetUserReservations(ctx context.Context, userID uuid.UUID, status ReservationStatus) ([]Reservation, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	return c.store.Reservations(ctx, userID, status, maxReservationsListed)
}

// ownReservation reads a reservation without locks to learn its feature.
// Reservations of other users are reported as missing.
func (c *Coordinator) ownReservation(ctx context.Context, userID, reservationID uuid.UUID) (Reservation, error) {
	r, err := c.store.Reservation(ctx, reservationID)
	if errors.Is(err, ErrNotFound) || (err == nil && r.UserID != userID) {
		return Reservation{}, errors.Join(ErrReservationNotFound, fmt.Errorf("reservation %s", reservationID))
	}
	return r, err
}
