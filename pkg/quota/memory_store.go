package quota

import (
	"bytes"
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Transactions run one at a time on a
// private copy of the ledger that replaces the committed state on success,
// so a failed transaction leaves no trace. Reads see the last committed state.
//
// Transactions must not be nested: calling InTx from inside fn blocks until
// the lock timeout expires.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState

	writer      chan struct{}
	reconcile   sync.Mutex
	lockTimeout time.Duration
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryLockTimeout bounds how long a transaction waits for the writer lock.
func WithMemoryLockTimeout(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		state:       newMemoryState(),
		writer:      make(chan struct{}, 1),
		lockTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.writer }()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memoryTx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

// WithReconcileLock implements Store.
func (s *MemoryStore) WithReconcileLock(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (bool, error) {
	if !s.reconcile.TryLock() {
		return false, nil
	}
	defer s.reconcile.Unlock()
	return true, s.InTx(ctx, fn)
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.writer <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// read returns the committed state. Committed states are never mutated
// after the swap, so callers may keep using it after the lock is released.
func (s *MemoryStore) read() *memoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MemoryStore) ActiveSubscription(_ context.Context, userID uuid.UUID) (Subscription, error) {
	return s.read().activeSubscription(userID)
}

func (s *MemoryStore) CurrentUsagePeriod(_ context.Context, userID uuid.UUID, feature FeatureCode) (UsagePeriod, error) {
	return s.read().currentPeriod(userID, feature)
}

func (s *MemoryStore) ActiveBoosterQuotas(_ context.Context, userID uuid.UUID, feature FeatureCode, now time.Time) ([]BoosterQuota, error) {
	return s.read().activeBoosterQuotas(userID, feature, now), nil
}

func (s *MemoryStore) BoosterSubscriptions(_ context.Context, userID uuid.UUID, limit, offset int) ([]BoosterSubscription, int, error) {
	st := s.read()
	var subs []BoosterSubscription
	for _, b := range st.boosterSubs {
		if b.UserID == userID {
			subs = append(subs, b)
		}
	}
	slices.SortFunc(subs, func(a, b BoosterSubscription) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return page(subs, limit, offset), len(subs), nil
}

func (s *MemoryStore) BoosterQuotasBySubscription(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]BoosterQuota, error) {
	st := s.read()
	out := make(map[uuid.UUID][]BoosterQuota, len(ids))
	for _, id := range ids {
		out[id] = st.quotasFor(id)
	}
	return out, nil
}

func (s *MemoryStore) UsageRecords(_ context.Context, userID uuid.UUID, feature FeatureCode, limit, offset int) ([]UsageRecord, int, error) {
	st := s.read()
	var recs []UsageRecord
	for i := len(st.records) - 1; i >= 0; i-- {
		r := st.records[i]
		if r.UserID == userID && (feature == "" || r.FeatureCode == feature) {
			recs = append(recs, r)
		}
	}
	slices.SortStableFunc(recs, func(a, b UsageRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(recs, limit, offset), len(recs), nil
}

func (s *MemoryStore) SubscriptionsEndingBetween(_ context.Context, after, notAfter time.Time) ([]Subscription, error) {
	st := s.read()
	var out []Subscription
	for _, sub := range st.subscriptions {
		if sub.Status == SubscriptionActive && sub.EndDate.After(after) && !sub.EndDate.After(notAfter) {
			out = append(out, cloneSubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.EndDate.Compare(b.EndDate) })
	return out, nil
}

func (s *MemoryStore) ReservedUnits(_ context.Context, userID uuid.UUID, feature FeatureCode, now time.Time) (int64, error) {
	return s.read().reservedUnits(userID, feature, now), nil
}

func (s *MemoryStore) Reservation(_ context.Context, id uuid.UUID) (Reservation, error) {
	return s.read().reservation(id)
}

func (s *MemoryStore) Reservations(_ context.Context, userID uuid.UUID, status ReservationStatus, limit int) ([]Reservation, error) {
	st := s.read()
	var out []Reservation
	for _, r := range st.reservations {
		if r.UserID == userID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Reservation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return page(out, limit, 0), nil
}

type memoryState struct {
	subscriptions map[uuid.UUID]Subscription
	orders        map[string]uuid.UUID
	boosterSubs   map[uuid.UUID]BoosterSubscription
	boosterOrders map[string]uuid.UUID
	boosterQuotas map[uuid.UUID]BoosterQuota
	periods       map[uuid.UUID]UsagePeriod
	reservations  map[uuid.UUID]Reservation
	records       []UsageRecord
}

func newMemoryState() *memoryState {
	return &memoryState{
		subscriptions: make(map[uuid.UUID]Subscription),
		orders:        make(map[string]uuid.UUID),
		boosterSubs:   make(map[uuid.UUID]BoosterSubscription),
		boosterOrders: make(map[string]uuid.UUID),
		boosterQuotas: make(map[uuid.UUID]BoosterQuota),
		periods:       make(map[uuid.UUID]UsagePeriod),
		reservations:  make(map[uuid.UUID]Reservation),
	}
}

func (st *memoryState) clone() *memoryState {
	subs := make(map[uuid.UUID]Subscription, len(st.subscriptions))
	for id, sub := range st.subscriptions {
		subs[id] = cloneSubscription(sub)
	}
	return &memoryState{
		subscriptions: subs,
		orders:        maps.Clone(st.orders),
		boosterSubs:   maps.Clone(st.boosterSubs),
		boosterOrders: maps.Clone(st.boosterOrders),
		boosterQuotas: maps.Clone(st.boosterQuotas),
		periods:       maps.Clone(st.periods),
		reservations:  maps.Clone(st.reservations),
		records:       slices.Clone(st.records),
	}
}

func (st *memoryState) activeSubscription(userID uuid.UUID) (Subscription, error) {
	for _, sub := range st.subscriptions {
		if sub.UserID == userID && sub.Status == SubscriptionActive {
			return cloneSubscription(sub), nil
		}
	}
	return Subscription{}, ErrNotFound
}

func (st *memoryState) currentPeriod(userID uuid.UUID, feature FeatureCode) (UsagePeriod, error) {
	for _, p := range st.periods {
		if p.UserID == userID && p.FeatureCode == feature && p.Status == PeriodCurrent {
			return p, nil
		}
	}
	return UsagePeriod{}, ErrNotFound
}

func (st *memoryState) activeBoosterQuotas(userID uuid.UUID, feature FeatureCode, now time.Time) []BoosterQuota {
	var out []BoosterQuota
	for _, q := range st.boosterQuotas {
		if q.UserID == userID && (feature == "" || q.FeatureCode == feature) && q.IsActive(now) {
			out = append(out, q)
		}
	}
	slices.SortFunc(out, CompareBoosterQuotas)
	return out
}

func (st *memoryState) reservedUnits(userID uuid.UUID, feature FeatureCode, now time.Time) int64 {
	var sum int64
	for _, r := range st.reservations {
		if r.UserID == userID && r.FeatureCode == feature && r.IsHeld(now) {
			sum += r.Amount
		}
	}
	return sum
}

func (st *memoryState) reservation(id uuid.UUID) (Reservation, error) {
	r, ok := st.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return r, nil
}

func (st *memoryState) quotasFor(boosterSubscriptionID uuid.UUID) []BoosterQuota {
	var out []BoosterQuota
	for _, q := range st.boosterQuotas {
		if q.BoosterSubscriptionID == boosterSubscriptionID {
			out = append(out, q)
		}
	}
	slices.SortFunc(out, func(a, b BoosterQuota) int { return cmp.Compare(a.FeatureCode, b.FeatureCode) })
	return out
}

// memoryTx operates on a private copy of the state owned by one transaction.
type memoryTx struct {
	st *memoryState
}

func (tx *memoryTx) ActiveSubscription(_ context.Context, userID uuid.UUID) (Subscription, error) {
	return tx.st.activeSubscription(userID)
}

func (tx *memoryTx) CurrentUsagePeriod(_ context.Context, userID uuid.UUID, feature FeatureCode) (UsagePeriod, error) {
	return tx.st.currentPeriod(userID, feature)
}

func (tx *memoryTx) ActiveBoosterQuotas(_ context.Context, userID uuid.UUID, feature FeatureCode, now time.Time) ([]BoosterQuota, error) {
	return tx.st.activeBoosterQuotas(userID, feature, now), nil
}

func (tx *memoryTx) ReservedUnits(_ context.Context, userID uuid.UUID, feature FeatureCode, now time.Time) (int64, error) {
	return tx.st.reservedUnits(userID, feature, now), nil
}

func (tx *memoryTx) Reservation(_ context.Context, id uuid.UUID) (Reservation, error) {
	return tx.st.reservation(id)
}

func (tx *memoryTx) LockUsage(ctx context.Context, _ uuid.UUID, _ FeatureCode) error {
	return ctx.Err()
}

func (tx *memoryTx) LockUser(ctx context.Context, _ uuid.UUID) error {
	return ctx.Err()
}

func (tx *memoryTx) SubscriptionByOrder(_ context.Context, orderID string) (Subscription, error) {
	id, ok := tx.st.orders[orderID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return cloneSubscription(tx.st.subscriptions[id]), nil
}

func (tx *memoryTx) CreateSubscription(_ context.Context, sub Subscription) error {
	if _, ok := tx.st.orders[sub.OrderID]; ok {
		return ErrOrderConflict
	}
	if sub.Status == SubscriptionActive {
		if _, err := tx.st.activeSubscription(sub.UserID); err == nil {
			return ErrSubscriptionAlreadyActive
		}
	}
	tx.st.subscriptions[sub.ID] = cloneSubscription(sub)
	tx.st.orders[sub.OrderID] = sub.ID
	return nil
}

func (tx *memoryTx) UpdateSubscription(_ context.Context, sub Subscription) error {
	cur, ok := tx.st.subscriptions[sub.ID]
	if !ok {
		return ErrNotFound
	}
	if sub.Status == SubscriptionActive && cur.Status != SubscriptionActive {
		if _, err := tx.st.activeSubscription(cur.UserID); err == nil {
			return ErrSubscriptionAlreadyActive
		}
	}
	cur.Status = sub.Status
	cur.EndDate = sub.EndDate
	cur.CustomQuotas = maps.Clone(sub.CustomQuotas)
	cur.UpdatedAt = sub.UpdatedAt
	tx.st.subscriptions[cur.ID] = cur
	return nil
}

func (tx *memoryTx) AttachOrder(_ context.Context, orderID string, sub Subscription) error {
	if _, ok := tx.st.orders[orderID]; ok {
		return ErrOrderConflict
	}
	if _, ok := tx.st.subscriptions[sub.ID]; !ok {
		return ErrNotFound
	}
	tx.st.orders[orderID] = sub.ID
	return nil
}

func (tx *memoryTx) CurrentUsagePeriodsBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]UsagePeriod, error) {
	var out []UsagePeriod
	for _, p := range tx.st.periods {
		if p.SubscriptionID == subscriptionID && p.Status == PeriodCurrent {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b UsagePeriod) int { return cmp.Compare(a.FeatureCode, b.FeatureCode) })
	return out, nil
}

func (tx *memoryTx) CreateUsagePeriod(_ context.Context, p UsagePeriod) error {
	if p.Status == PeriodCurrent {
		if _, err := tx.st.currentPeriod(p.UserID, p.FeatureCode); err == nil {
			return ErrPeriodConflict
		}
	}
	if err := tx.checkWithinSubscription(p); err != nil {
		return err
	}
	tx.st.periods[p.ID] = p
	return nil
}

func (tx *memoryTx) UpdateUsagePeriod(_ context.Context, p UsagePeriod) error {
	cur, ok := tx.st.periods[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = p.Status
	cur.PeriodEnd = p.PeriodEnd
	cur.UsageCount = p.UsageCount
	cur.UpdatedAt = p.UpdatedAt
	if err := tx.checkWithinSubscription(cur); err != nil {
		return err
	}
	tx.st.periods[cur.ID] = cur
	return nil
}

func (tx *memoryTx) checkWithinSubscription(p UsagePeriod) error {
	sub, ok := tx.st.subscriptions[p.SubscriptionID]
	if !ok {
		return ErrNotFound
	}
	if p.PeriodEnd.After(sub.EndDate) {
		return ErrPeriodBeyondSubscription
	}
	return nil
}

func (tx *memoryTx) IncrementUsagePeriod(_ context.Context, periodID uuid.UUID, amount int64, now time.Time) error {
	p, ok := tx.st.periods[periodID]
	if !ok {
		return ErrNotFound
	}
	p.UsageCount += amount
	p.UpdatedAt = now
	tx.st.periods[periodID] = p
	return nil
}

func (tx *memoryTx) SumBaseUsage(_ context.Context, periodID uuid.UUID) (int64, error) {
	var sum int64
	for _, r := range tx.st.records {
		if r.UsagePeriodID != nil && *r.UsagePeriodID == periodID {
			sum += r.BaseAmount
		}
	}
	return sum, nil
}

func (tx *memoryTx) BoosterSubscriptionByOrder(_ context.Context, orderID string) (BoosterSubscription, error) {
	id, ok := tx.st.boosterOrders[orderID]
	if !ok {
		return BoosterSubscription{}, ErrNotFound
	}
	return tx.st.boosterSubs[id], nil
}

func (tx *memoryTx) BoosterQuotasForSubscription(_ context.Context, boosterSubscriptionID uuid.UUID) ([]BoosterQuota, error) {
	return tx.st.quotasFor(boosterSubscriptionID), nil
}

func (tx *memoryTx) CreateBoosterSubscription(_ context.Context, sub BoosterSubscription, quotas []BoosterQuota) error {
	if _, ok := tx.st.boosterOrders[sub.OrderID]; ok {
		return ErrOrderConflict
	}
	tx.st.boosterSubs[sub.ID] = sub
	tx.st.boosterOrders[sub.OrderID] = sub.ID
	for _, q := range quotas {
		tx.st.boosterQuotas[q.ID] = q
	}
	return nil
}

func (tx *memoryTx) IncrementBoosterUsage(_ context.Context, quotaID uuid.UUID, amount int64) error {
	q, ok := tx.st.boosterQuotas[quotaID]
	if !ok {
		return ErrNotFound
	}
	if q.Limit != Unlimited && q.Used+amount > q.Limit {
		return ErrQuotaExceeded
	}
	q.Used += amount
	tx.st.boosterQuotas[quotaID] = q
	return nil
}

func (tx *memoryTx) UsageRecordByResource(_ context.Context, userID uuid.UUID, feature FeatureCode, resourceID string) (UsageRecord, error) {
	for _, r := range tx.st.records {
		if r.ResourceID != "" && r.ResourceID == resourceID && r.UserID == userID && r.FeatureCode == feature {
			return r, nil
		}
	}
	return UsageRecord{}, ErrNotFound
}

func (tx *memoryTx) InsertUsageRecord(ctx context.Context, rec UsageRecord) error {
	if rec.ResourceID != "" {
		if _, err := tx.UsageRecordByResource(ctx, rec.UserID, rec.FeatureCode, rec.ResourceID); err == nil {
			return ErrDuplicateUsageRecord
		}
	}
	tx.st.records = append(tx.st.records, rec)
	return nil
}

func (tx *memoryTx) CreateReservation(_ context.Context, r Reservation) error {
	tx.st.reservations[r.ID] = r
	return nil
}

func (tx *memoryTx) UpdateReservation(_ context.Context, r Reservation) error {
	cur, ok := tx.st.reservations[r.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = r.Status
	cur.ConfirmedAt = r.ConfirmedAt
	cur.ReleasedAt = r.ReleasedAt
	cur.ReleaseReason = r.ReleaseReason
	tx.st.reservations[cur.ID] = cur
	return nil
}

func (tx *memoryTx) ExpireSubscriptions(_ context.Context, now time.Time) ([]Subscription, error) {
	var out []Subscription
	for id, sub := range tx.st.subscriptions {
		if sub.Status == SubscriptionActive && !sub.EndDate.After(now) {
			sub.Status = SubscriptionExpired
			sub.UpdatedAt = now
			tx.st.subscriptions[id] = sub
			out = append(out, cloneSubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.EndDate.Compare(b.EndDate) })
	return out, nil
}

func (tx *memoryTx) ExpireUsagePeriods(_ context.Context, subscriptionID uuid.UUID, now time.Time) (int, error) {
	n := 0
	for id, p := range tx.st.periods {
		if p.SubscriptionID == subscriptionID && p.Status == PeriodCurrent {
			p.Status = PeriodExpired
			p.UpdatedAt = now
			tx.st.periods[id] = p
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) ExpireBoosterQuotas(_ context.Context, now time.Time) ([]BoosterQuota, error) {
	var out []BoosterQuota
	for id, q := range tx.st.boosterQuotas {
		if q.Status == BoosterActive && !q.ExpiresAt.After(now) {
			q.Status = BoosterExpired
			tx.st.boosterQuotas[id] = q
			out = append(out, q)
		}
	}
	slices.SortFunc(out, CompareBoosterQuotas)
	return out, nil
}

func (tx *memoryTx) ExpireBoosterSubscriptions(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, b := range tx.st.boosterSubs {
		if b.Status == SubscriptionActive && !b.EndDate.After(now) {
			b.Status = SubscriptionExpired
			tx.st.boosterSubs[id] = b
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) ExpireReservations(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, r := range tx.st.reservations {
		if r.Status == ReservationHeld && !r.ExpiresAt.After(now) {
			r.Status = ReservationExpired
			tx.st.reservations[id] = r
			n++
		}
	}
	return n, nil
}

func cloneSubscription(s Subscription) Subscription {
	s.CustomQuotas = maps.Clone(s.CustomQuotas)
	return s
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
