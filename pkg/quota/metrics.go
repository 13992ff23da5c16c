package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "quota"

// Metrics holds the Prometheus collectors of the ledger. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	consumptions  *prometheus.CounterVec
	consumedUnits *prometheus.CounterVec
	activations   *prometheus.CounterVec
	reconcileRuns *prometheus.CounterVec
	expiredRows   *prometheus.CounterVec
	lockTimeouts  *prometheus.CounterVec
	reservations  *prometheus.CounterVec
}

// NewMetrics registers the ledger collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		consumptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "consumptions_total",
			Help:      "TryConsume calls by feature and outcome.",
		}, []string{"feature", "outcome"}),
		consumedUnits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "consumed_units_total",
			Help:      "Units consumed by feature and source (base or booster).",
		}, []string{"feature", "source"}),
		activations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "activations_total",
			Help:      "Subscription and booster activations by plan type and outcome.",
		}, []string{"plan_type", "outcome"}),
		reconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciler runs by outcome.",
		}, []string{"outcome"}),
		expiredRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "expired_rows_total",
			Help:      "Ledger rows expired by the reconciler.",
		}, []string{"entity"}),
		lockTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lock_timeouts_total",
			Help:      "Operations that gave up waiting for a ledger lock.",
		}, []string{"operation"}),
		reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reservations_total",
			Help:      "Reservation calls by feature, operation and outcome.",
		}, []string{"feature", "operation", "outcome"}),
	}
}

func (m *Metrics) consumption(feature FeatureCode, outcome string) {
	if m == nil {
		return
	}
	m.consumptions.WithLabelValues(string(feature), outcome).Inc()
}

func (m *Metrics) consumed(feature FeatureCode, fromBase, fromBoosters int64) {
	if m == nil {
		return
	}
	if fromBase > 0 {
		m.consumedUnits.WithLabelValues(string(feature), "base").Add(float64(fromBase))
	}
	if fromBoosters > 0 {
		m.consumedUnits.WithLabelValues(string(feature), "booster").Add(float64(fromBoosters))
	}
}

func (m *Metrics) activation(planType PlanType, outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(string(planType), outcome).Inc()
}

func (m *Metrics) reconcile(outcome string, res ReconcileResult) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
	m.expiredRows.WithLabelValues("subscription").Add(float64(res.ExpiredSubscriptions))
	m.expiredRows.WithLabelValues("usage_period").Add(float64(res.ExpiredPeriods))
	m.expiredRows.WithLabelValues("booster_quota").Add(float64(res.ExpiredBoosterQuotas))
	m.expiredRows.WithLabelValues("booster_subscription").Add(float64(res.ExpiredBoosterSubscriptions))
	m.expiredRows.WithLabelValues("reservation").Add(float64(res.ExpiredReservations))
}

func (m *Metrics) reservation(feature FeatureCode, operation, outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(string(feature), operation, outcome).Inc()
}

func (m *Metrics) lockTimeout(operation string) {
	if m == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(operation).Inc()
}
