package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// AlertLevel names a usage threshold crossed by a consumption.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertDepleted AlertLevel = "depleted"
)

// AlertThreshold fires an alert when base usage reaches Percent of the limit.
type AlertThreshold struct {
	Level   AlertLevel
	Percent int
}

// DefaultAlertThresholds are used unless WithAlertThresholds overrides them.
var DefaultAlertThresholds = []AlertThreshold{
	{Level: AlertWarning, Percent: 80},
	{Level: AlertCritical, Percent: 95},
	{Level: AlertDepleted, Percent: 100},
}

// Option configures the components of this package.
type Option func(*options)

type options struct {
	clock           quartz.Clock
	log             *slog.Logger
	metrics         *Metrics
	notifier        Notifier
	loc             *time.Location
	warningDays     int
	reminderDays    []int
	thresholds      []AlertThreshold
	maxPageSize     int
	defaultPageSize int
	reservationTTL  time.Duration
}

func defaultOptions() *options {
	return &options{
		clock:           quartz.NewReal(),
		log:             slog.Default(),
		notifier:        nopNotifier{},
		loc:             time.UTC,
		warningDays:     7,
		reminderDays:    []int{7, 3, 1},
		thresholds:      DefaultAlertThresholds,
		maxPageSize:     100,
		defaultPageSize: 20,
		reservationTTL:  10 * time.Minute,
	}
}

// WithClock injects the time source. Tests pass quartz.NewMock(t).
func WithClock(c quartz.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNotifier sets the sink for ledger events.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLocation sets the time zone in which daily cycles reset.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithExpirationWarningDays sets how close a booster expiry must be for the
// overview to raise an expiration warning.
func WithExpirationWarningDays(days int) Option {
	return func(o *options) {
		if days >= 0 {
			o.warningDays = days
		}
	}
}

// WithReminderDays sets the days-before-expiry at which subscription
// reminders are published.
func WithReminderDays(days ...int) Option {
	return func(o *options) {
		o.reminderDays = days
	}
}

// WithAlertThresholds replaces the usage alert thresholds.
func WithAlertThresholds(thresholds ...AlertThreshold) Option {
	return func(o *options) {
		o.thresholds = thresholds
	}
}

// WithReservationTTL sets how long a reservation holds quota before it
// lapses. The default is 10 minutes.
func WithReservationTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reservationTTL = d
		}
	}
}

// deps is shared by all components built from the same options.
type deps struct {
	*options
	catalog Catalog
	store   Store
}

func newDeps(catalog Catalog, store Store, opts []Option) *deps {
	if catalog == nil {
		panic("quota: Catalog is required")
	}
	if store == nil {
		panic("quota: Store is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &deps{options: o, catalog: catalog, store: store}
}

func (d *deps) now() time.Time {
	return d.clock.Now().UTC()
}

// notify publishes an event. Delivery failures are logged and never fail
// the operation that produced the event.
func (d *deps) notify(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = d.now()
	}
	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.log.WarnContext(ctx, "failed to publish quota event",
			logger.EventType(string(ev.Type)),
			logger.UserID(ev.UserID),
			logger.Error(err),
		)
	}
}

// pagination normalizes a 1-based page and a page size.
func (d *deps) pagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = d.defaultPageSize
	}
	if pageSize > d.maxPageSize {
		pageSize = d.maxPageSize
	}
	return page, pageSize
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
