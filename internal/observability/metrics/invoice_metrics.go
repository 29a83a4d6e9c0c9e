package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config provides the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	DispatchOutcomeInvoice          = "invoice"
	DispatchOutcomeNullInvoice      = "null_invoice"
	DispatchOutcomeParkedSkip       = "parked_skip"
	DispatchOutcomeRescheduled      = "rescheduled"
	DispatchOutcomeLockFailed       = "lock_failed"
	DispatchOutcomePluginAborted    = "plugin_aborted"
	DispatchOutcomeLookupFailed     = "lookup_failed"
	DispatchOutcomeUnexpectedError  = "unexpected_error"
	DispatchOutcomeDisabled         = "disabled"
	DispatchOutcomeAutoInvoicingOff = "auto_invoicing_off"
	DispatchOutcomeError            = "error"
)

const (
	ModeReal   = "real"
	ModeDryRun = "dry_run"
)

const (
	ParkingTransitionPark   = "park"
	ParkingTransitionUnpark = "unpark"
)

const (
	ListenerOutcomeProcessed = "processed"
	ListenerOutcomeIgnored   = "ignored"
	ListenerOutcomeFailed    = "failed"
)

// InvoiceMetrics captures invoice dispatch health signals.
type InvoiceMetrics struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	lockWait         prometheus.Observer
	dryRunCandidates prometheus.Observer
	parking          *prometheus.CounterVec
	listenerEvents   *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	eventBusFailures *prometheus.CounterVec
}

var (
	invoiceMetricsOnce sync.Once
	invoiceMetrics     *InvoiceMetrics
)

// Invoice returns the singleton invoice metrics registry.
func Invoice() *InvoiceMetrics {
	return InvoiceWithConfig(Config{})
}

// InvoiceWithConfig returns the singleton invoice metrics registry using config labels.
func InvoiceWithConfig(cfg Config) *InvoiceMetrics {
	invoiceMetricsOnce.Do(func() {
		invoiceMetrics = newInvoiceMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return invoiceMetrics
}

// ResetInvoiceMetricsForTest resets the invoice metrics singleton for tests.
func ResetInvoiceMetricsForTest() {
	invoiceMetricsOnce = sync.Once{}
	invoiceMetrics = nil
}

func newInvoiceMetrics(registerer prometheus.Registerer, cfg Config) *InvoiceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "invoicing"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_dispatch_total",
		Help:        "Invoice dispatch passes by mode and outcome.",
		ConstLabels: constLabels,
	}, []string{"mode", "outcome"})
	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "invoicing_dispatch_duration_seconds",
		Help:        "Invoice dispatch latency by mode.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"mode"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invoicing_account_lock_wait_seconds",
		Help:        "Time spent acquiring the per-account invoicing lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})
	dryRunCandidates := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invoicing_dry_run_candidate_dates",
		Help:        "Candidate dates visited by one dry-run simulation.",
		Buckets:     []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		ConstLabels: constLabels,
	})
	parking := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_parked_account_transitions_total",
		Help:        "Account park and unpark transitions.",
		ConstLabels: constLabels,
	}, []string{"transition"})
	listenerEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_listener_events_total",
		Help:        "Domain events seen by the invoice listener by outcome.",
		ConstLabels: constLabels,
	}, []string{"event", "outcome"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_notifications_processed_total",
		Help:        "Future notifications consumed by the poller.",
		ConstLabels: constLabels,
	}, []string{"queue", "outcome"})
	eventBusFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_event_bus_post_failures_total",
		Help:        "Domain events that could not be posted to the bus.",
		ConstLabels: constLabels,
	}, []string{"event"})

	dispatches = registerCounterVec(registerer, dispatches)
	dispatchDuration = registerHistogramVec(registerer, dispatchDuration)
	lockWaitHist := registerHistogram(registerer, lockWait)
	dryRunHist := registerHistogram(registerer, dryRunCandidates)
	parking = registerCounterVec(registerer, parking)
	listenerEvents = registerCounterVec(registerer, listenerEvents)
	notifications = registerCounterVec(registerer, notifications)
	eventBusFailures = registerCounterVec(registerer, eventBusFailures)

	return &InvoiceMetrics{
		dispatches:       dispatches,
		dispatchDuration: dispatchDuration,
		lockWait:         lockWaitHist,
		dryRunCandidates: dryRunHist,
		parking:          parking,
		listenerEvents:   listenerEvents,
		notifications:    notifications,
		eventBusFailures: eventBusFailures,
	}
}

func (m *InvoiceMetrics) IncDispatch(mode, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(mode, outcome).Inc()
}

func (m *InvoiceMetrics) ObserveDispatchDuration(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *InvoiceMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *InvoiceMetrics) ObserveDryRunCandidates(visited int) {
	if m == nil {
		return
	}
	m.dryRunCandidates.Observe(float64(visited))
}

func (m *InvoiceMetrics) IncParkingTransition(transition string) {
	if m == nil {
		return
	}
	m.parking.WithLabelValues(transition).Inc()
}

func (m *InvoiceMetrics) IncListenerEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.listenerEvents.WithLabelValues(event, outcome).Inc()
}

func (m *InvoiceMetrics) IncNotification(queue, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(queue, outcome).Inc()
}

func (m *InvoiceMetrics) IncEventBusFailure(event string) {
	if m == nil {
		return
	}
	m.eventBusFailures.WithLabelValues(event).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, collector *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, collector *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, collector prometheus.Histogram) prometheus.Histogram {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
		}
	}
	return collector
}
