package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncDispatch(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newInvoiceMetrics(registry, Config{ServiceName: "invoicing", Environment: "test"})

	m.IncDispatch(ModeReal, DispatchOutcomeInvoice)
	m.IncDispatch(ModeReal, DispatchOutcomeInvoice)
	m.IncDispatch(ModeDryRun, DispatchOutcomeNullInvoice)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.dispatches.WithLabelValues(ModeReal, DispatchOutcomeInvoice)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatches.WithLabelValues(ModeDryRun, DispatchOutcomeNullInvoice)))
}

func TestConstLabelsApplied(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newInvoiceMetrics(registry, Config{Environment: "staging"})
	m.IncParkingTransition(ParkingTransitionPark)

	families, err := registry.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "invoicing_parked_account_transitions_total" {
			found = mf
		}
	}
	require.NotNil(t, found)
	labels := map[string]string{}
	for _, lp := range found.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, "invoicing", labels["service"])
	assert.Equal(t, "staging", labels["env"])
	assert.Equal(t, ParkingTransitionPark, labels["transition"])
}

func TestHistogramsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newInvoiceMetrics(registry, Config{})

	m.ObserveLockWait(20 * time.Millisecond)
	m.ObserveDryRunCandidates(3)
	m.ObserveDispatchDuration(ModeDryRun, time.Second)

	assert.Equal(t, 3, testutil.CollectAndCount(registry,
		"invoicing_account_lock_wait_seconds",
		"invoicing_dry_run_candidate_dates",
		"invoicing_dispatch_duration_seconds",
	))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *InvoiceMetrics
	assert.NotPanics(t, func() {
		m.IncDispatch(ModeReal, DispatchOutcomeError)
		m.ObserveLockWait(time.Second)
		m.IncListenerEvent("account_change", ListenerOutcomeIgnored)
	})
}

func TestDuplicateRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newInvoiceMetrics(registry, Config{})
	second := newInvoiceMetrics(registry, Config{})

	first.IncNotification("next_billing_date", "processed")
	second.IncNotification("next_billing_date", "processed")

	assert.Equal(t, float64(2), testutil.ToFloat64(first.notifications.WithLabelValues("next_billing_date", "processed")))
}
