// Package metrics exposes the router's Prometheus instrumentation: the
// handful of gauges/counters/histograms a production deployment of this
// router would want on its hot paths — session count, approval queue
// depth, permission decisions, bulk-call partial failures, dispatch
// latency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the router registers. Construct one with
// New and pass it down to the components that populate it; a nil *Metrics
// is safe to use (every method becomes a no-op) so tests and embedders
// that don't care about metrics aren't forced to wire one up.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	ApprovalQueueDepth  prometheus.Gauge
	PermissionDecisions *prometheus.CounterVec
	BulkCallPartialRate prometheus.Counter
	BulkCallTotal       prometheus.Counter
	DispatchLatency     *prometheus.HistogramVec
}

// New registers a fresh set of collectors against reg and returns the
// bundle. Pass prometheus.NewRegistry() in tests to avoid collisions with
// the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletmesh_router",
			Name:      "sessions_active",
			Help:      "Number of non-expired sessions currently held by the session store.",
		}),
		ApprovalQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletmesh_router",
			Name:      "approval_queue_depth",
			Help:      "Number of approvals currently pending a user decision.",
		}),
		PermissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletmesh_router",
			Name:      "permission_decisions_total",
			Help:      "Permission decisions by verdict (allowed, denied, ask_user).",
		}, []string{"verdict"}),
		BulkCallPartialRate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletmesh_router",
			Name:      "bulk_call_partial_failures_total",
			Help:      "wm_bulkCall invocations that returned PartialFailure.",
		}),
		BulkCallTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletmesh_router",
			Name:      "bulk_call_total",
			Help:      "Total wm_bulkCall invocations.",
		}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletmesh_router",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of wm_* method dispatch, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.ApprovalQueueDepth,
		m.PermissionDecisions,
		m.BulkCallPartialRate,
		m.BulkCallTotal,
		m.DispatchLatency,
	)
	return m
}

func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) SetApprovalQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ApprovalQueueDepth.Set(float64(n))
}

func (m *Metrics) ObservePermissionDecision(verdict string) {
	if m == nil {
		return
	}
	m.PermissionDecisions.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveBulkCall(partial bool) {
	if m == nil {
		return
	}
	m.BulkCallTotal.Inc()
	if partial {
		m.BulkCallPartialRate.Inc()
	}
}

func (m *Metrics) ObserveDispatchLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchLatency.WithLabelValues(method).Observe(seconds)
}
