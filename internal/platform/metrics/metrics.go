package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one process. All methods are
// safe on a nil receiver so components can run without metrics.
type Metrics struct {
	TokenRefreshes    *prometheus.CounterVec
	AuditPages        prometheus.Counter
	AuditRecords      prometheus.Counter
	AuditPageFailures prometheus.Counter
	DatasetOperations *prometheus.CounterVec
	TenantResults     *prometheus.CounterVec
	Runs              *prometheus.CounterVec
	OutboxDispatches  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditsync_token_refreshes_total",
			Help: "OAuth token refresh attempts by scope and outcome",
		}, []string{"scope", "outcome"}),
		AuditPages: f.NewCounter(prometheus.CounterOpts{
			Name: "auditsync_audit_pages_total",
			Help: "Audit log pages fetched, including the terminating empty page",
		}),
		AuditRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "auditsync_audit_records_total",
			Help: "Audit log records accumulated across tenants",
		}),
		AuditPageFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditsync_audit_page_failures_total",
			Help: "Audit log page requests that truncated a tenant's result",
		}),
		DatasetOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditsync_dataset_operations_total",
			Help: "Dataset API operations by operation and outcome",
		}, []string{"op", "outcome"}),
		TenantResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditsync_tenant_results_total",
			Help: "Per-tenant fetch results by status",
		}, []string{"status"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditsync_runs_total",
			Help: "Sync runs by final status",
		}, []string{"status"}),
		OutboxDispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditsync_outbox_dispatches_total",
			Help: "Run event delivery attempts by outcome",
		}, []string{"outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) TokenRefreshed(scope string, err error) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(scope, outcome(err)).Inc()
}

func (m *Metrics) PageFetched(records int) {
	if m == nil {
		return
	}
	m.AuditPages.Inc()
	m.AuditRecords.Add(float64(records))
}

func (m *Metrics) PageFailed() {
	if m == nil {
		return
	}
	m.AuditPageFailures.Inc()
}

func (m *Metrics) DatasetOperation(op string, err error) {
	if m == nil {
		return
	}
	m.DatasetOperations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) TenantResult(status string) {
	if m == nil {
		return
	}
	m.TenantResults.WithLabelValues(status).Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

// OutboxDispatch counts one delivery attempt; outcome is dispatched, failed or dead.
func (m *Metrics) OutboxDispatch(outcome string) {
	if m == nil {
		return
	}
	m.OutboxDispatches.WithLabelValues(outcome).Inc()
}
