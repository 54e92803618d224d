package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarityql_retention_runs_total",
			Help: "Total number of retention runs by status.",
		},
		[]string{"status"},
	)
	statesPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarityql_retention_states_purged_total",
			Help: "Total number of expired conversation states deleted by retention runs.",
		},
	)
	auditRowsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarityql_retention_audit_rows_purged_total",
			Help: "Total number of query audit rows deleted by retention runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		statesPurgedTotal,
		auditRowsPurgedTotal,
	)
}
