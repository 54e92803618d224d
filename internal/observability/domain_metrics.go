package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarityql_pipeline_runs_total",
			Help: "Total number of merge/validate/resolve/compile runs by outcome.",
		},
		[]string{"outcome"},
	)
	pipelineRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarityql_pipeline_rejections_total",
			Help: "Total number of rejected queries by error code.",
		},
		[]string{"code"},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clarityql_pipeline_duration_seconds",
			Help:    "Latency of a full pipeline run.",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)
	conversationTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarityql_conversation_turns_total",
			Help: "Total number of conversation turns by intent and outcome.",
		},
		[]string{"intent", "outcome"},
	)
	parseLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clarityql_parse_latency_ms",
			Help:    "Latency of natural-language parse calls in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000},
		},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clarityql_execution_latency_ms",
			Help:    "Latency of compiled query execution in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)
	executionRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarityql_execution_rows_total",
			Help: "Total number of rows returned by executed queries.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineRejectionsTotal,
		pipelineDurationSeconds,
		conversationTurnsTotal,
		parseLatencyMs,
		executionLatencyMs,
		executionRowsTotal,
	)
}

// ObservePipelineRun records one pipeline run. code is the rejection code and
// is ignored unless outcome is "rejected".
func ObservePipelineRun(outcome, code string, elapsed time.Duration) {
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
	if outcome == "rejected" && code != "" {
		pipelineRejectionsTotal.WithLabelValues(code).Inc()
	}
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveConversationTurn(intent, outcome string) {
	conversationTurnsTotal.WithLabelValues(intent, outcome).Inc()
}

func ObserveParse(elapsed time.Duration) {
	parseLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveExecution(rows int, elapsed time.Duration) {
	executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if rows > 0 {
		executionRowsTotal.Add(float64(rows))
	}
}
