package kyc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for pipeline runs. A nil *Metrics is a no-op.
type Metrics struct {
	// Stage latencies by stage name
	StageLatency *prometheus.HistogramVec

	// Stage outcomes by stage name and step status
	StageOutcome *prometheus.CounterVec

	// Document validations by path: llm, rule_based or error
	ValidationPath *prometheus.CounterVec

	// Final case statuses
	CaseOutcome *prometheus.CounterVec

	// Whole run latency
	RunLatency prometheus.Histogram
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_stage_duration_seconds",
			Help:    "Duration of pipeline stage invocations by stage",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),

		StageOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_stage_outcomes_total",
			Help: "Pipeline stage outcomes by stage and status",
		}, []string{"stage", "status"}),

		ValidationPath: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_document_validations_total",
			Help: "Document validations by document kind and validation path",
		}, []string{"kind", "path"}),

		CaseOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_case_outcomes_total",
			Help: "Final case statuses decided by pipeline runs",
		}, []string{"status"}),

		RunLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_run_duration_seconds",
			Help:    "Duration of full submission pipeline runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) observeStage(stage string, status StepStatus, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
		m.StageOutcome.WithLabelValues(stage, string(status)).Inc()
	}
}

func (m *Metrics) incValidation(kind, path string) {
	if m != nil {
		m.ValidationPath.WithLabelValues(kind, path).Inc()
	}
}

func (m *Metrics) observeRun(status Status, d time.Duration) {
	if m != nil {
		m.CaseOutcome.WithLabelValues(string(status)).Inc()
		m.RunLatency.Observe(d.Seconds())
	}
}
