package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/kernelgate/internal/model"
)

// Metric label values for cell outcomes beyond the kernel's own statuses.
const (
	outcomeTimeout      = "timeout"
	outcomeRuntimeError = "runtime_error"
	outcomeCancelled    = "cancelled"
)

var (
	kernelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kernelgate_kernels_active",
			Help: "Number of kernels currently registered.",
		},
	)

	cellExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernelgate_cell_executions_total",
			Help: "Total number of cell executions by outcome.",
		},
		[]string{"status"},
	)

	cellExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kernelgate_cell_execution_seconds",
			Help:    "Duration from submission to terminal reply, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(kernelsActive)
	prometheus.MustRegister(cellExecutionsTotal)
	prometheus.MustRegister(cellExecutionDuration)

	// Pre-initialize label combinations so they appear in /metrics
	// with value 0 from startup.
	for _, s := range []string{
		string(model.StatusOK), string(model.StatusError), string(model.StatusAborted),
		outcomeTimeout, outcomeRuntimeError, outcomeCancelled,
	} {
		cellExecutionsTotal.WithLabelValues(s)
	}
}
