package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports job executions to Prometheus.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Skipped  *prometheus.CounterVec
}

// NewMetrics creates the job metrics and registers them when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subvoyager_job_runs_total",
			Help: "Job executions by result",
		}, []string{"job", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subvoyager_job_duration_seconds",
			Help:    "Duration of job executions",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subvoyager_job_skipped_total",
			Help: "Scheduled runs skipped because the previous run was still going",
		}, []string{"job"}),
	}

	if reg != nil {
		reg.MustRegister(m.Runs, m.Duration, m.Skipped)
	}
	return m
}

func (m *Metrics) observe(job string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Runs.WithLabelValues(job, result).Inc()
	m.Duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) skipped(job string) {
	m.Skipped.WithLabelValues(job).Inc()
}
