package command

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the domain counters recorded by command handlers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ExpeditionsCreated *prometheus.CounterVec // status
	Unlocks            prometheus.Counter
	Completions        *prometheus.CounterVec // difficulty
	PointsAwarded      *prometheus.CounterVec // source
	Moderations        *prometheus.CounterVec // decision
	PartialFailures    *prometheus.CounterVec // operation, step
}

// NewMetrics creates the counters and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExpeditionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subvoyager_expeditions_created_total",
				Help: "Expeditions created, by initial status",
			},
			[]string{"status"},
		),
		Unlocks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subvoyager_unlocks_total",
				Help: "Expeditions unlocked by users",
			},
		),
		Completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subvoyager_completions_total",
				Help: "Expeditions completed by users, by difficulty",
			},
			[]string{"difficulty"},
		),
		PointsAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subvoyager_points_awarded_total",
				Help: "Points credited to users, by source",
			},
			[]string{"source"},
		),
		Moderations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subvoyager_moderations_total",
				Help: "Moderation decisions",
			},
			[]string{"decision"},
		),
		PartialFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subvoyager_partial_failures_total",
				Help: "Multi-step writes that failed after at least one step succeeded",
			},
			[]string{"operation", "step"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ExpeditionsCreated,
			m.Unlocks,
			m.Completions,
			m.PointsAwarded,
			m.Moderations,
			m.PartialFailures,
		)
	}
	return m
}

func (m *Metrics) created(status string) {
	if m != nil {
		m.ExpeditionsCreated.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) unlocked() {
	if m != nil {
		m.Unlocks.Inc()
	}
}

func (m *Metrics) completed(difficulty string, points int) {
	if m != nil {
		m.Completions.WithLabelValues(difficulty).Inc()
		m.PointsAwarded.WithLabelValues("completion").Add(float64(points))
	}
}

func (m *Metrics) granted(points int) {
	if m != nil {
		m.PointsAwarded.WithLabelValues("grant").Add(float64(points))
	}
}

func (m *Metrics) moderated(decision string) {
	if m != nil {
		m.Moderations.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) partialFailure(op, step string) {
	if m != nil {
		m.PartialFailures.WithLabelValues(op, step).Inc()
	}
}
