package motion

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps the engine's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	samples    *prometheus.CounterVec
	candidates *prometheus.CounterVec
	steps      prometheus.Counter
	activity   prometheus.Gauge
	cadence    prometheus.Gauge
	sessions   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motion",
			Name:      "samples_total",
			Help:      "Accelerometer samples by result (ingested, dropped)",
		}, []string{"result"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motion",
			Name:      "step_candidates_total",
			Help:      "Step candidates by outcome (accepted, rhythm, variability)",
		}, []string{"outcome"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "motion",
			Name:      "steps_total",
			Help:      "Confirmed steps",
		}),
		activity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "motion",
			Name:      "activity_state",
			Help:      "Current activity (0=idle, 1=walking, 2=running)",
		}),
		cadence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "motion",
			Name:      "cadence_steps_per_minute",
			Help:      "Effective cadence used for classification",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motion",
			Name:      "sessions_total",
			Help:      "Closed activity sessions by outcome (logged, discarded, failed)",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.samples, m.candidates, m.steps, m.activity, m.cadence, m.sessions)
	}
	return m
}

func (m *Metrics) sample(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.samples.WithLabelValues("ingested").Inc()
	} else {
		m.samples.WithLabelValues("dropped").Inc()
	}
}

func (m *Metrics) verdict(v verdict) {
	if m == nil {
		return
	}
	switch v {
	case verdictAccepted:
		m.candidates.WithLabelValues(v.String()).Inc()
		m.steps.Inc()
	case verdictRhythm, verdictVariability:
		m.candidates.WithLabelValues(v.String()).Inc()
	}
}

func (m *Metrics) state(a Activity, rate float64) {
	if m == nil {
		return
	}
	m.activity.Set(float64(a))
	m.cadence.Set(rate)
}

func (m *Metrics) session(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}
