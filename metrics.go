package keyproxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// attempt outcomes
const (
	outcomeOK             = "ok"
	outcomeRateLimited    = "rate_limited"
	outcomeTransportError = "transport_error"
)

// Metrics records attempt, rotation and exhaustion counts.
// A nil *Metrics records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	rotations prometheus.Counter
	exhausted prometheus.Counter
	keyIndex  prometheus.Gauge
}

// NewMetrics creates the proxy metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyproxy_attempts_total",
				Help: "Total number of upstream attempts by outcome",
			},
			[]string{"outcome"},
		),
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyproxy_rotations_total",
			Help: "Total number of api key rotations",
		}),
		exhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyproxy_exhausted_total",
			Help: "Total number of requests that ran out of api keys",
		}),
		keyIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyproxy_key_index",
			Help: "Index of the api key the next request starts with",
		}),
	}
}

func (m *Metrics) recordAttempt(outcome string) {
	if m == nil {
		return
	}

	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordRotation(next int) {
	if m == nil {
		return
	}

	m.rotations.Inc()
	m.keyIndex.Set(float64(next))
}

func (m *Metrics) recordExhausted() {
	if m == nil {
		return
	}

	m.exhausted.Inc()
}
