package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity registry.
// Tracks mutation outcomes, live supply and mutation latency.
type Metrics struct {
	Mutations        *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	LiveIdentities   prometheus.Gauge
	RelayPublished   prometheus.Counter
	RelayFailures    prometheus.Counter
	RelayLag         prometheus.Gauge
}

// New registers the registry metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soulid_mutations_total",
			Help: "Registry mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		MutationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soulid_mutation_duration_seconds",
			Help:    "Duration of registry mutations including the writer lock wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		LiveIdentities: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soulid_live_identities",
			Help: "Number of live identities as of the last mutation",
		}),
		RelayPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulid_relay_published_total",
			Help: "Registry events published to Kafka",
		}),
		RelayFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulid_relay_failures_total",
			Help: "Relay batches that failed to publish",
		}),
		RelayLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soulid_relay_lag_events",
			Help: "Events appended but not yet published",
		}),
	}
}

// ObserveMutation records one mutation's outcome and duration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMutation(operation, outcome string, start time.Time) {
	m.Mutations.WithLabelValues(operation, outcome).Inc()
	m.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetLiveIdentities records the current supply.
func (m *Metrics) SetLiveIdentities(n uint64) {
	m.LiveIdentities.Set(float64(n))
}

// AddRelayPublished counts published events.
func (m *Metrics) AddRelayPublished(n int) {
	m.RelayPublished.Add(float64(n))
}

// IncrementRelayFailures counts a failed relay batch.
func (m *Metrics) IncrementRelayFailures() {
	m.RelayFailures.Inc()
}

// SetRelayLag records how far the relay trails the log.
func (m *Metrics) SetRelayLag(n uint64) {
	m.RelayLag.Set(float64(n))
}
