package telemetry

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSink tallies telemetry events by name and level into a counter
// vector that a /metrics handler can expose (see cmd/agentrtd).
type PrometheusSink struct {
	counter *prometheus.CounterVec
}

// NewPrometheusSink registers (or reuses, if already registered) a
// "agentrt_telemetry_events_total" counter vector on registerer.
func NewPrometheusSink(registerer prometheus.Registerer) *PrometheusSink {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrt_telemetry_events_total",
		Help: "Count of telemetry events emitted by the agent runtime, by event name and level.",
	}, []string{"name", "level"})

	if err := registerer.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return &PrometheusSink{counter: counter}
}

// Handle implements Sink.
func (s *PrometheusSink) Handle(event Event) {
	s.counter.WithLabelValues(event.Name, string(event.Level)).Inc()
}
