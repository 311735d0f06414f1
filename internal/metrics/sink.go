// Package metrics implements the push/progress sink this module
// consumes: a registry-backed struct exposing one gauge per tracked
// value, registered once at construction.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the consumed push/progress sink contract.
type Sink interface {
	SetPushing(pushing bool)
	SetReplicationProgress(fraction float64)
}

// PrometheusSink is the reference Sink implementation: two gauges,
// registered against the given registerer (pass prometheus.DefaultRegisterer
// for a process-wide /metrics endpoint, or a fresh *prometheus.Registry in
// tests to avoid collisions between parallel test binaries).
type PrometheusSink struct {
	pushing     prometheus.Gauge
	replication prometheus.Gauge
}

// NewPrometheusSink creates and registers the sink's gauges.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		pushing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emsync",
			Name:      "is_pushing",
			Help:      "1 if any entity currently has a pending write, 0 otherwise.",
		}),
		replication: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emsync",
			Name:      "replication_progress",
			Help:      "Fraction (0-1) of all replication TaskQueue tasks added so far that have completed.",
		}),
	}
	reg.MustRegister(s.pushing, s.replication)
	return s
}

// SetPushing reports the UpdateSet's current is_pushing value as 0/1.
func (s *PrometheusSink) SetPushing(pushing bool) {
	if pushing {
		s.pushing.Set(1)
	} else {
		s.pushing.Set(0)
	}
}

// SetReplicationProgress reports the replication TaskQueue's
// complete/total, both counted over every task added so far.
func (s *PrometheusSink) SetReplicationProgress(fraction float64) {
	s.replication.Set(fraction)
}

// NoopSink discards everything. Used by test-mode Engine configuration.
type NoopSink struct{}

func (NoopSink) SetPushing(bool)                {}
func (NoopSink) SetReplicationProgress(float64) {}
