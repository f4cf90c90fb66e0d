package engine

import "github.com/prometheus/client_golang/prometheus"

// metricsSet holds the engine's prometheus collectors, registered against
// whatever types.Config.MetricsRegisterer the Context was built with rather
// than always prometheus.MustRegister-ing onto the global default — the
// teacher (engine/metrics.go in bittoy-rule) always registers onto
// prometheus.DefaultRegisterer, which makes every engine instance in a
// process fight over one global registry; a Context-scoped registerer lets
// more than one engine coexist in a test binary, or the registerer to be
// swapped for a no-op one in unit tests.
type metricsSet struct {
	reads       prometheus.Counter
	writes      prometheus.Counter
	attaches    prometheus.Counter
	detaches    prometheus.Counter
	validations prometheus.Counter
	derivedRuns prometheus.Counter
	cycleErrors prometheus.Counter
	subjects    prometheus.Gauge
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_property_reads_total",
			Help: "Total number of property reads intercepted.",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_property_writes_total",
			Help: "Total number of property writes intercepted.",
		}),
		attaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_subject_attaches_total",
			Help: "Total number of subject attach events (0->1 refcount transitions).",
		}),
		detaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_subject_detaches_total",
			Help: "Total number of subject detach events (1->0 refcount transitions).",
		}),
		validations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_validation_failures_total",
			Help: "Total number of write validation failures.",
		}),
		derivedRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_derived_recomputations_total",
			Help: "Total number of derived property recomputations.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interceptor_derivation_cycles_total",
			Help: "Total number of cycle-in-derivation errors detected.",
		}),
		subjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interceptor_registered_subjects",
			Help: "Current number of registered (reachable) subjects.",
		}),
	}
	if reg != nil {
		collectors := []prometheus.Collector{
			m.reads, m.writes, m.attaches, m.detaches,
			m.validations, m.derivedRuns, m.cycleErrors, m.subjects,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					_ = are
					continue
				}
			}
		}
	}
	return m
}
