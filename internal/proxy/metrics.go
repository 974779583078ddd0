package proxy

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Prometheus collectors exposed at GET /metrics,
// complementing C9's JSON observability surface rather than replacing it.
type metrics struct {
	puts            *prometheus.CounterVec
	gets            *prometheus.CounterVec
	deletes         prometheus.Counter
	replicaFailures *prometheus.CounterVec
	partitionSkips  prometheus.Counter
	nodeCount       prometheus.Gauge
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "puts_total",
			Help:      "Coordinated writes, labeled by overall outcome.",
		}, []string{"result"}),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "gets_total",
			Help:      "Coordinated reads, labeled by source.",
		}, []string{"source"}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "deletes_total",
			Help:      "Coordinated deletes issued.",
		}),
		replicaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "replica_failures_total",
			Help:      "Per-replica write/health call failures, labeled by node id.",
		}, []string{"node"}),
		partitionSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "partition_skips_total",
			Help:      "Replica writes skipped due to a declared partition.",
		}),
		nodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cacheproxy",
			Name:      "registered_nodes",
			Help:      "Number of nodes currently registered with the ring.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.puts, m.gets, m.deletes, m.replicaFailures, m.partitionSkips, m.nodeCount)
	}
	return m
}
