// Package metrics exposes the prometheus collectors a System registers for
// its node/join/comchain/bus activity. Every collector is always created
// and safe to update; Registerer may be nil (common in tests and
// short-lived simulations), in which case New simply skips the
// registration step rather than requiring every caller to nil-check first.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector a System updates over its lifetime.
type Metrics struct {
	NodesAlive       prometheus.Gauge
	JoinsAccepted    prometheus.Counter
	JoinsRejected    prometheus.Counter
	Kicks            prometheus.Counter
	ChimerasDetected prometheus.Counter

	ComchainDead prometheus.Counter

	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter

	AckRetransmits prometheus.Counter
	HTMScans       prometheus.Counter
}

// New returns a Metrics with every collector created and, if reg is
// non-nil, registered against it. Registration failures (e.g. a name
// collision from constructing a second Metrics against the same
// Registerer) are ignored: metrics are an observability aid, never load
// bearing, and must not be able to fail System construction.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodesAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "praefectus_nodes_alive",
			Help: "Number of nodes currently alive in this system.",
		}),
		JoinsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_joins_accepted_total",
			Help: "Number of join requests this system has accepted.",
		}),
		JoinsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_joins_rejected_total",
			Help: "Number of join requests this system has rejected.",
		}),
		Kicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_kicks_total",
			Help: "Number of nodes demoted to negative disposition and kicked.",
		}),
		ChimerasDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_chimeras_detected_total",
			Help: "Number of colliding object-id chimera pairs detected.",
		}),
		ComchainDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_comchain_dead_total",
			Help: "Number of peer comchains observed transitioning to dead.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_messages_sent_total",
			Help: "Number of HLMSG datagrams sent.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_messages_received_total",
			Help: "Number of HLMSG datagrams received and validated.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_messages_dropped_total",
			Help: "Number of inbound datagrams dropped (malformed or unverifiable).",
		}),
		AckRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_ack_retransmits_total",
			Help: "Number of messages retransmitted in response to a Received gap report.",
		}),
		HTMScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praefectus_htm_scans_completed_total",
			Help: "Number of hash-tree range scans completed against a peer.",
		}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.NodesAlive, m.JoinsAccepted, m.JoinsRejected, m.Kicks, m.ChimerasDetected,
		m.ComchainDead, m.MessagesSent, m.MessagesReceived, m.MessagesDropped,
		m.AckRetransmits, m.HTMScans,
	} {
		_ = reg.Register(c)
	}
	return m
}
