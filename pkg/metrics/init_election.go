package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoutingMetrics() {
	r.MessagesRoutedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_messages_routed_total",
			Help: "Messages enqueued onto a live instance's mailbox",
		},
		[]string{"kind"},
	)

	r.MessagesDroppedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_messages_dropped_total",
			Help: "Messages dropped before delivery",
		},
		[]string{"kind", "reason"}, // receiver_dead, sender_dead, partitioned, unknown_receiver, transport, malformed
	)

	r.MailboxDepth = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "election_mailbox_depth",
			Help: "Pending messages per instance mailbox",
		},
		[]string{"instance"},
	)

	r.HeartbeatProbesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_heartbeat_probes_total",
			Help: "Leader liveness probes by outcome",
		},
		[]string{"result"}, // alive, dead
	)

	r.ProbeDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "election_probe_duration_seconds",
			Help:    "Duration of leader liveness probes",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)
}

func (r *Registry) initElectionMetrics() {
	r.ElectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_elections_total",
			Help: "Elections by algorithm and outcome",
		},
		[]string{"algorithm", "result"}, // started, won, fatal
	)

	r.ElectionDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "election_duration_seconds",
			Help:    "Time from an instance starting an election to it learning the winner",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"algorithm"},
	)

	r.LeaderChangesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "election_leader_changes_total",
			Help: "Times any instance adopted a different leader",
		},
	)

	r.InstancesAlive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "election_instances_alive",
			Help: "Instances currently marked alive",
		},
	)

	r.InstancesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "election_instances_total",
			Help: "Instances registered in the topology",
		},
	)

	r.LeaderID = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "election_leader_id",
			Help: "Leader id each instance currently believes in (-1 when unknown)",
		},
		[]string{"instance"},
	)

	r.Role = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "election_role",
			Help: "Instance role (1 for current role, 0 otherwise)",
		},
		[]string{"instance", "role"}, // follower, electing, leader
	)
}
