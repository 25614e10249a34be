package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Roles reported through the election_role gauge
var Roles = []string{"follower", "electing", "leader"}

// RecordRouted counts a message that reached a mailbox
func (r *Registry) RecordRouted(kind string) {
	r.MessagesRoutedTotal.WithLabelValues(kind).Inc()
}

// RecordDropped counts a message that never reached a mailbox
func (r *Registry) RecordDropped(kind, reason string) {
	r.MessagesDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordProbe records a leader liveness probe with its duration
func (r *Registry) RecordProbe(result string, duration time.Duration) {
	r.HeartbeatProbesTotal.WithLabelValues(result).Inc()
	r.ProbeDuration.Observe(duration.Seconds())
}

// RecordElection counts an election event for an algorithm
func (r *Registry) RecordElection(algorithm, result string) {
	r.ElectionsTotal.WithLabelValues(algorithm, result).Inc()
}

// ObserveElection records how long an instance spent electing
func (r *Registry) ObserveElection(algorithm string, duration time.Duration) {
	r.ElectionDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
}

// SetLeader records the leader an instance believes in and counts changes
func (r *Registry) SetLeader(instance, leader int, changed bool) {
	r.LeaderID.WithLabelValues(strconv.Itoa(instance)).Set(float64(leader))
	if changed {
		r.LeaderChangesTotal.Inc()
	}
}

// SetRole sets the current role of an instance
func (r *Registry) SetRole(instance int, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := strconv.Itoa(instance)
	for _, name := range Roles {
		r.Role.WithLabelValues(id, name).Set(0)
	}
	r.Role.WithLabelValues(id, role).Set(1)
}

// SetMailboxDepth records pending messages for an instance
func (r *Registry) SetMailboxDepth(instance, depth int) {
	r.MailboxDepth.WithLabelValues(strconv.Itoa(instance)).Set(float64(depth))
}

// UpdateClusterMetrics updates topology-wide gauges
func (r *Registry) UpdateClusterMetrics(total, alive int) {
	r.InstancesTotal.Set(float64(total))
	r.InstancesAlive.Set(float64(alive))
}

// RegisterEventBus exposes the event bus's drop counter and subscriber
// count. Both are read at scrape time.
func (r *Registry) RegisterEventBus(dropped, subscribers func() float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	droppedFunc := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "election_events_dropped_total",
			Help: "Events discarded because a subscriber's buffer was full",
		},
		dropped,
	)
	if err := r.registry.Register(droppedFunc); err != nil {
		return err
	}

	subscribersFunc := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "election_event_subscribers",
			Help: "Open event subscriptions across all topics",
		},
		subscribers,
	)
	if err := r.registry.Register(subscribersFunc); err != nil {
		r.registry.Unregister(droppedFunc)
		return err
	}
	return nil
}
