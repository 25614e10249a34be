package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for an election cluster
type Registry struct {
	// Message routing
	MessagesRoutedTotal  *prometheus.CounterVec
	MessagesDroppedTotal *prometheus.CounterVec
	MailboxDepth         *prometheus.GaugeVec

	// Failure detection
	HeartbeatProbesTotal *prometheus.CounterVec
	ProbeDuration        prometheus.Histogram

	// Elections
	ElectionsTotal      *prometheus.CounterVec
	ElectionDuration    *prometheus.HistogramVec
	LeaderChangesTotal  prometheus.Counter
	InstancesAlive      prometheus.Gauge
	InstancesTotal      prometheus.Gauge
	LeaderID            *prometheus.GaugeVec
	Role                *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized.
// Each cluster in tests gets its own registry so counters never collide.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initRoutingMetrics()
	r.initElectionMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
