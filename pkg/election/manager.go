package election

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-election/pkg/logging"
	"github.com/dd0wney/cluso-election/pkg/metrics"
	"github.com/dd0wney/cluso-election/pkg/transport"
)

// Topology is the read-only view of cluster membership
type Topology interface {
	Lookup(id int) (*Instance, bool)
	IDs() []int
}

// Router is everything a strategy may ask of the rest of the cluster
type Router interface {
	Topology
	IsAlive(id int) bool
	Probe(ctx context.Context, from, target int) bool
	RouteElection(senderID int, msg Message) (int, error)
	FindNextAlive(currentID int) (*Instance, error)
	ForwardNext(senderID int, msg Message) (int, error)
	Deliver(from, to int, msg Message) bool
	Broadcast(from int, msg Message) int
}

// Drop reasons reported on election_messages_dropped_total
const (
	DropUnknownReceiver = "unknown_receiver"
	DropSenderDead      = "sender_dead"
	DropReceiverDead    = "receiver_dead"
	DropPartitioned     = "partitioned"
	DropTransport       = "transport"
	DropMalformed       = "malformed"
)

// MessageManager routes messages between the instances of one cluster.
// Membership is fixed once instances are registered; liveness is read from
// each instance on every routing decision.
//
// Concurrent Safety:
// 1. Membership guarded by RWMutex (written only during Register)
// 2. All routing methods are safe to call from every instance's loop
type MessageManager struct {
	algorithm    Algorithm
	probeTimeout time.Duration

	mu        sync.RWMutex
	instances map[int]*Instance
	ids       []int

	link    *transport.Link
	carrier transport.Carrier
	traffic *traffic

	logger  logging.Logger
	metrics *metrics.Registry
}

// ManagerOption configures a MessageManager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	link    *transport.Link
	carrier transport.CarrierFactory
	logger  logging.Logger
	metrics *metrics.Registry
}

// WithLink sets the link model (default: no latency, no partitions)
func WithLink(link *transport.Link) ManagerOption {
	return func(o *managerOptions) { o.link = link }
}

// WithCarrier sets how frames travel between instances (default: in-process)
func WithCarrier(factory transport.CarrierFactory) ManagerOption {
	return func(o *managerOptions) { o.carrier = factory }
}

// WithManagerLogger sets the logger
func WithManagerLogger(logger logging.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithManagerMetrics sets the metrics registry
func WithManagerMetrics(reg *metrics.Registry) ManagerOption {
	return func(o *managerOptions) { o.metrics = reg }
}

// NewMessageManager creates a manager for one algorithm
func NewMessageManager(alg Algorithm, probeTimeout time.Duration, opts ...ManagerOption) (*MessageManager, error) {
	if _, err := ParseAlgorithm(string(alg)); err != nil {
		return nil, err
	}

	o := managerOptions{
		carrier: transport.NewLocalCarrier,
		logger:  logging.NewNopLogger(),
		metrics: metrics.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.link == nil {
		o.link = transport.NewLink(transport.LinkConfig{})
	}

	m := &MessageManager{
		algorithm:    alg,
		probeTimeout: probeTimeout,
		instances:    make(map[int]*Instance),
		link:         o.link,
		traffic:      newTraffic(),
		logger:       o.logger.With(logging.Component("manager"), logging.Algorithm(string(alg))),
		metrics:      o.metrics,
	}

	carrier, err := o.carrier(o.link, transport.Hooks{
		Deliver: m.receive,
		Drop:    m.undelivered,
		Alive:   m.IsAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create carrier: %w", err)
	}
	m.carrier = carrier
	return m, nil
}

// Register adds an instance. Call only during setup.
func (m *MessageManager) Register(inst *Instance) error {
	if inst.ID() < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidID, inst.ID())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[inst.ID()]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateInstance, inst.ID())
	}
	if err := m.carrier.Attach(inst.ID()); err != nil {
		return fmt.Errorf("failed to attach instance %d: %w", inst.ID(), err)
	}

	m.instances[inst.ID()] = inst
	m.ids = append(m.ids, inst.ID())
	sort.Ints(m.ids)
	return nil
}

// Algorithm returns the algorithm this manager routes for
func (m *MessageManager) Algorithm() Algorithm {
	return m.algorithm
}

// Link returns the link model
func (m *MessageManager) Link() *transport.Link {
	return m.link
}

// Lookup returns the instance with the given id
func (m *MessageManager) Lookup(id int) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Instance returns the instance with the given id or ErrInstanceNotFound
func (m *MessageManager) Instance(id int) (*Instance, error) {
	inst, ok := m.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInstanceNotFound, id)
	}
	return inst, nil
}

// IDs returns every registered id in ascending order
func (m *MessageManager) IDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, len(m.ids))
	copy(ids, m.ids)
	return ids
}

// InFlight returns the number of frames accepted by the carrier but not yet received
func (m *MessageManager) InFlight() int64 {
	return m.traffic.len()
}

// Settled reports whether no frame in flight is a candidacy or announces
// anyone but leader
func (m *MessageManager) Settled(leader int) bool {
	return m.traffic.settledOn(leader)
}

// Close shuts down the carrier
func (m *MessageManager) Close() error {
	return m.carrier.Close()
}

var _ Router = (*MessageManager)(nil)
