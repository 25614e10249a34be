package election

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-election/pkg/logging"
	"github.com/dd0wney/cluso-election/pkg/metrics"
	"github.com/dd0wney/cluso-election/pkg/pubsub"
	"github.com/dd0wney/cluso-election/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// convergencePoll is how often WaitForConvergence samples the cluster
const convergencePoll = 5 * time.Millisecond

// Cluster owns a set of instances, their shared MessageManager, and the
// goroutines running their control loops.
type Cluster struct {
	cfg       Config
	manager   *MessageManager
	instances []*Instance

	logger  logging.Logger
	metrics *metrics.Registry
	events  *pubsub.PubSub

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// InstanceStatus is a point-in-time view of one instance
type InstanceStatus struct {
	ID       int    `json:"id"`
	Alive    bool   `json:"alive"`
	LeaderID int    `json:"leader_id"`
	State    string `json:"state"`
	Pending  int    `json:"pending"`
	Received int64  `json:"received"`
}

// ClusterOption configures a Cluster
type ClusterOption func(*clusterOptions)

type clusterOptions struct {
	logger  logging.Logger
	metrics *metrics.Registry
	events  *pubsub.PubSub
	carrier transport.CarrierFactory
}

// WithLogger sets the cluster logger
func WithLogger(logger logging.Logger) ClusterOption {
	return func(o *clusterOptions) { o.logger = logger }
}

// WithMetrics sets the metrics registry shared by every instance
func WithMetrics(reg *metrics.Registry) ClusterOption {
	return func(o *clusterOptions) { o.metrics = reg }
}

// WithEvents sets the event bus leadership changes are published on
func WithEvents(ps *pubsub.PubSub) ClusterOption {
	return func(o *clusterOptions) { o.events = ps }
}

// WithCarrierFactory replaces the in-process carrier
func WithCarrierFactory(factory transport.CarrierFactory) ClusterOption {
	return func(o *clusterOptions) { o.carrier = factory }
}

// NewCluster validates cfg and builds one instance per id
func NewCluster(cfg Config, opts ...ClusterOption) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clusterOptions{
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewRegistry(),
		carrier: transport.NewLocalCarrier,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.events == nil {
		o.events = pubsub.NewPubSub(0)
	}

	manager, err := NewMessageManager(cfg.Algorithm, cfg.ProbeTimeout,
		WithLink(transport.NewLink(cfg.Link)),
		WithCarrier(o.carrier),
		WithManagerLogger(o.logger),
		WithManagerMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		cfg:     cfg,
		manager: manager,
		logger:  o.logger.With(logging.Component("cluster")),
		metrics: o.metrics,
		events:  o.events,
	}

	for _, id := range cfg.IDs {
		strategy, err := NewStrategy(cfg.Algorithm, cfg.SeenRounds)
		if err != nil {
			manager.Close()
			return nil, err
		}
		inst := NewInstance(id, cfg.InitialLeader, manager, strategy,
			WithInstanceLogger(o.logger),
			WithInstanceMetrics(o.metrics),
			WithInstanceEvents(o.events),
			WithHeartbeatInterval(cfg.HeartbeatInterval),
			WithMailboxWarnDepth(cfg.MailboxWarnDepth),
			WithStopOnFatal(cfg.StopOnFatal),
		)
		if err := manager.Register(inst); err != nil {
			manager.Close()
			return nil, err
		}
		c.instances = append(c.instances, inst)
	}

	if err := c.metrics.RegisterEventBus(
		func() float64 { return float64(c.events.Dropped()) },
		c.eventSubscribers,
	); err != nil {
		c.logger.Warn("event bus metrics not registered", logging.Error(err))
	}

	c.updateClusterMetrics()
	return c, nil
}

// Config returns the cluster configuration
func (c *Cluster) Config() Config {
	return c.cfg
}

// Manager returns the shared message manager
func (c *Cluster) Manager() *MessageManager {
	return c.manager
}

// Metrics returns the metrics registry
func (c *Cluster) Metrics() *metrics.Registry {
	return c.metrics
}

// Events returns the event bus
func (c *Cluster) Events() *pubsub.PubSub {
	return c.events
}

// Start runs every instance's control loop in its own goroutine. A
// cluster runs once: Start after Stop returns ErrClusterStopped.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrClusterRunning
	}
	if c.stopped {
		return ErrClusterStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	for _, inst := range c.instances {
		inst := inst
		group.Go(func() error {
			return inst.Run(gctx)
		})
	}

	c.cancel = cancel
	c.group = group
	c.running = true

	c.logger.Info("cluster started",
		logging.Algorithm(string(c.cfg.Algorithm)),
		logging.Count(len(c.instances)),
		logging.LeaderID(c.cfg.InitialLeader),
	)
	return nil
}

// Stop cancels every control loop, waits for them, and releases the
// carrier and event bus. It returns the first loop error, if any.
func (c *Cluster) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrClusterNotRunning
	}
	c.running = false
	c.stopped = true
	cancel, group := c.cancel, c.group
	c.mu.Unlock()

	cancel()
	err := group.Wait()
	for _, inst := range c.instances {
		inst.Close()
	}
	if cerr := c.manager.Close(); cerr != nil && err == nil {
		err = cerr
	}
	c.events.Shutdown()

	c.logger.Info("cluster stopped")
	return err
}

// Instance returns the instance with the given id
func (c *Cluster) Instance(id int) (*Instance, error) {
	return c.manager.Instance(id)
}

// Instances returns every instance in ascending id order
func (c *Cluster) Instances() []*Instance {
	out := make([]*Instance, len(c.instances))
	copy(out, c.instances)
	return out
}

// Kill marks an instance dead, discarding its mailbox
func (c *Cluster) Kill(id int) error {
	inst, err := c.manager.Instance(id)
	if err != nil {
		return err
	}
	inst.SetAlive(false)
	c.updateClusterMetrics()
	return nil
}

// Revive brings a dead instance back; it forgets its leader
func (c *Cluster) Revive(id int) error {
	inst, err := c.manager.Instance(id)
	if err != nil {
		return err
	}
	inst.SetAlive(true)
	c.updateClusterMetrics()
	return nil
}

// Inject delivers a driver message to instance id. ErrNoAliveInstance is
// returned when the whole cluster is dead, since nothing can be elected.
func (c *Cluster) Inject(id int, msg Message) error {
	if !msg.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}
	if _, err := c.manager.Instance(id); err != nil {
		return err
	}
	if len(c.manager.AliveIDs()) == 0 {
		return ErrNoAliveInstance
	}
	c.manager.Deliver(NoSender, id, msg)
	return nil
}

// TriggerHeartbeat asks instance id to check its leader
func (c *Cluster) TriggerHeartbeat(id int) error {
	return c.Inject(id, Signal(KindHeartbeatInvoke))
}

// TriggerElection asks instance id to start an election
func (c *Cluster) TriggerElection(id int) error {
	return c.Inject(id, Signal(KindElectionInvoke))
}

// Leaders returns the leader each alive instance believes in
func (c *Cluster) Leaders() map[int]int {
	leaders := make(map[int]int, len(c.instances))
	for _, inst := range c.instances {
		if inst.IsAlive() {
			leaders[inst.ID()] = inst.LeaderID()
		}
	}
	return leaders
}

// States returns the role of each alive instance
func (c *Cluster) States() map[int]State {
	states := make(map[int]State, len(c.instances))
	for _, inst := range c.instances {
		if inst.IsAlive() {
			states[inst.ID()] = inst.State()
		}
	}
	return states
}

// Snapshot returns the status of every instance, dead ones included
func (c *Cluster) Snapshot() []InstanceStatus {
	out := make([]InstanceStatus, 0, len(c.instances))
	for _, inst := range c.instances {
		out = append(out, InstanceStatus{
			ID:       inst.ID(),
			Alive:    inst.IsAlive(),
			LeaderID: inst.LeaderID(),
			State:    inst.State().String(),
			Pending:  inst.Pending(),
			Received: inst.Received(),
		})
	}
	return out
}

// Converged reports whether every alive instance follows the highest alive
// id and no candidacy or rival announcement is queued or in flight.
// Heartbeats keep circulating on a converged cluster and are ignored.
func (c *Cluster) Converged() (int, bool) {
	highest := c.manager.HighestAlive()
	if highest == NoLeader || !c.manager.Settled(highest) {
		return NoLeader, false
	}

	for _, inst := range c.instances {
		if !inst.IsAlive() {
			continue
		}
		if !inst.Settled(highest) || inst.LeaderID() != highest {
			return NoLeader, false
		}
		if inst.ID() == highest && inst.State() != StateLeader {
			return NoLeader, false
		}
		if inst.ID() != highest && inst.State() != StateFollower {
			return NoLeader, false
		}
	}
	return highest, true
}

// WaitForConvergence polls until Converged holds on two consecutive samples
// or ctx is done
func (c *Cluster) WaitForConvergence(ctx context.Context) (int, error) {
	ticker := time.NewTicker(convergencePoll)
	defer ticker.Stop()

	stable := 0
	last := NoLeader
	for {
		if c.manager.AliveSet().None() {
			return NoLeader, ErrNoAliveInstance
		}

		leader, ok := c.Converged()
		switch {
		case !ok:
			stable = 0
		case leader == last:
			stable++
		default:
			stable = 1
		}
		last = leader
		if stable >= 2 {
			return leader, nil
		}

		select {
		case <-ctx.Done():
			return NoLeader, fmt.Errorf("cluster did not converge: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Subscribe returns a subscription to one event topic
func (c *Cluster) Subscribe(ctx context.Context, topic string) (*pubsub.Subscription, error) {
	return c.events.Subscribe(ctx, topic)
}

func (c *Cluster) eventSubscribers() float64 {
	n := 0
	for _, topic := range []string{pubsub.TopicLeader, pubsub.TopicState, pubsub.TopicFatal} {
		n += c.events.GetSubscriberCount(topic)
	}
	return float64(n)
}

func (c *Cluster) updateClusterMetrics() {
	c.metrics.UpdateClusterMetrics(len(c.instances), int(c.manager.AliveSet().Count()))
}
