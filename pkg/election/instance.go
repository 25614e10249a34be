package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-election/pkg/logging"
	"github.com/dd0wney/cluso-election/pkg/metrics"
	"github.com/dd0wney/cluso-election/pkg/pubsub"
	"go.uber.org/atomic"
)

// Instance is one participant in the election. Its control loop (Run) is
// the only writer of leader and state; the atomics exist so observers can
// take snapshots.
//
// Concurrent Safety:
// 1. alive is the only field written from outside the loop (SetAlive)
// 2. aliveMu orders SetAlive against OnMessage so a dead mailbox is never appended to
// 3. leader, state and resync are atomics read by observers
type Instance struct {
	id       int
	router   Router
	strategy Strategy
	mailbox  *mailbox

	alive    atomic.Bool
	aliveMu  sync.Mutex
	resync   atomic.Bool
	leader   atomic.Int64
	state    atomic.Int32
	received atomic.Int64

	heartbeatInterval time.Duration
	warnDepth         int
	stopOnFatal       bool

	// owned by the control loop
	election *logging.TimedOperation

	logger  logging.Logger
	metrics *metrics.Registry
	events  *pubsub.PubSub
}

// InstanceOption configures an Instance
type InstanceOption func(*Instance)

// WithInstanceLogger sets the parent logger; the instance adds its own fields
func WithInstanceLogger(logger logging.Logger) InstanceOption {
	return func(i *Instance) { i.logger = logger }
}

// WithInstanceMetrics sets the metrics registry
func WithInstanceMetrics(reg *metrics.Registry) InstanceOption {
	return func(i *Instance) { i.metrics = reg }
}

// WithInstanceEvents publishes leader and state changes on ps
func WithInstanceEvents(ps *pubsub.PubSub) InstanceOption {
	return func(i *Instance) { i.events = ps }
}

// WithHeartbeatInterval enables the periodic self trigger
func WithHeartbeatInterval(d time.Duration) InstanceOption {
	return func(i *Instance) { i.heartbeatInterval = d }
}

// WithMailboxWarnDepth logs a warning when the mailbox grows past depth
func WithMailboxWarnDepth(depth int) InstanceOption {
	return func(i *Instance) { i.warnDepth = depth }
}

// WithStopOnFatal makes Run return when the cluster has no alive instance
func WithStopOnFatal(stop bool) InstanceOption {
	return func(i *Instance) { i.stopOnFatal = stop }
}

// NewInstance creates an alive instance that believes initialLeader leads.
// router is the instance's only view of the rest of the cluster.
func NewInstance(id, initialLeader int, router Router, strategy Strategy, opts ...InstanceOption) *Instance {
	i := &Instance{
		id:       id,
		router:   router,
		strategy: strategy,
		mailbox:  newMailbox(),
		logger:   logging.NewNopLogger(),
		metrics:  metrics.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(logging.Component("instance"), logging.InstanceID(id))

	i.alive.Store(true)
	i.leader.Store(int64(initialLeader))
	if initialLeader == id {
		i.state.Store(int32(StateLeader))
	} else {
		i.state.Store(int32(StateFollower))
	}
	i.metrics.SetLeader(id, initialLeader, false)
	i.metrics.SetRole(id, i.State().String())
	return i
}

// ID returns the instance id
func (i *Instance) ID() int {
	return i.id
}

// LeaderID returns the leader this instance believes in, or NoLeader
func (i *Instance) LeaderID() int {
	if i.resync.Load() {
		return NoLeader
	}
	return int(i.leader.Load())
}

// State returns the instance's current role
func (i *Instance) State() State {
	if i.resync.Load() {
		return StateFollower
	}
	return State(i.state.Load())
}

// IsAlive reports whether the instance is up
func (i *Instance) IsAlive() bool {
	return i.alive.Load()
}

// SetAlive crashes or revives the instance. A crash discards everything
// queued; a revival makes the instance forget its leader before it handles
// anything else.
func (i *Instance) SetAlive(alive bool) {
	i.aliveMu.Lock()
	defer i.aliveMu.Unlock()

	was := i.alive.Swap(alive)
	switch {
	case was && !alive:
		dropped := i.mailbox.drain()
		i.metrics.SetMailboxDepth(i.id, 0)
		i.logger.Warn("instance crashed", logging.Count(dropped))
	case !was && alive:
		i.resync.Store(true)
		i.logger.Info("instance revived")
	}
}

// OnMessage enqueues msg without blocking. It returns false, and enqueues
// nothing, when the instance is dead or closed.
func (i *Instance) OnMessage(msg Message) bool {
	i.aliveMu.Lock()
	defer i.aliveMu.Unlock()

	if !i.alive.Load() {
		return false
	}
	if !i.mailbox.push(msg) {
		return false
	}
	i.received.Inc()
	return true
}

// Received returns the number of messages ever appended to the mailbox
func (i *Instance) Received() int64 {
	return i.received.Load()
}

// Pending returns the number of queued messages
func (i *Instance) Pending() int {
	return i.mailbox.len()
}

// Settled reports whether nothing queued or being handled could move the
// instance off leader. Heartbeat traffic does not count.
func (i *Instance) Settled(leader int) bool {
	return i.mailbox.settledOn(leader)
}

// Close closes the mailbox; Run returns once it is drained
func (i *Instance) Close() {
	i.mailbox.close()
}

// Run is the control loop. It returns nil on cooperative shutdown.
func (i *Instance) Run(ctx context.Context) error {
	if i.heartbeatInterval > 0 {
		go i.tick(ctx)
	}

	i.logger.Debug("control loop started", logging.Algorithm(string(i.strategy.Algorithm())))
	defer i.logger.Debug("control loop stopped")

	for {
		msg, ok := i.mailbox.pop(ctx)
		if !ok {
			return nil
		}
		if err := i.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (i *Instance) handle(ctx context.Context, msg Message) error {
	defer i.mailbox.done()

	if !i.IsAlive() {
		return nil
	}
	if i.resync.Load() {
		i.forgetLeader()
	}

	depth := i.mailbox.len()
	i.metrics.SetMailboxDepth(i.id, depth)
	if i.warnDepth > 0 && depth > i.warnDepth {
		i.logger.Warn("mailbox backlog", logging.Count(depth))
	}

	err := i.strategy.Handle(ctx, i, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoAliveInstance):
		if i.election != nil {
			i.election.EndError(err)
			i.election = nil
		} else {
			i.logger.Error("no alive instance to elect", logging.Kind(msg.Kind.String()), logging.Error(err))
		}
		i.metrics.RecordElection(string(i.strategy.Algorithm()), "fatal")
		i.publish(pubsub.Event{Topic: pubsub.TopicFatal, Detail: err.Error()})
		if i.stopOnFatal {
			return fmt.Errorf("instance %d: %w", i.id, err)
		}
		return nil
	case errors.Is(err, ErrUnknownKind):
		i.logger.Error("unhandled message kind", logging.Kind(msg.Kind.String()), logging.Error(err))
		return fmt.Errorf("instance %d: %w", i.id, err)
	default:
		i.logger.Error("message handling failed", logging.Kind(msg.Kind.String()), logging.Error(err))
		return nil
	}
}

// tick self-triggers heartbeat checks, or leader re-announcements when leading
func (i *Instance) tick(ctx context.Context) {
	ticker := time.NewTicker(i.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !i.IsAlive() {
				continue
			}
			if i.State() == StateLeader {
				i.OnMessage(Signal(KindLeaderInvoke).WithSender(i.id))
			} else {
				i.OnMessage(Signal(KindHeartbeatInvoke).WithSender(i.id))
			}
		}
	}
}

// forgetLeader applies a pending revival reset. resync is cleared last so
// observers never see the pre-crash leader.
func (i *Instance) forgetLeader() {
	i.leader.Store(NoLeader)
	i.state.Store(int32(StateFollower))
	i.resync.Store(false)
	i.election = nil
	i.metrics.SetLeader(i.id, NoLeader, false)
	i.metrics.SetRole(i.id, StateFollower.String())
}

// send asks the router to deliver msg to another instance, or to self
func (i *Instance) send(to int, msg Message) bool {
	return i.router.Deliver(i.id, to, msg)
}

func (i *Instance) setLeader(leader int, round string) {
	prev := int(i.leader.Swap(int64(leader)))
	if prev == leader {
		return
	}

	i.logger.Info("leader changed",
		logging.LeaderID(leader),
		logging.Int("previous_leader_id", prev),
		logging.Round(round),
	)
	i.metrics.SetLeader(i.id, leader, true)
	i.publish(pubsub.Event{
		Topic:    pubsub.TopicLeader,
		LeaderID: leader,
		Previous: prev,
		Round:    round,
	})
}

func (i *Instance) setState(s State) {
	prev := State(i.state.Swap(int32(s)))
	if prev == s {
		return
	}

	alg := string(i.strategy.Algorithm())
	if s == StateElecting {
		i.election = logging.StartTimer(i.logger, "election finished", logging.Algorithm(alg))
		i.metrics.RecordElection(alg, "started")
	} else if prev == StateElecting && i.election != nil {
		i.metrics.ObserveElection(alg, i.election.End(logging.State(s.String()), logging.LeaderID(i.LeaderID())))
		i.election = nil
	}

	i.logger.Debug("state changed", logging.State(s.String()), logging.String("previous_state", prev.String()))
	i.metrics.SetRole(i.id, s.String())
	i.publish(pubsub.Event{Topic: pubsub.TopicState, State: s.String()})
}

// becomeLeader records a won election
func (i *Instance) becomeLeader(round string) {
	if i.LeaderID() != i.id || i.State() != StateLeader {
		i.metrics.RecordElection(string(i.strategy.Algorithm()), "won")
		i.logger.Info("won election", logging.Round(round))
	}
	i.setLeader(i.id, round)
	i.setState(StateLeader)
}

// follow accepts leader as this instance's leader
func (i *Instance) follow(leader int, round string) {
	i.setLeader(leader, round)
	if leader == i.id {
		i.setState(StateLeader)
	} else {
		i.setState(StateFollower)
	}
}

func (i *Instance) publish(ev pubsub.Event) {
	if i.events == nil {
		return
	}
	ev.InstanceID = i.id
	if ev.Topic != pubsub.TopicLeader {
		ev.LeaderID = i.LeaderID()
	}
	ev.At = time.Now()
	i.events.Publish(ev)
}
