// Package pubsub fans leadership events out to observers of an election
// cluster. Publishing never blocks an instance's control loop: a slow
// subscriber loses events instead of stalling the protocol.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Topics published by election instances
const (
	// TopicLeader carries every leader change seen by any instance
	TopicLeader = "leader"
	// TopicState carries role transitions (follower, electing, leader)
	TopicState = "state"
	// TopicFatal carries "no alive instance" conditions
	TopicFatal = "fatal"
)

// ErrShutdown is returned when subscribing to a bus that has been shut down
var ErrShutdown = errors.New("pubsub: bus is shut down")

// Event describes one observable change on one instance
type Event struct {
	Topic      string    `json:"topic"`
	InstanceID int       `json:"instance_id"`
	LeaderID   int       `json:"leader_id"`
	Previous   int       `json:"previous_leader_id"`
	State      string    `json:"state,omitempty"`
	Round      string    `json:"round,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// PubSub provides topic-based fan-out of Events
type PubSub struct {
	subscribers map[string]map[*Subscription]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	isShutdown  atomic.Bool
	bufferSize  int
	dropped     atomic.Int64
}

// Subscription represents a subscription to a topic
type Subscription struct {
	topic     string
	channel   chan Event
	ps        *PubSub
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPubSub creates a bus whose subscriptions buffer up to bufferSize events
func NewPubSub(bufferSize int) *PubSub {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &PubSub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		shutdown:    make(chan struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription that ends when ctx is cancelled
func (ps *PubSub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if ps.isShutdown.Load() {
		return nil, ErrShutdown
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:   topic,
		channel: make(chan Event, ps.bufferSize),
		ps:      ps,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription]struct{})
	}
	ps.subscribers[topic][sub] = struct{}{}
	ps.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
			sub.close()
		}
	}()

	return sub, nil
}

// Publish delivers ev to every subscriber of ev.Topic. Full subscriber
// buffers are skipped and counted in Dropped.
func (ps *PubSub) Publish(ev Event) {
	if ps.isShutdown.Load() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	// Sending happens under the read lock so a concurrent Shutdown cannot
	// close a channel mid-send.
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for sub := range ps.subscribers[ev.Topic] {
		select {
		case sub.channel <- ev:
		default:
			ps.dropped.Inc()
		}
	}
}

// Dropped returns how many events were skipped because a subscriber was full
func (ps *PubSub) Dropped() int64 {
	return ps.dropped.Load()
}

// GetSubscriberCount returns the number of subscribers for a topic
func (ps *PubSub) GetSubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.subscribers[topic])
}

// Shutdown closes all subscriptions. It is safe to call more than once.
func (ps *PubSub) Shutdown() {
	if !ps.isShutdown.CompareAndSwap(false, true) {
		return
	}
	close(ps.shutdown)

	ps.mu.Lock()
	for topic, subs := range ps.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	ps.mu.Unlock()
}

// Channel returns the subscription's event channel. It is closed on
// Unsubscribe or Shutdown.
func (s *Subscription) Channel() <-chan Event {
	return s.channel
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	defer s.ps.mu.Unlock()

	if subs := s.ps.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.ps.subscribers, s.topic)
		}
	}

	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
