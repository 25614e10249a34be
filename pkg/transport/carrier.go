package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Transport errors
var (
	ErrUnreachable    = errors.New("transport: destination unreachable")
	ErrClosed         = errors.New("transport: carrier closed")
	ErrNotAttached    = errors.New("transport: destination not attached")
	ErrMalformedFrame = errors.New("transport: malformed frame")
)

// Handler receives frames on the destination side
type Handler func(Frame)

// Hooks connect a carrier to the instances it serves
type Hooks struct {
	// Deliver receives frames on the destination side
	Deliver Handler
	// Drop is told about every frame Carry accepted but could not deliver
	Drop func(f Frame, err error)
	// Alive answers liveness probes for an attached id
	Alive func(id int) bool
}

func (h Hooks) drop(f Frame, err error) {
	if h.Drop != nil {
		h.Drop(f, err)
	}
}

// Prober is implemented by carriers that ask the destination itself
// whether it is alive
type Prober interface {
	Probe(ctx context.Context, target int) (bool, error)
}

// Carrier moves frames between instances. Carry must not block the caller
// for longer than a single enqueue: delays are applied asynchronously.
// A frame Carry accepts is handed to exactly one of Hooks.Deliver or
// Hooks.Drop.
type Carrier interface {
	// Attach prepares the carrier to deliver frames addressed to id
	Attach(id int) error
	// Carry sends a frame; ErrUnreachable means the link is partitioned
	Carry(f Frame) error
	Close() error
}

// CarrierFactory builds a carrier bound to a link and the manager's hooks
type CarrierFactory func(link *Link, hooks Hooks) (Carrier, error)

// LocalCarrier delivers frames in-process, honouring the link model
type LocalCarrier struct {
	link   *Link
	hooks  Hooks
	closed atomic.Bool

	mu     sync.Mutex
	timers map[*time.Timer]Frame
}

// NewLocalCarrier creates an in-process carrier
func NewLocalCarrier(link *Link, hooks Hooks) (Carrier, error) {
	if hooks.Deliver == nil {
		return nil, errors.New("transport: carrier needs a deliver hook")
	}
	return &LocalCarrier{
		link:   link,
		hooks:  hooks,
		timers: make(map[*time.Timer]Frame),
	}, nil
}

// Attach is a no-op: every id is addressable in-process
func (c *LocalCarrier) Attach(id int) error {
	return nil
}

// Carry delivers synchronously when the link has no delay, otherwise after it
func (c *LocalCarrier) Carry(f Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.link.Reachable(f.From, f.To) {
		return ErrUnreachable
	}

	delay := c.link.Delay(f.From, f.To)
	if delay <= 0 {
		c.hooks.Deliver(f)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timers == nil {
		return ErrClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, timer)
		c.mu.Unlock()

		if c.closed.Load() {
			c.hooks.drop(f, ErrClosed)
			return
		}
		c.hooks.Deliver(f)
	})
	c.timers[timer] = f
	return nil
}

// Close stops pending delayed deliveries and reports them as dropped
func (c *LocalCarrier) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	var stopped []Frame
	for timer, f := range c.timers {
		// a timer that already fired reports its own frame
		if timer.Stop() {
			stopped = append(stopped, f)
		}
	}
	c.timers = nil
	c.mu.Unlock()

	for _, f := range stopped {
		c.hooks.drop(f, ErrClosed)
	}
	return nil
}

// Pending returns the number of frames waiting out their link delay
func (c *LocalCarrier) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
