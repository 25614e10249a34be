//go:build nng
// +build nng

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.uber.org/atomic"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// Liveness replies on the probe sockets
const (
	probeDead  byte = 0
	probeAlive byte = 1
)

// NNGConfig configures the NNG carrier
type NNGConfig struct {
	// AddrFormat is formatted with the instance id to produce its listen address
	AddrFormat string `yaml:"addr_format"`
	// ProbeAddrFormat is formatted with the instance id for its liveness replier
	ProbeAddrFormat string        `yaml:"probe_addr_format"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
}

// DefaultNNGConfig returns in-process NNG addresses
func DefaultNNGConfig() NNGConfig {
	return NNGConfig{
		AddrFormat:      "inproc://cluso-election/%d",
		ProbeAddrFormat: "inproc://cluso-election/probe/%d",
		SendTimeout:     100 * time.Millisecond,
	}
}

type nngEndpoint struct {
	pull  mangos.Socket
	push  mangos.Socket
	probe mangos.Socket
}

func (ep *nngEndpoint) close() {
	ep.push.Close()
	ep.pull.Close()
	ep.probe.Close()
}

// NNGCarrier delivers frames over one PUSH/PULL socket pair per instance
// and answers liveness probes over one REQ/REP pair per instance
type NNGCarrier struct {
	cfg    NNGConfig
	link   *Link
	hooks  Hooks
	closed atomic.Bool

	mu        sync.RWMutex
	endpoints map[int]*nngEndpoint
	wg        sync.WaitGroup
}

// NewNNGCarrierFactory returns a factory for NNG carriers
func NewNNGCarrierFactory(cfg NNGConfig) CarrierFactory {
	return func(link *Link, hooks Hooks) (Carrier, error) {
		if hooks.Deliver == nil {
			return nil, errors.New("transport: carrier needs a deliver hook")
		}
		return &NNGCarrier{
			cfg:       cfg,
			link:      link,
			hooks:     hooks,
			endpoints: make(map[int]*nngEndpoint),
		}, nil
	}
}

// Attach listens on the instance's addresses and dials a push socket to it
func (c *NNGCarrier) Attach(id int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	addr := fmt.Sprintf(c.cfg.AddrFormat, id)
	probeAddr := fmt.Sprintf(c.cfg.ProbeAddrFormat, id)

	pullSock, err := pull.NewSocket()
	if err != nil {
		return fmt.Errorf("create pull socket for %d: %w", id, err)
	}
	if err := pullSock.Listen(addr); err != nil {
		pullSock.Close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	pushSock, err := push.NewSocket()
	if err != nil {
		pullSock.Close()
		return fmt.Errorf("create push socket for %d: %w", id, err)
	}
	if err := pushSock.SetOption(mangos.OptionSendDeadline, c.cfg.SendTimeout); err != nil {
		pullSock.Close()
		pushSock.Close()
		return err
	}
	if err := pushSock.Dial(addr); err != nil {
		pullSock.Close()
		pushSock.Close()
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	repSock, err := rep.NewSocket()
	if err != nil {
		pullSock.Close()
		pushSock.Close()
		return fmt.Errorf("create rep socket for %d: %w", id, err)
	}
	if err := repSock.Listen(probeAddr); err != nil {
		pullSock.Close()
		pushSock.Close()
		repSock.Close()
		return fmt.Errorf("listen on %s: %w", probeAddr, err)
	}

	c.mu.Lock()
	c.endpoints[id] = &nngEndpoint{pull: pullSock, push: pushSock, probe: repSock}
	c.mu.Unlock()

	c.wg.Add(2)
	go c.receiveLoop(pullSock)
	go c.replyLoop(id, repSock)
	return nil
}

func (c *NNGCarrier) receiveLoop(sock mangos.Socket) {
	defer c.wg.Done()

	for {
		data, err := sock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) || c.closed.Load() {
				return
			}
			continue
		}

		f, err := Decode(data)
		if err != nil {
			continue
		}
		c.hooks.Deliver(f)
	}
}

// replyLoop answers each probe with the instance's current liveness
func (c *NNGCarrier) replyLoop(id int, sock mangos.Socket) {
	defer c.wg.Done()

	for {
		if _, err := sock.Recv(); err != nil {
			if errors.Is(err, mangos.ErrClosed) || c.closed.Load() {
				return
			}
			continue
		}

		reply := probeAlive
		if c.hooks.Alive != nil && !c.hooks.Alive(id) {
			reply = probeDead
		}
		if err := sock.Send([]byte{reply}); err != nil && c.closed.Load() {
			return
		}
	}
}

// Carry encodes the frame and pushes it to the destination's socket
func (c *NNGCarrier) Carry(f Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.link.Reachable(f.From, f.To) {
		return ErrUnreachable
	}

	c.mu.RLock()
	ep, ok := c.endpoints[f.To]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotAttached, f.To)
	}

	data, err := Encode(f)
	if err != nil {
		return err
	}

	delay := c.link.Delay(f.From, f.To)
	if delay <= 0 {
		return ep.push.Send(data)
	}

	time.AfterFunc(delay, func() {
		if c.closed.Load() {
			c.hooks.drop(f, ErrClosed)
			return
		}
		if err := ep.push.Send(data); err != nil {
			c.hooks.drop(f, err)
		}
	})
	return nil
}

// Probe asks target's replier whether it is alive. The request is bounded
// by ctx's deadline, or by the send timeout when ctx has none.
func (c *NNGCarrier) Probe(ctx context.Context, target int) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	timeout := c.cfg.SendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return false, context.DeadlineExceeded
	}

	sock, err := req.NewSocket()
	if err != nil {
		return false, fmt.Errorf("create req socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetOption(mangos.OptionSendDeadline, timeout); err != nil {
		return false, err
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return false, err
	}
	addr := fmt.Sprintf(c.cfg.ProbeAddrFormat, target)
	if err := sock.Dial(addr); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrNotAttached, addr, err)
	}

	if err := sock.Send([]byte{probeAlive}); err != nil {
		return false, err
	}
	reply, err := sock.Recv()
	if err != nil {
		return false, err
	}
	return len(reply) == 1 && reply[0] == probeAlive, nil
}

// Close closes every socket and waits for the loops to exit
func (c *NNGCarrier) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	for _, ep := range c.endpoints {
		ep.close()
	}
	c.endpoints = make(map[int]*nngEndpoint)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

var (
	_ Carrier = (*NNGCarrier)(nil)
	_ Prober  = (*NNGCarrier)(nil)
)
