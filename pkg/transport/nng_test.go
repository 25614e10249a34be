//go:build nng
// +build nng

package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testNNGConfig(name string) NNGConfig {
	cfg := DefaultNNGConfig()
	stamp := time.Now().UnixNano()
	cfg.AddrFormat = fmt.Sprintf("inproc://%s-%d/%%d", name, stamp)
	cfg.ProbeAddrFormat = fmt.Sprintf("inproc://%s-%d/probe/%%d", name, stamp)
	return cfg
}

// TestNNGCarrierDeliversFrames tests round-tripping frames over inproc sockets
func TestNNGCarrierDeliversFrames(t *testing.T) {
	received := make(chan Frame, 4)
	carrier, err := NewNNGCarrierFactory(testNNGConfig("nng-deliver"))(NewLink(LinkConfig{}), Hooks{
		Deliver: func(f Frame) { received <- f },
	})
	require.NoError(t, err)
	defer carrier.Close()

	require.NoError(t, carrier.Attach(1))
	require.NoError(t, carrier.Attach(2))

	sent := Frame{From: 1, To: 2, Kind: "ELECTION", Content: "1", Round: "r-1"}
	require.NoError(t, carrier.Carry(sent))

	select {
	case got := <-received:
		require.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

// TestNNGCarrierRespectsPartitions tests that cut links are refused
func TestNNGCarrierRespectsPartitions(t *testing.T) {
	link := NewLink(LinkConfig{})
	link.Partition(1, 2)

	carrier, err := NewNNGCarrierFactory(testNNGConfig("nng-part"))(link, Hooks{Deliver: func(Frame) {}})
	require.NoError(t, err)
	defer carrier.Close()

	require.NoError(t, carrier.Attach(2))
	require.ErrorIs(t, carrier.Carry(Frame{From: 1, To: 2, Kind: "HEARTBEAT"}), ErrUnreachable)
	require.ErrorIs(t, carrier.Carry(Frame{From: 2, To: 3, Kind: "HEARTBEAT"}), ErrNotAttached)
}

// TestNNGCarrierReportsDelayedFramesOnClose tests that a delayed frame
// outliving the carrier reaches the drop hook
func TestNNGCarrierReportsDelayedFramesOnClose(t *testing.T) {
	dropped := make(chan Frame, 1)
	link := NewLink(LinkConfig{Latency: 30 * time.Millisecond})
	carrier, err := NewNNGCarrierFactory(testNNGConfig("nng-drop"))(link, Hooks{
		Deliver: func(Frame) { t.Error("frame delivered after close") },
		Drop:    func(f Frame, err error) { dropped <- f },
	})
	require.NoError(t, err)

	require.NoError(t, carrier.Attach(2))
	sent := Frame{From: 1, To: 2, Kind: "LEADER", Content: "2"}
	require.NoError(t, carrier.Carry(sent))
	require.NoError(t, carrier.Close())

	select {
	case got := <-dropped:
		require.Equal(t, sent, got)
	case <-time.After(time.Second):
		t.Fatal("delayed frame was neither delivered nor dropped")
	}
}

// TestNNGCarrierLivenessReplies tests remote liveness answers
func TestNNGCarrierLivenessReplies(t *testing.T) {
	var alive atomic.Bool
	alive.Store(true)

	carrier, err := NewNNGCarrierFactory(testNNGConfig("nng-live"))(NewLink(LinkConfig{}), Hooks{
		Deliver: func(Frame) {},
		Alive:   func(id int) bool { return id == 2 && alive.Load() },
	})
	require.NoError(t, err)
	defer carrier.Close()
	require.NoError(t, carrier.Attach(2))

	prober := carrier.(Prober)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := prober.Probe(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	alive.Store(false)
	ok, err = prober.Probe(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = prober.Probe(ctx, 9)
	require.Error(t, err, "no replier is attached for 9")
}
