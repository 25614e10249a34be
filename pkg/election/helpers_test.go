package election

import (
	"context"
	"testing"
	"time"

	"github.com/dd0wney/cluso-election/pkg/metrics"
	"github.com/stretchr/testify/require"
)

// newTestManager registers instances that are not running, so tests can
// drive strategies by hand and inspect mailboxes
func newTestManager(t *testing.T, alg Algorithm, leader int, ids ...int) (*MessageManager, map[int]*Instance) {
	t.Helper()

	reg := metrics.NewRegistry()
	m, err := NewMessageManager(alg, 20*time.Millisecond, WithManagerMetrics(reg))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	instances := make(map[int]*Instance, len(ids))
	for _, id := range ids {
		strategy, err := NewStrategy(alg, 8)
		require.NoError(t, err)
		inst := NewInstance(id, leader, m, strategy, WithInstanceMetrics(reg))
		require.NoError(t, m.Register(inst))
		instances[id] = inst
	}
	return m, instances
}

// queued pops everything waiting in an idle instance's mailbox
func queued(inst *Instance) []Message {
	var out []Message
	for inst.Pending() > 0 {
		msg, ok := inst.mailbox.pop(context.Background())
		inst.mailbox.done()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// handle runs one message through an instance's strategy
func handle(t *testing.T, inst *Instance, msg Message) {
	t.Helper()
	require.NoError(t, inst.strategy.Handle(context.Background(), inst, msg))
}

func testConfig(alg Algorithm, leader int, ids ...int) Config {
	cfg := DefaultConfig()
	cfg.Algorithm = alg
	cfg.IDs = ids
	cfg.InitialLeader = leader
	cfg.HeartbeatInterval = 0
	cfg.ProbeTimeout = 10 * time.Millisecond
	return cfg
}

// startCluster builds and starts a cluster that is stopped at test cleanup
func startCluster(t *testing.T, cfg Config) *Cluster {
	t.Helper()

	c, err := NewCluster(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop() })
	return c
}

func waitForLeader(t *testing.T, c *Cluster) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	leader, err := c.WaitForConvergence(ctx)
	require.NoError(t, err, "snapshot: %+v", c.Snapshot())
	return leader
}

func kinds(msgs []Message) []Kind {
	out := make([]Kind, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Kind
	}
	return out
}
