package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dd0wney/cluso-election/pkg/election"
	"github.com/dd0wney/cluso-election/pkg/logging"
)

// scenario drives one cluster from a fixed starting point
type scenario struct {
	name      string
	algorithm election.Algorithm
	leader    int
	ids       []int
	run       func(c *election.Cluster) error
}

var scenarios = map[string]scenario{
	"A": {
		name:      "bully: believed leader and top id dead",
		algorithm: election.AlgorithmBully,
		leader:    1,
		ids:       []int{1, 2, 3, 4, 5},
		run: func(c *election.Cluster) error {
			if err := c.Kill(5); err != nil {
				return err
			}
			if err := c.Kill(1); err != nil {
				return err
			}
			return c.TriggerHeartbeat(3)
		},
	},
	"B": {
		name:      "ring: leader dead",
		algorithm: election.AlgorithmRing,
		leader:    1,
		ids:       []int{1, 2, 3, 4, 5},
		run: func(c *election.Cluster) error {
			if err := c.Kill(1); err != nil {
				return err
			}
			return c.TriggerHeartbeat(2)
		},
	},
	"C": {
		name:      "whole cluster dead",
		algorithm: election.AlgorithmBully,
		leader:    1,
		ids:       []int{1, 2, 3},
		run: func(c *election.Cluster) error {
			for _, id := range []int{1, 2, 3} {
				if err := c.Kill(id); err != nil {
					return err
				}
			}
			return c.TriggerHeartbeat(2)
		},
	},
}

func main() {
	which := flag.String("scenario", "all", "Scenario to run: A, B, C or all")
	latency := flag.Duration("latency", 0, "Per-hop link latency")
	jitter := flag.Duration("jitter", 0, "Per-hop random jitter")
	timeout := flag.Duration("timeout", 5*time.Second, "Convergence timeout")
	verbose := flag.Bool("v", false, "Log instance activity to stderr")
	flag.Parse()

	var logger logging.Logger = logging.NewNopLogger()
	if *verbose {
		logger = logging.DefaultLogger()
		logger.SetLevel(logging.DebugLevel)
	}

	names := []string{"A", "B", "C"}
	if *which != "all" {
		if _, ok := scenarios[*which]; !ok {
			log.Fatalf("Unknown scenario %q", *which)
		}
		names = []string{*which}
	}

	fmt.Printf("🗳️  Election Scenarios\n")
	fmt.Printf("=====================\n\n")

	failed := false
	for _, name := range names {
		sc := scenarios[name]
		fmt.Printf("▶ Scenario %s (%s)\n", name, sc.name)

		start := time.Now()
		leader, err := runScenario(sc, *latency, *jitter, *timeout, logger)
		switch {
		case errors.Is(err, election.ErrNoAliveInstance):
			fmt.Printf("  ⚠️  no alive instance: %v\n\n", err)
		case err != nil:
			fmt.Printf("  ❌ failed: %v\n\n", err)
			failed = true
		default:
			fmt.Printf("  ✅ converged on leader %d in %s\n\n", leader, time.Since(start).Round(time.Millisecond))
		}
	}

	if failed {
		os.Exit(1)
	}
}

func runScenario(sc scenario, latency, jitter, timeout time.Duration, logger logging.Logger) (int, error) {
	cfg := election.DefaultConfig()
	cfg.Algorithm = sc.algorithm
	cfg.IDs = sc.ids
	cfg.InitialLeader = sc.leader
	cfg.HeartbeatInterval = 0
	cfg.ProbeTimeout = 2*(latency+jitter) + 10*time.Millisecond
	cfg.Link.Latency = latency
	cfg.Link.Jitter = jitter
	cfg.Link.Seed = time.Now().UnixNano()

	cluster, err := election.NewCluster(cfg, election.WithLogger(logger))
	if err != nil {
		return election.NoLeader, err
	}
	if err := cluster.Start(context.Background()); err != nil {
		return election.NoLeader, err
	}
	defer cluster.Stop()

	if err := sc.run(cluster); err != nil {
		return election.NoLeader, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	leader, err := cluster.WaitForConvergence(ctx)
	if err != nil {
		return election.NoLeader, err
	}

	for _, st := range cluster.Snapshot() {
		fmt.Printf("  instance %d: alive=%-5t leader=%-2d state=%s\n", st.ID, st.Alive, st.LeaderID, st.State)
	}
	return leader, nil
}
