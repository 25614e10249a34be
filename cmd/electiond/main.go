package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/cluso-election/pkg/election"
	"github.com/dd0wney/cluso-election/pkg/logging"
	"github.com/dd0wney/cluso-election/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (flags below are ignored when set)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	algorithm := flag.String("algorithm", "bully", "Election algorithm: bully or ring")
	ids := flag.String("ids", "1,2,3,4,5", "Comma-separated instance ids")
	leader := flag.Int("leader", election.NoLeader, "Initial leader id (-1 for none)")
	interval := flag.Duration("heartbeat", 500*time.Millisecond, "Heartbeat interval (0 disables the timer)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (default from ELECTION_LOG_LEVEL)")
	shutdownTimeout := flag.Duration("shutdown-timeout", server.DefaultShutdownTimeout, "How long open requests may drain on shutdown")
	flag.Parse()

	if *logLevel != "" {
		logging.SetDefaultLogger(logging.NewJSONLogger(os.Stderr, logging.ParseLevel(*logLevel)))
	}
	logger := logging.DefaultLogger()

	cfg, err := loadConfig(*configPath, *algorithm, *ids, *leader, *interval)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("🗳️  Cluso Election Daemon\n")
	fmt.Printf("========================\n\n")

	cluster, err := election.NewCluster(cfg,
		election.WithLogger(logger),
		election.WithCarrierFactory(carrierFactory()),
	)
	if err != nil {
		log.Fatalf("Failed to create cluster: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cluster.Start(ctx); err != nil {
		log.Fatalf("Failed to start cluster: %v", err)
	}

	srv := newServer(cluster, logger)
	gs := server.NewGracefulServer(*addr, srv.routes(), logger)
	gs.SetShutdownTimeout(*shutdownTimeout)
	srv.attach(gs)
	gs.OnShutdown(cluster.Stop)
	if *configPath != "" {
		gs.SetConfigReloadFunc(reloadLink(*configPath, cluster))
	}

	fmt.Printf("✅ %s cluster started with ids %v\n", cfg.Algorithm, cfg.IDs)
	fmt.Printf("  Cluster:   GET  http://localhost%s/cluster\n", *addr)
	fmt.Printf("  Control:   POST http://localhost%s/instances/{id}/{kill|revive|heartbeat|election}\n", *addr)
	fmt.Printf("  Health:    GET  http://localhost%s/health\n", *addr)
	fmt.Printf("  Metrics:   GET  http://localhost%s/metrics\n\n", *addr)

	if err := gs.Run(ctx); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
	fmt.Printf("👋 Shut down cleanly\n")
}

// reloadLink re-reads the config file and applies its link delays.
// Membership and algorithm are fixed for the life of the process.
func reloadLink(path string, cluster *election.Cluster) server.ConfigReloadFunc {
	return func() error {
		cfg, err := election.LoadConfig(path)
		if err != nil {
			return err
		}
		cluster.Manager().Link().SetDelay(cfg.Link.Latency, cfg.Link.Jitter)
		return nil
	}
}

func loadConfig(path, algorithm, ids string, leader int, interval time.Duration) (election.Config, error) {
	if path != "" {
		return election.LoadConfig(path)
	}

	cfg := election.DefaultConfig()
	alg, err := election.ParseAlgorithm(algorithm)
	if err != nil {
		return cfg, err
	}
	cfg.Algorithm = alg
	cfg.InitialLeader = leader
	cfg.HeartbeatInterval = interval
	if interval > 0 && cfg.ProbeTimeout >= interval {
		cfg.ProbeTimeout = interval / 2
	}

	parsed, err := parseIDs(ids)
	if err != nil {
		return cfg, err
	}
	cfg.IDs = parsed
	return cfg, cfg.Validate()
}

func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid instance id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
