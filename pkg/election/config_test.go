package election

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDefaultConfig tests that defaults plus ids validate
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Algorithm != AlgorithmBully {
		t.Errorf("Expected bully, got %s", cfg.Algorithm)
	}
	if cfg.InitialLeader != NoLeader {
		t.Errorf("Expected NoLeader, got %d", cfg.InitialLeader)
	}
	if cfg.ProbeTimeout >= cfg.HeartbeatInterval {
		t.Error("Default probe timeout should be shorter than the heartbeat interval")
	}

	if err := cfg.Validate(); !errors.Is(err, ErrNoInstances) {
		t.Errorf("Expected ErrNoInstances, got %v", err)
	}

	cfg.IDs = []int{1, 2, 3}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

// TestConfigValidate tests each validation failure
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"negative id", func(c *Config) { c.IDs = []int{1, -2} }, ErrInvalidID},
		{"duplicate id", func(c *Config) { c.IDs = []int{1, 2, 1} }, ErrDuplicateInstance},
		{"bad algorithm", func(c *Config) { c.Algorithm = "paxos" }, ErrInvalidAlgorithm},
		{"unknown leader", func(c *Config) { c.InitialLeader = 9 }, ErrUnknownInitialLeader},
		{"probe too slow", func(c *Config) { c.ProbeTimeout = c.HeartbeatInterval }, ErrProbeTimeoutTooLarge},
		{"zero probe timeout", func(c *Config) { c.HeartbeatInterval = 0; c.ProbeTimeout = 0 }, ErrInvalidConfig},
		{"zero seen rounds", func(c *Config) { c.SeenRounds = 0 }, ErrInvalidConfig},
		{"negative latency", func(c *Config) { c.Link.Latency = -time.Millisecond }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.IDs = []int{1, 2, 3}
			tt.modify(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestConfigTimerDisabled tests that a zero heartbeat interval skips the probe bound check
func TestConfigTimerDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IDs = []int{0}
	cfg.HeartbeatInterval = 0
	cfg.InitialLeader = 0

	require.NoError(t, cfg.Validate())
}

// TestParseConfig tests YAML decoding over defaults
func TestParseConfig(t *testing.T) {
	data := []byte(`
algorithm: ring
ids: [5, 1, 3]
initial_leader: 5
heartbeat_interval: 250ms
probe_timeout: 40ms
link:
  latency: 2ms
  jitter: 1ms
  seed: 42
`)

	cfg, err := ParseConfig(data)
	require.NoError(t, err)
	require.Equal(t, AlgorithmRing, cfg.Algorithm)
	require.Equal(t, []int{5, 1, 3}, cfg.IDs)
	require.Equal(t, 5, cfg.InitialLeader)
	require.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
	require.Equal(t, 40*time.Millisecond, cfg.ProbeTimeout)
	require.Equal(t, 2*time.Millisecond, cfg.Link.Latency)
	require.Equal(t, int64(42), cfg.Link.Seed)

	// untouched fields keep their defaults
	require.Equal(t, DefaultConfig().SeenRounds, cfg.SeenRounds)
	require.Equal(t, DefaultConfig().MailboxWarnDepth, cfg.MailboxWarnDepth)
}

// TestParseConfigInvalid tests that decoded configs are validated
func TestParseConfigInvalid(t *testing.T) {
	_, err := ParseConfig([]byte("algorithm: bully\nids: [1, 1]\n"))
	require.ErrorIs(t, err, ErrDuplicateInstance)

	_, err = ParseConfig([]byte("ids: [1, 2\n"))
	require.Error(t, err)
}

// TestLoadConfig tests reading a config file from disk
func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "election.yaml")
	require.NoError(t, os.WriteFile(path, []byte("algorithm: bully\nids: [1, 2, 3]\ninitial_leader: 3\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.InitialLeader)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
