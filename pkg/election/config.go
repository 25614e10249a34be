package election

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dd0wney/cluso-election/pkg/transport"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config defines a cluster of election instances
type Config struct {
	Algorithm     Algorithm `yaml:"algorithm" validate:"required,oneof=bully ring"`
	IDs           []int     `yaml:"ids" validate:"required,min=1,unique,dive,gte=0"`
	InitialLeader int       `yaml:"initial_leader" validate:"gte=-1"` // NoLeader for none

	// Timing
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gte=0"` // Self-trigger period, 0 disables (default: 100ms)
	ProbeTimeout      time.Duration `yaml:"probe_timeout" validate:"gt=0"`       // Bound on a liveness probe (default: 50ms)

	// Limits
	MailboxWarnDepth int  `yaml:"mailbox_warn_depth" validate:"gte=0"` // Warn when a mailbox grows past this, 0 disables
	SeenRounds       int  `yaml:"seen_rounds" validate:"gte=1"`        // Ring LEADER rounds remembered per instance
	StopOnFatal      bool `yaml:"stop_on_fatal"`                       // Stop an instance's loop on ErrNoAliveInstance

	Link transport.LinkConfig `yaml:"link"`
}

// DefaultConfig returns a safe default configuration. IDs must still be set.
func DefaultConfig() Config {
	return Config{
		Algorithm:         AlgorithmBully,
		InitialLeader:     NoLeader,
		HeartbeatInterval: 100 * time.Millisecond,
		ProbeTimeout:      50 * time.Millisecond,
		MailboxWarnDepth:  1024,
		SeenRounds:        64,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if len(c.IDs) == 0 {
		return ErrNoInstances
	}

	seen := make(map[int]struct{}, len(c.IDs))
	for _, id := range c.IDs {
		if id < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidID, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateInstance, id)
		}
		seen[id] = struct{}{}
	}

	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if c.InitialLeader != NoLeader {
		if _, ok := seen[c.InitialLeader]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownInitialLeader, c.InitialLeader)
		}
	}
	if c.HeartbeatInterval > 0 && c.ProbeTimeout >= c.HeartbeatInterval {
		return ErrProbeTimeoutTooLarge
	}

	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// LoadConfig reads a YAML config file over the defaults and validates it
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
