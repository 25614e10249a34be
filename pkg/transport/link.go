package transport

import (
	"math/rand"
	"sync"
	"time"
)

// LinkConfig configures simulated network conditions between instances
type LinkConfig struct {
	Latency time.Duration `yaml:"latency" validate:"gte=0"` // Base one-way delay (default: 0, synchronous delivery)
	Jitter  time.Duration `yaml:"jitter" validate:"gte=0"`  // Uniform extra delay in [0, Jitter)
	Seed    int64         `yaml:"seed"`                     // Jitter PRNG seed, for reproducible runs
}

type linkPair struct {
	lo, hi int
}

func newLinkPair(a, b int) linkPair {
	if a > b {
		a, b = b, a
	}
	return linkPair{lo: a, hi: b}
}

// Link models the network between instances. Partitions are symmetric.
//
// Concurrent Safety:
// 1. Partition table and delays guarded by RWMutex (read on every send)
// 2. Jitter PRNG guarded by its own mutex
type Link struct {
	cfg LinkConfig

	mu  sync.RWMutex
	cut map[linkPair]struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewLink creates a link model
func NewLink(cfg LinkConfig) *Link {
	return &Link{
		cfg: cfg,
		cut: make(map[linkPair]struct{}),
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Config returns the link configuration
func (l *Link) Config() LinkConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// SetDelay changes latency and jitter for frames sent from now on.
// Frames already in flight keep their delay.
func (l *Link) SetDelay(latency, jitter time.Duration) {
	if latency < 0 {
		latency = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Latency = latency
	l.cfg.Jitter = jitter
}

// Partition cuts the link between a and b in both directions
func (l *Link) Partition(a, b int) {
	if a == b {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cut[newLinkPair(a, b)] = struct{}{}
}

// PartitionGroups cuts every link between a member of left and a member of right
func (l *Link) PartitionGroups(left, right []int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, a := range left {
		for _, b := range right {
			if a != b {
				l.cut[newLinkPair(a, b)] = struct{}{}
			}
		}
	}
}

// Heal restores the link between a and b
func (l *Link) Heal(a, b int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cut, newLinkPair(a, b))
}

// HealAll removes every partition
func (l *Link) HealAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cut = make(map[linkPair]struct{})
}

// Reachable reports whether from can currently reach to. Negative ids are
// external callers (drivers) and always reach every instance.
func (l *Link) Reachable(from, to int) bool {
	if from == to || from < 0 || to < 0 {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, cut := l.cut[newLinkPair(from, to)]
	return !cut
}

// Delay returns the one-way delay for a message from -> to.
// Self-delivery is always immediate.
func (l *Link) Delay(from, to int) time.Duration {
	if from == to {
		return 0
	}
	l.mu.RLock()
	d, jitter := l.cfg.Latency, l.cfg.Jitter
	l.mu.RUnlock()

	if jitter > 0 {
		l.rngMu.Lock()
		d += time.Duration(l.rng.Int63n(int64(jitter)))
		l.rngMu.Unlock()
	}
	return d
}
