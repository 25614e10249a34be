package election

import (
	"fmt"
	"strings"
)

// NoLeader is the leader id of an instance that does not know its leader
const NoLeader = -1

// NoSender marks messages injected by a driver rather than an instance
const NoSender = -1

// Kind tags a message so an instance can dispatch on it.
// The *Invoke kinds are local triggers; the others travel between instances.
type Kind int

const (
	KindHeartbeat Kind = iota + 1
	KindHeartbeatInvoke
	KindElection
	KindElectionInvoke
	KindLeader
	KindLeaderInvoke
)

var kindNames = map[Kind]string{
	KindHeartbeat:       "HEARTBEAT",
	KindHeartbeatInvoke: "HEARTBEAT_INVOKE",
	KindElection:        "ELECTION",
	KindElectionInvoke:  "ELECTION_INVOKE",
	KindLeader:          "LEADER",
	KindLeaderInvoke:    "LEADER_INVOKE",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsInvoke reports whether k is a local trigger
func (k Kind) IsInvoke() bool {
	return k == KindHeartbeatInvoke || k == KindElectionInvoke || k == KindLeaderInvoke
}

// ParseKind parses a kind name, case-insensitively
func ParseKind(s string) (Kind, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == upper {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State represents an instance's role in the election
type State int32

const (
	StateFollower State = iota
	StateElecting
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateElecting:
		return "electing"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Algorithm selects the election strategy used by every instance in a cluster
type Algorithm string

const (
	AlgorithmBully Algorithm = "bully"
	AlgorithmRing  Algorithm = "ring"
)

// ParseAlgorithm parses an algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case AlgorithmBully:
		return AlgorithmBully, nil
	case AlgorithmRing:
		return AlgorithmRing, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAlgorithm, s)
	}
}
