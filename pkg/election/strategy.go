package election

import (
	"context"
	"fmt"
)

// Strategy is an election algorithm's reaction to messages. Each instance
// owns its own Strategy value, and Handle is only called from that
// instance's control loop.
type Strategy interface {
	Algorithm() Algorithm
	Handle(ctx context.Context, inst *Instance, msg Message) error
}

// NewStrategy creates a fresh strategy for one instance
func NewStrategy(alg Algorithm, seenRounds int) (Strategy, error) {
	switch alg {
	case AlgorithmBully:
		return NewBully(), nil
	case AlgorithmRing:
		return NewRing(seenRounds), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, alg)
	}
}

func unknownKind(msg Message) error {
	return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
}
