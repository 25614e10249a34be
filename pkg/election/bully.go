package election

import (
	"context"

	"github.com/dd0wney/cluso-election/pkg/logging"
)

// Bully implements the bully algorithm: the highest alive id always wins.
// Being alive is the answer to an ELECTION; there is no explicit ANSWER kind.
type Bully struct{}

// NewBully creates a bully strategy
func NewBully() *Bully {
	return &Bully{}
}

// Algorithm returns AlgorithmBully
func (b *Bully) Algorithm() Algorithm {
	return AlgorithmBully
}

// Handle dispatches one message
func (b *Bully) Handle(ctx context.Context, inst *Instance, msg Message) error {
	switch msg.Kind {
	case KindHeartbeatInvoke:
		b.checkLeader(ctx, inst)
		return nil
	case KindElectionInvoke:
		return b.elect(inst)
	case KindElection:
		return b.onElection(inst, msg)
	case KindLeader:
		return b.onLeader(inst, msg)
	case KindLeaderInvoke:
		b.announce(inst)
		return nil
	case KindHeartbeat:
		// ring token, nothing to do
		return nil
	default:
		return unknownKind(msg)
	}
}

func (b *Bully) checkLeader(ctx context.Context, inst *Instance) {
	leader := inst.LeaderID()
	if leader == inst.ID() {
		return
	}
	if leader != NoLeader && inst.router.Probe(ctx, inst.ID(), leader) {
		inst.setState(StateFollower)
		return
	}

	inst.logger.Warn("leader unreachable, starting election", logging.LeaderID(leader))
	inst.setState(StateElecting)
	inst.send(inst.ID(), Signal(KindElectionInvoke))
}

// elect sends a candidacy to every alive higher id, or wins outright
func (b *Bully) elect(inst *Instance) error {
	round := NewRound()
	inst.setState(StateElecting)

	delivered, err := inst.router.RouteElection(inst.ID(), Candidacy(KindElection, inst.ID()).WithRound(round))
	if err != nil {
		return err
	}
	if delivered > 0 {
		inst.logger.Debug("candidacy sent to higher instances", logging.Count(delivered), logging.Round(round))
		return nil
	}

	inst.becomeLeader(round)
	inst.router.Broadcast(inst.ID(), Candidacy(KindLeader, inst.ID()).WithRound(round))
	return nil
}

// onElection handles a candidacy from a lower id by starting this
// instance's own election, unless one is already running
func (b *Bully) onElection(inst *Instance, msg Message) error {
	candidate, err := msg.Candidate()
	if err != nil {
		return err
	}
	if candidate >= inst.ID() || inst.State() == StateElecting {
		return nil
	}

	inst.logger.Debug("bullying lower candidate", logging.Candidate(candidate))
	inst.setState(StateElecting)
	inst.send(inst.ID(), Signal(KindElectionInvoke))
	return nil
}

func (b *Bully) onLeader(inst *Instance, msg Message) error {
	leader, err := msg.Candidate()
	if err != nil {
		return err
	}

	inst.follow(leader, msg.Round)

	// A revived higher instance must not accept a lower leader for long
	if leader < inst.ID() {
		inst.setState(StateElecting)
		inst.send(inst.ID(), Signal(KindElectionInvoke))
	}
	return nil
}

// announce re-broadcasts leadership so revived instances re-synchronise
func (b *Bully) announce(inst *Instance) {
	if inst.State() != StateLeader || inst.LeaderID() != inst.ID() {
		return
	}
	inst.router.Broadcast(inst.ID(), Candidacy(KindLeader, inst.ID()).WithRound(NewRound()))
}
