package election

import (
	"context"

	"github.com/dd0wney/cluso-election/pkg/logging"
)

// Ring implements Chang-Roberts ring election over the ascending-id ring of
// alive instances. Each hop compares the candidacy with its own id only.
type Ring struct {
	seen *roundSet
}

// NewRing creates a ring strategy remembering up to seenRounds forwarded
// LEADER announcements
func NewRing(seenRounds int) *Ring {
	return &Ring{seen: newRoundSet(seenRounds)}
}

// Algorithm returns AlgorithmRing
func (r *Ring) Algorithm() Algorithm {
	return AlgorithmRing
}

// Handle dispatches one message
func (r *Ring) Handle(ctx context.Context, inst *Instance, msg Message) error {
	switch msg.Kind {
	case KindHeartbeatInvoke:
		return r.checkLeader(ctx, inst, true)
	case KindHeartbeat:
		return r.checkLeader(ctx, inst, false)
	case KindElectionInvoke:
		return r.startElection(inst)
	case KindElection:
		return r.onElection(inst, msg)
	case KindLeader:
		return r.onLeader(inst, msg)
	case KindLeaderInvoke:
		return r.announce(inst)
	default:
		return unknownKind(msg)
	}
}

// checkLeader probes the leader. When it is alive the token moves one hop
// (only for the local trigger); otherwise an election starts.
func (r *Ring) checkLeader(ctx context.Context, inst *Instance, forward bool) error {
	leader := inst.LeaderID()
	alive := leader == inst.ID() ||
		(leader != NoLeader && inst.router.Probe(ctx, inst.ID(), leader))

	if alive {
		if leader != inst.ID() {
			inst.setState(StateFollower)
		}
		if !forward {
			return nil
		}
		_, err := inst.router.ForwardNext(inst.ID(), Signal(KindHeartbeat))
		return err
	}

	inst.logger.Warn("leader unreachable, starting election", logging.LeaderID(leader))
	return r.startElection(inst)
}

func (r *Ring) startElection(inst *Instance) error {
	round := NewRound()
	inst.setState(StateElecting)
	return r.forwardCandidacy(inst, Candidacy(KindElection, inst.ID()).WithRound(round))
}

// forwardCandidacy passes an ELECTION to the successor. With no other alive
// instance the sender wins at once.
func (r *Ring) forwardCandidacy(inst *Instance, msg Message) error {
	delivered, err := inst.router.RouteElection(inst.ID(), msg)
	if err != nil || delivered > 0 {
		return err
	}

	next, err := inst.router.FindNextAlive(inst.ID())
	if err != nil {
		return err
	}
	if next.ID() == inst.ID() {
		inst.becomeLeader(msg.Round)
	}
	return nil
}

func (r *Ring) onElection(inst *Instance, msg Message) error {
	candidate, err := msg.Candidate()
	if err != nil {
		return err
	}

	switch {
	case candidate == inst.ID():
		// the candidacy lapped the ring
		inst.becomeLeader(msg.Round)
		r.seen.add(msg.Round)
		_, err := inst.router.ForwardNext(inst.ID(), Candidacy(KindLeader, inst.ID()).WithRound(msg.Round))
		return err

	case candidate > inst.ID() && inst.router.IsAlive(candidate):
		inst.setState(StateElecting)
		return r.forwardCandidacy(inst, msg)

	default:
		// lower candidate, or a higher one that died mid-lap: nominate self
		inst.logger.Debug("replacing candidacy", logging.Candidate(candidate), logging.Round(msg.Round))
		inst.setState(StateElecting)
		return r.forwardCandidacy(inst, Candidacy(KindElection, inst.ID()).WithRound(msg.Round))
	}
}

func (r *Ring) onLeader(inst *Instance, msg Message) error {
	leader, err := msg.Candidate()
	if err != nil {
		return err
	}
	if leader == inst.ID() {
		// the announcement lapped the ring
		inst.follow(leader, msg.Round)
		return nil
	}

	inst.follow(leader, msg.Round)
	if r.seen.add(msg.Round) {
		if _, err := inst.router.ForwardNext(inst.ID(), msg); err != nil {
			return err
		}
	}

	// A revived higher instance must not accept a lower leader for long
	if leader < inst.ID() {
		return r.startElection(inst)
	}
	return nil
}

// announce circulates LEADER(self) with a fresh round
func (r *Ring) announce(inst *Instance) error {
	if inst.State() != StateLeader || inst.LeaderID() != inst.ID() {
		return nil
	}
	round := NewRound()
	r.seen.add(round)
	_, err := inst.router.ForwardNext(inst.ID(), Candidacy(KindLeader, inst.ID()).WithRound(round))
	return err
}

// roundSet remembers the most recent rounds, evicting the oldest
type roundSet struct {
	limit int
	order []string
	set   map[string]struct{}
}

func newRoundSet(limit int) *roundSet {
	if limit < 1 {
		limit = 1
	}
	return &roundSet{limit: limit, set: make(map[string]struct{}, limit)}
}

// add returns false if round was already present
func (s *roundSet) add(round string) bool {
	if _, ok := s.set[round]; ok {
		return false
	}
	if len(s.order) == s.limit {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
	s.order = append(s.order, round)
	s.set[round] = struct{}{}
	return true
}
