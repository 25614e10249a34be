package election

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBullyHeartbeatAliveLeader tests that a live leader keeps followers quiet
func TestBullyHeartbeatAliveLeader(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, 5, 1, 2, 3, 4, 5)

	handle(t, insts[3], Signal(KindHeartbeatInvoke))

	require.Equal(t, StateFollower, insts[3].State())
	require.Equal(t, 5, insts[3].LeaderID())
	for _, inst := range insts {
		require.Empty(t, queued(inst), "instance %d", inst.ID())
	}
}

// TestBullyHeartbeatDeadLeader tests failure detection
func TestBullyHeartbeatDeadLeader(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, 5, 1, 2, 3, 4, 5)
	insts[5].SetAlive(false)

	handle(t, insts[3], Signal(KindHeartbeatInvoke))

	require.Equal(t, StateElecting, insts[3].State())
	msgs := queued(insts[3])
	require.Equal(t, []Kind{KindElectionInvoke}, kinds(msgs))
	require.Equal(t, 3, msgs[0].Sender)
}

// TestBullyHeartbeatNoLeader tests that an unknown leader counts as dead
func TestBullyHeartbeatNoLeader(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, NoLeader, 1, 2)

	handle(t, insts[1], Signal(KindHeartbeatInvoke))
	require.Equal(t, []Kind{KindElectionInvoke}, kinds(queued(insts[1])))
}

// TestBullyElectionInvokeSendsToHigher tests candidacy routing
func TestBullyElectionInvokeSendsToHigher(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, 5, 1, 2, 3, 4, 5)
	insts[5].SetAlive(false)

	handle(t, insts[3], Signal(KindElectionInvoke))

	require.Equal(t, StateElecting, insts[3].State())
	msgs := queued(insts[4])
	require.Len(t, msgs, 1)
	require.Equal(t, KindElection, msgs[0].Kind)
	require.Equal(t, "3", msgs[0].Content)
	require.NotEmpty(t, msgs[0].Round)

	for _, id := range []int{1, 2, 3} {
		require.Empty(t, queued(insts[id]), "instance %d", id)
	}
}

// TestBullyHighestAliveWins tests winning with no higher alive instance
func TestBullyHighestAliveWins(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, 5, 1, 2, 3, 4, 5)
	insts[5].SetAlive(false)

	handle(t, insts[4], Signal(KindElectionInvoke))

	require.Equal(t, StateLeader, insts[4].State())
	require.Equal(t, 4, insts[4].LeaderID())

	for _, id := range []int{1, 2, 3, 4} {
		msgs := queued(insts[id])
		require.Len(t, msgs, 1, "instance %d", id)
		require.Equal(t, Candidacy(KindLeader, 4).Content, msgs[0].Content)
		require.Equal(t, KindLeader, msgs[0].Kind)
	}
}

// TestBullyElectionFromLower tests that a candidacy from below starts our own election once
func TestBullyElectionFromLower(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, 5, 1, 2, 3, 4, 5)

	handle(t, insts[4], Candidacy(KindElection, 2).WithSender(2))
	require.Equal(t, StateElecting, insts[4].State())
	require.Equal(t, []Kind{KindElectionInvoke}, kinds(queued(insts[4])))

	// already electing
	handle(t, insts[4], Candidacy(KindElection, 3).WithSender(3))
	require.Empty(t, queued(insts[4]))

	// candidacies from above are not ours to answer
	handle(t, insts[2], Candidacy(KindElection, 4).WithSender(4))
	require.Equal(t, StateFollower, insts[2].State())
	require.Empty(t, queued(insts[2]))
}

// TestBullyLeaderAnnouncement tests accepting LEADER
func TestBullyLeaderAnnouncement(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, NoLeader, 1, 2, 3, 4)

	handle(t, insts[2], Candidacy(KindLeader, 4))
	require.Equal(t, 4, insts[2].LeaderID())
	require.Equal(t, StateFollower, insts[2].State())

	handle(t, insts[4], Candidacy(KindLeader, 4))
	require.Equal(t, StateLeader, insts[4].State())
	require.Empty(t, queued(insts[4]))
}

// TestBullyLowerLeaderChallenged tests that a higher instance bullies a lower leader
func TestBullyLowerLeaderChallenged(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, NoLeader, 1, 2, 3, 4)

	handle(t, insts[4], Candidacy(KindLeader, 3))

	require.Equal(t, 3, insts[4].LeaderID())
	require.Equal(t, StateElecting, insts[4].State())
	require.Equal(t, []Kind{KindElectionInvoke}, kinds(queued(insts[4])))
}

// TestBullyLeaderInvoke tests periodic re-announcement
func TestBullyLeaderInvoke(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, 3, 1, 2, 3)

	handle(t, insts[1], Signal(KindLeaderInvoke))
	for _, inst := range insts {
		require.Empty(t, queued(inst))
	}

	handle(t, insts[3], Signal(KindLeaderInvoke))
	for _, inst := range insts {
		require.Equal(t, []Kind{KindLeader}, kinds(queued(inst)), "instance %d", inst.ID())
	}
}

// TestBullyProtocolErrors tests unknown kinds and malformed candidacies
func TestBullyProtocolErrors(t *testing.T) {
	_, insts := newTestManager(t, AlgorithmBully, NoLeader, 1)

	err := insts[1].strategy.Handle(t.Context(), insts[1], Message{Kind: Kind(99)})
	require.ErrorIs(t, err, ErrUnknownKind)

	err = insts[1].strategy.Handle(t.Context(), insts[1], NewMessage(KindLeader, "nobody"))
	require.ErrorIs(t, err, ErrInvalidCandidate)

	// ring tokens are ignored
	handle(t, insts[1], Signal(KindHeartbeat))
}
