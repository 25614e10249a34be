package election

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/cluso-election/pkg/logging"
	"github.com/dd0wney/cluso-election/pkg/transport"
	"github.com/willf/bitset"
)

// IsAlive reports whether id is a registered, alive instance
func (m *MessageManager) IsAlive(id int) bool {
	inst, ok := m.Lookup(id)
	return ok && inst.IsAlive()
}

// AliveIDs returns the alive ids in ascending order
func (m *MessageManager) AliveIDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alive := make([]int, 0, len(m.ids))
	for _, id := range m.ids {
		if m.instances[id].IsAlive() {
			alive = append(alive, id)
		}
	}
	return alive
}

// AliveSet returns a snapshot of alive ids as a bitset
func (m *MessageManager) AliveSet() *bitset.BitSet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := bitset.New(0)
	for _, id := range m.ids {
		if m.instances[id].IsAlive() {
			set.Set(uint(id))
		}
	}
	return set
}

// HighestAlive returns the highest alive id, or NoLeader when none is alive
func (m *MessageManager) HighestAlive() int {
	set := m.AliveSet()
	highest := NoLeader
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		highest = int(i)
	}
	return highest
}

// HigherAlive returns the alive ids greater than id, ascending
func (m *MessageManager) HigherAlive(id int) []int {
	var higher []int
	for _, other := range m.AliveIDs() {
		if other > id {
			higher = append(higher, other)
		}
	}
	return higher
}

// Probe checks whether target is alive as seen from from. It never takes
// longer than the probe timeout: a partitioned or slow link fails the probe.
func (m *MessageManager) Probe(ctx context.Context, from, target int) bool {
	start := time.Now()
	ok := m.probe(ctx, from, target)

	result := "alive"
	if !ok {
		result = "dead"
	}
	m.metrics.RecordProbe(result, time.Since(start))
	return ok
}

func (m *MessageManager) probe(ctx context.Context, from, target int) bool {
	inst, ok := m.Lookup(target)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if !m.link.Reachable(from, target) {
		<-ctx.Done()
		return false
	}

	// round trip
	delay := m.link.Delay(from, target) + m.link.Delay(target, from)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}

	if prober, ok := m.carrier.(transport.Prober); ok {
		alive, err := prober.Probe(ctx, target)
		if err != nil {
			m.logger.Debug("liveness check failed", logging.InstanceID(target), logging.Error(err))
			return false
		}
		return alive
	}
	return inst.IsAlive()
}

// SendHeartbeat probes leaderID on behalf of an external caller
func (m *MessageManager) SendHeartbeat(ctx context.Context, leaderID int) bool {
	return m.Probe(ctx, NoSender, leaderID)
}

// RouteElection sends a candidacy on behalf of senderID and returns how many
// instances it was delivered to. Bully sends to every alive higher id; ring
// forwards to the next alive instance. ErrNoAliveInstance means the whole
// cluster is dead.
func (m *MessageManager) RouteElection(senderID int, msg Message) (int, error) {
	alive := m.AliveIDs()
	if len(alive) == 0 {
		return 0, ErrNoAliveInstance
	}

	if m.algorithm == AlgorithmRing {
		return m.ForwardNext(senderID, msg)
	}

	delivered := 0
	for _, id := range m.HigherAlive(senderID) {
		if m.Deliver(senderID, id, msg) {
			delivered++
		}
	}
	m.logger.Debug("election routed",
		logging.InstanceID(senderID),
		logging.Count(delivered),
		logging.Round(msg.Round),
	)
	return delivered, nil
}

// FindNextAlive returns the first alive instance after currentID in
// ascending cyclic order. It returns the instance itself when it is the only
// one alive.
func (m *MessageManager) FindNextAlive(currentID int) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.ids {
		if id > currentID && m.instances[id].IsAlive() {
			return m.instances[id], nil
		}
	}
	for _, id := range m.ids {
		if m.instances[id].IsAlive() {
			return m.instances[id], nil
		}
	}
	return nil, ErrNoAliveInstance
}

// ForwardNext delivers msg to senderID's ring successor. It returns 0 when
// the sender is its own successor or the message was dropped.
func (m *MessageManager) ForwardNext(senderID int, msg Message) (int, error) {
	next, err := m.FindNextAlive(senderID)
	if err != nil {
		return 0, err
	}
	if next.ID() == senderID {
		return 0, nil
	}
	if m.Deliver(senderID, next.ID(), msg) {
		return 1, nil
	}
	return 0, nil
}

// Broadcast delivers msg to every alive instance, the sender included
func (m *MessageManager) Broadcast(from int, msg Message) int {
	delivered := 0
	for _, id := range m.AliveIDs() {
		if m.Deliver(from, id, msg) {
			delivered++
		}
	}
	return delivered
}

// Deliver hands msg to the carrier for to. It returns false when the message
// was dropped: unknown or dead receiver, dead sender, or a cut link. Drops
// are normal protocol outcomes, not errors.
func (m *MessageManager) Deliver(from, to int, msg Message) bool {
	msg = msg.WithSender(from)
	kind := msg.Kind.String()

	target, ok := m.Lookup(to)
	if !ok {
		m.drop(kind, DropUnknownReceiver)
		return false
	}
	if from != NoSender {
		if sender, ok := m.Lookup(from); ok && !sender.IsAlive() {
			m.drop(kind, DropSenderDead)
			return false
		}
	}
	if !target.IsAlive() {
		m.drop(kind, DropReceiverDead)
		return false
	}

	frame := msg.frame(to)
	m.traffic.add(frame, 1)
	if err := m.carrier.Carry(frame); err != nil {
		m.traffic.add(frame, -1)
		if errors.Is(err, transport.ErrUnreachable) {
			m.drop(kind, DropPartitioned)
		} else {
			m.logger.Warn("carrier failed", logging.Kind(kind), logging.InstanceID(to), logging.Error(err))
			m.drop(kind, DropTransport)
		}
		return false
	}
	return true
}

// receive is the carrier's handler: it enqueues the frame on its target
func (m *MessageManager) receive(f transport.Frame) {
	defer m.traffic.add(f, -1)

	msg, err := messageFromFrame(f)
	if err != nil {
		m.logger.Error("malformed frame", logging.Error(err))
		m.drop(f.Kind, DropMalformed)
		return
	}

	target, ok := m.Lookup(f.To)
	if !ok {
		m.drop(f.Kind, DropUnknownReceiver)
		return
	}
	if !target.OnMessage(msg) {
		m.drop(f.Kind, DropReceiverDead)
		return
	}
	m.metrics.RecordRouted(f.Kind)
}

// undelivered is the carrier's report of an accepted frame that will never
// reach receive
func (m *MessageManager) undelivered(f transport.Frame, err error) {
	m.traffic.add(f, -1)
	m.drop(f.Kind, DropTransport)

	fields := []logging.Field{logging.Kind(f.Kind), logging.InstanceID(f.To), logging.Error(err)}
	if errors.Is(err, transport.ErrClosed) {
		m.logger.Debug("frame discarded on close", fields...)
		return
	}
	m.logger.Warn("frame lost in transport", fields...)
}

func (m *MessageManager) drop(kind, reason string) {
	m.metrics.RecordDropped(kind, reason)
}
