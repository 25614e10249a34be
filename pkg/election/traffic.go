package election

import (
	"strconv"
	"sync"

	"github.com/dd0wney/cluso-election/pkg/transport"
)

// traffic counts frames accepted by the carrier and not yet received.
// Candidacies and announcements are tracked apart from the rest because
// only they can move an instance's belief about the leader.
type traffic struct {
	mu        sync.Mutex
	total     int64
	elections int64
	announced map[string]int64
}

func newTraffic() *traffic {
	return &traffic{announced: make(map[string]int64)}
}

func (t *traffic) add(f transport.Frame, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += n
	switch f.Kind {
	case KindElection.String(), KindElectionInvoke.String():
		t.elections += n
	case KindLeader.String():
		t.announced[f.Content] += n
		if t.announced[f.Content] <= 0 {
			delete(t.announced, f.Content)
		}
	}
}

// settledOn reports whether nothing in flight could make an instance
// believe in anyone but leader
func (t *traffic) settledOn(leader int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.elections > 0 {
		return false
	}
	want := strconv.Itoa(leader)
	for content := range t.announced {
		if content != want {
			return false
		}
	}
	return true
}

func (t *traffic) len() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
