package election

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestMailboxFIFO tests that messages come out in push order
func TestMailboxFIFO(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < 10; i++ {
		mb.push(Candidacy(KindElection, i))
	}

	for i := 0; i < 10; i++ {
		msg, ok := mb.pop(context.Background())
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if id, _ := msg.Candidate(); id != i {
			t.Errorf("Expected candidate %d, got %d", i, id)
		}
	}
	if mb.len() != 0 {
		t.Errorf("Expected empty mailbox, got %d", mb.len())
	}
}

// TestMailboxPopBlocksUntilPush tests wake-up of a waiting consumer
func TestMailboxPopBlocksUntilPush(t *testing.T) {
	mb := newMailbox()
	got := make(chan Message, 1)

	go func() {
		msg, _ := mb.pop(context.Background())
		got <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	mb.push(Signal(KindHeartbeatInvoke))

	select {
	case msg := <-got:
		if msg.Kind != KindHeartbeatInvoke {
			t.Errorf("Expected HEARTBEAT_INVOKE, got %s", msg.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

// TestMailboxCancellation tests that pop returns when the context ends
func TestMailboxCancellation(t *testing.T) {
	mb := newMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := mb.pop(ctx); ok {
		t.Error("Expected pop to fail on cancelled context")
	}
}

// TestMailboxClose tests that queued messages drain before close is observed
func TestMailboxClose(t *testing.T) {
	mb := newMailbox()
	mb.push(Signal(KindLeaderInvoke))
	mb.close()

	if mb.push(Signal(KindLeaderInvoke)) {
		t.Error("Expected push after close to fail")
	}
	if _, ok := mb.pop(context.Background()); !ok {
		t.Error("Expected queued message before close")
	}
	if _, ok := mb.pop(context.Background()); ok {
		t.Error("Expected closed mailbox to stop the consumer")
	}
}

// TestMailboxSettledOn tests which queued and in-flight messages count
// against a settled leader
func TestMailboxSettledOn(t *testing.T) {
	mb := newMailbox()
	if !mb.settledOn(5) {
		t.Error("Empty mailbox should be settled")
	}

	mb.push(Signal(KindHeartbeat))
	mb.push(Signal(KindHeartbeatInvoke))
	mb.push(Signal(KindLeaderInvoke))
	mb.push(Candidacy(KindLeader, 5))
	if !mb.settledOn(5) {
		t.Error("Heartbeats and the agreed leader's announcement should not unsettle")
	}
	if mb.settledOn(4) {
		t.Error("An announcement of 5 should unsettle leader 4")
	}

	mb.drain()
	mb.push(Candidacy(KindElection, 2))
	if mb.settledOn(5) {
		t.Error("A queued candidacy should unsettle")
	}

	mb.pop(context.Background())
	if mb.settledOn(5) {
		t.Error("A candidacy being handled should unsettle")
	}

	mb.done()
	if !mb.settledOn(5) {
		t.Error("Mailbox should be settled after done")
	}

	mb.push(Signal(KindElectionInvoke))
	if mb.settledOn(5) {
		t.Error("A queued election trigger should unsettle")
	}
}

// TestMailboxDrain tests discarding queued messages
func TestMailboxDrain(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < 5; i++ {
		mb.push(Signal(KindHeartbeat))
	}

	if n := mb.drain(); n != 5 {
		t.Errorf("Expected 5 drained, got %d", n)
	}
	if mb.len() != 0 {
		t.Errorf("Expected empty mailbox, got %d", mb.len())
	}
}

// TestMailboxConcurrentProducers tests that no message is lost under contention
func TestMailboxConcurrentProducers(t *testing.T) {
	mb := newMailbox()
	const producers, each = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				mb.push(Signal(KindHeartbeat))
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for received < producers*each {
			if _, ok := mb.pop(context.Background()); !ok {
				break
			}
			received++
		}
		close(done)
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Consumer stuck after %d messages", received)
	}
	if received != producers*each {
		t.Errorf("Expected %d messages, got %d", producers*each, received)
	}
}
