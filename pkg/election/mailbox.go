package election

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO queue with a single consumer.
// push never blocks; pop blocks until a message, close, or cancellation.
type mailbox struct {
	mu       sync.Mutex
	items    []Message
	head     int
	inflight bool
	current  Message
	closed   bool
	notify   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push appends a message. Returns false once the mailbox is closed.
func (m *mailbox) push(msg Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, msg)
	m.mu.Unlock()

	m.wake()
	return true
}

func (m *mailbox) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest message and marks it in flight until done is
// called. The second result is false when the mailbox is closed and empty,
// or ctx is done.
func (m *mailbox) pop(ctx context.Context) (Message, bool) {
	for {
		m.mu.Lock()
		m.inflight = false
		m.current = Message{}
		if m.head < len(m.items) {
			msg := m.items[m.head]
			m.items[m.head] = Message{}
			m.head++
			if m.head == len(m.items) {
				m.items = m.items[:0]
				m.head = 0
			}
			m.inflight = true
			m.current = msg
			m.mu.Unlock()
			return msg, true
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return Message{}, false
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			return Message{}, false
		}
	}
}

// drain discards every queued message and returns how many were dropped
func (m *mailbox) drain() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.items) - m.head
	m.items = nil
	m.head = 0
	return n
}

// done marks the last popped message as handled
func (m *mailbox) done() {
	m.mu.Lock()
	m.inflight = false
	m.current = Message{}
	m.mu.Unlock()
}

// settledOn reports whether no queued or in-flight message could move the
// owner off leader
func (m *mailbox) settledOn(leader int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight && m.current.disturbs(leader) {
		return false
	}
	for _, msg := range m.items[m.head:] {
		if msg.disturbs(leader) {
			return false
		}
	}
	return true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) - m.head
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}
