package election

import (
	"fmt"
	"strconv"

	"github.com/dd0wney/cluso-election/pkg/transport"
	"github.com/google/uuid"
)

// Message is an immutable unit of communication. Content carries a
// candidate or leader id for ELECTION and LEADER, and is empty otherwise.
type Message struct {
	Kind    Kind
	Content string
	Sender  int
	Round   string
}

// NewMessage creates a message with no sender
func NewMessage(kind Kind, content string) Message {
	return Message{Kind: kind, Content: content, Sender: NoSender}
}

// Signal creates a message with empty content
func Signal(kind Kind) Message {
	return NewMessage(kind, "")
}

// Candidacy creates a message whose content names an instance id
func Candidacy(kind Kind, id int) Message {
	return NewMessage(kind, strconv.Itoa(id))
}

// NewRound returns a fresh election round id
func NewRound() string {
	return uuid.NewString()
}

// WithSender returns a copy of m stamped with the sending instance
func (m Message) WithSender(id int) Message {
	m.Sender = id
	return m
}

// WithRound returns a copy of m tagged with an election round
func (m Message) WithRound(round string) Message {
	m.Round = round
	return m
}

// Candidate parses Content as an instance id
func (m Message) Candidate() (int, error) {
	id, err := strconv.Atoi(m.Content)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidCandidate, m.Kind, m.Content)
	}
	return id, nil
}

func (m Message) String() string {
	if m.Content == "" {
		return fmt.Sprintf("%s(from=%d)", m.Kind, m.Sender)
	}
	return fmt.Sprintf("%s(%s, from=%d)", m.Kind, m.Content, m.Sender)
}

// disturbs reports whether handling m could move an instance off leader.
// Heartbeats and local triggers never do while leader is alive.
func (m Message) disturbs(leader int) bool {
	switch m.Kind {
	case KindElection, KindElectionInvoke:
		return true
	case KindLeader:
		return m.Content != strconv.Itoa(leader)
	default:
		return false
	}
}

func (m Message) frame(to int) transport.Frame {
	return transport.Frame{
		From:    m.Sender,
		To:      to,
		Kind:    m.Kind.String(),
		Content: m.Content,
		Round:   m.Round,
	}
}

func messageFromFrame(f transport.Frame) (Message, error) {
	kind, err := ParseKind(f.Kind)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Content: f.Content, Sender: f.From, Round: f.Round}, nil
}
