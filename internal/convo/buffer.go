// Package convo holds the transient, per-session conversational state: the
// rolling turn buffer and the merged active context carried across turns.
package convo

import (
	"time"

	"github.com/antoniostano/govsight/internal/constraints"
)

// DefaultCapacity bounds the rolling buffer at twelve turns.
const DefaultCapacity = 12

// IntentSessionSummary tags the synthetic turn seeded from the prior
// session's summary.
const IntentSessionSummary = "session_summary"

// Turn is one buffered conversation turn. Turns are transient; the durable
// analog is the message log.
type Turn struct {
	Role        string          `json:"role"`
	Text        string          `json:"text"`
	Constraints constraints.Map `json:"constraints,omitempty"`
	Intent      string          `json:"intent,omitempty"`
	Timestamp   time.Time       `json:"ts"`
}

// Buffer is a fixed-capacity FIFO of recent turns. Push evicts the oldest
// entry past capacity and has no other side effects.
type Buffer struct {
	capacity int
	turns    []Turn
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

func (b *Buffer) Push(role, text string, cons constraints.Map, intent string) {
	b.turns = append(b.turns, Turn{
		Role:        role,
		Text:        text,
		Constraints: cons,
		Intent:      intent,
		Timestamp:   time.Now().UTC(),
	})
	if len(b.turns) > b.capacity {
		b.turns = b.turns[len(b.turns)-b.capacity:]
	}
}

// Turns returns the buffered turns oldest first.
func (b *Buffer) Turns() []Turn {
	return append([]Turn(nil), b.turns...)
}

func (b *Buffer) Len() int { return len(b.turns) }
