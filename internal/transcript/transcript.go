// Package transcript maintains the append-only conversation log for one
// session. Callers remember the length they last saw and ask for the delta,
// so turns are never re-processed.
package transcript

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oyalabs/sensei/pkg/protocol"
)

// ErrUnsupportedContent is returned when a remote message carries no text
// body (e.g. an image content block).
var ErrUnsupportedContent = errors.New("unsupported content kind")

// Transcript is a thread-safe ordered sequence of turns.
type Transcript struct {
	mu    sync.RWMutex
	turns []protocol.Turn
}

// New creates a transcript. An optional system prompt seeds the first turn.
func New(systemPrompt string) *Transcript {
	t := &Transcript{}
	if systemPrompt != "" {
		t.turns = append(t.turns, protocol.Turn{Role: protocol.RoleSystem, Content: systemPrompt})
	}
	return t
}

// Append adds one turn to the end of the transcript.
func (t *Transcript) Append(turn protocol.Turn) {
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// Len returns the current number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Delta returns a copy of the turns with index >= sinceLen. A sinceLen at or
// past the end yields an empty slice, never an error: the caller simply saw
// everything already.
func (t *Transcript) Delta(sinceLen int) []protocol.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if sinceLen < 0 {
		sinceLen = 0
	}
	if sinceLen >= len(t.turns) {
		return nil
	}
	out := make([]protocol.Turn, len(t.turns)-sinceLen)
	copy(out, t.turns[sinceLen:])
	return out
}

// All returns a copy of the full transcript.
func (t *Transcript) All() []protocol.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Messages returns the transcript as chat messages for a completion request.
func (t *Transcript) Messages() []protocol.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msgs := make([]protocol.ChatMessage, len(t.turns))
	for i, turn := range t.turns {
		msgs[i] = protocol.ChatMessage{Role: turn.Role, Content: turn.Content}
	}
	return msgs
}

// TurnFromRemote converts a remote message to a transcript turn. Messages
// whose first content block is not text fail with ErrUnsupportedContent
// instead of the unchecked field access the naive conversion would make.
func TurnFromRemote(m protocol.ThreadMessage) (protocol.Turn, error) {
	if len(m.Content) == 0 {
		return protocol.Turn{}, fmt.Errorf("transcript: message with no content blocks: %w", ErrUnsupportedContent)
	}
	block := m.Content[0]
	if block.Type != "text" {
		return protocol.Turn{}, fmt.Errorf("transcript: content kind %q: %w", block.Type, ErrUnsupportedContent)
	}
	return protocol.Turn{Role: m.Role, Content: block.Text}, nil
}

// AppendRemote converts and appends remote messages in chronological order.
// Remote listings arrive newest-first, so the input is walked backwards.
// Returns the number of turns appended; conversion stops at the first
// unsupported message.
func (t *Transcript) AppendRemote(newestFirst []protocol.ThreadMessage) (int, error) {
	appended := 0
	for i := len(newestFirst) - 1; i >= 0; i-- {
		turn, err := TurnFromRemote(newestFirst[i])
		if err != nil {
			return appended, err
		}
		t.Append(turn)
		appended++
	}
	return appended, nil
}
