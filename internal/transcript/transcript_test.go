package transcript

import (
	"errors"
	"testing"

	"github.com/oyalabs/sensei/pkg/protocol"
)

func TestAppendAndDelta(t *testing.T) {
	tr := New("You are a helpful companion.")
	if tr.Len() != 1 {
		t.Fatalf("expected seeded length 1, got %d", tr.Len())
	}

	before := tr.Len()
	tr.Append(protocol.Turn{Role: protocol.RoleUser, Content: "Hello"})
	tr.Append(protocol.Turn{Role: protocol.RoleAssistant, Content: "Hi there"})

	delta := tr.Delta(before)
	if len(delta) != 2 {
		t.Fatalf("expected delta of 2, got %d", len(delta))
	}
	if delta[0].Content != "Hello" || delta[1].Content != "Hi there" {
		t.Errorf("delta out of order: %+v", delta)
	}
	// Earlier turns must not be duplicated.
	for _, turn := range delta {
		if turn.Role == protocol.RoleSystem {
			t.Error("delta includes the system turn already seen")
		}
	}
}

func TestDelta_PastEnd(t *testing.T) {
	tr := New("")
	tr.Append(protocol.Turn{Role: protocol.RoleUser, Content: "one"})
	if got := tr.Delta(5); len(got) != 0 {
		t.Errorf("expected empty delta past end, got %v", got)
	}
	if got := tr.Delta(-1); len(got) != 1 {
		t.Errorf("expected full transcript for negative sinceLen, got %v", got)
	}
}

func TestTurnFromRemote_Text(t *testing.T) {
	turn, err := TurnFromRemote(protocol.ThreadMessage{
		Role:    protocol.RoleAssistant,
		Content: []protocol.ContentBlock{{Type: "text", Text: "the reply"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.Content != "the reply" {
		t.Errorf("expected 'the reply', got %q", turn.Content)
	}
}

func TestTurnFromRemote_UnsupportedKind(t *testing.T) {
	_, err := TurnFromRemote(protocol.ThreadMessage{
		Role:    protocol.RoleAssistant,
		Content: []protocol.ContentBlock{{Type: "image_file"}},
	})
	if !errors.Is(err, ErrUnsupportedContent) {
		t.Errorf("expected ErrUnsupportedContent, got %v", err)
	}

	_, err = TurnFromRemote(protocol.ThreadMessage{Role: protocol.RoleAssistant})
	if !errors.Is(err, ErrUnsupportedContent) {
		t.Errorf("expected ErrUnsupportedContent for empty content, got %v", err)
	}
}

func TestAppendRemote_ReversesNewestFirst(t *testing.T) {
	tr := New("")
	// Remote listing order: newest first.
	n, err := tr.AppendRemote([]protocol.ThreadMessage{
		{Role: protocol.RoleAssistant, Content: []protocol.ContentBlock{{Type: "text", Text: "second"}}},
		{Role: protocol.RoleUser, Content: []protocol.ContentBlock{{Type: "text", Text: "first"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 appended, got %d", n)
	}

	all := tr.All()
	if all[0].Content != "first" || all[1].Content != "second" {
		t.Errorf("expected chronological order, got %+v", all)
	}
}

func TestMessages_MirrorsTurns(t *testing.T) {
	tr := New("persona")
	tr.Append(protocol.Turn{Role: protocol.RoleUser, Content: "q"})
	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != protocol.RoleSystem || msgs[1].Content != "q" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}
