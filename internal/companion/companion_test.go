package companion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oyalabs/sensei/internal/media"
	"github.com/oyalabs/sensei/internal/run"
	"github.com/oyalabs/sensei/internal/session"
	"github.com/oyalabs/sensei/internal/store"
	"github.com/oyalabs/sensei/internal/ticket"
	"github.com/oyalabs/sensei/internal/tool"
	"github.com/oyalabs/sensei/pkg/protocol"
)

type fakeChat struct {
	mu    sync.Mutex
	calls []string
	reply string
	err   error
	delay time.Duration
	panic bool
}

func (f *fakeChat) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	if f.panic {
		panic("chat provider blew up")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	last := req.Messages[len(req.Messages)-1].Content
	f.calls = append(f.calls, last)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ChatResponse{Role: protocol.RoleAssistant, Content: f.reply}, nil
}

func (f *fakeChat) Name() string { return "fake" }

type fakeSpeech struct {
	transcript string
	audio      []byte
	synthErr   error
}

func (f *fakeSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return f.transcript, nil
}

func (f *fakeSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, f.synthErr
}

// fakeAssistant keeps a newest-first thread and completes every run with
// a scripted reply.
type fakeAssistant struct {
	mu         sync.Mutex
	assistants int
	threads    int
	replies    int
	thread     []protocol.ThreadMessage
}

func (f *fakeAssistant) CreateAssistant(context.Context, string, string, string, []protocol.ToolDefinition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants++
	return fmt.Sprintf("asst_%d", f.assistants), nil
}

func (f *fakeAssistant) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeAssistant) PostMessage(_ context.Context, _, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thread = append([]protocol.ThreadMessage{{
		Role:    role,
		Content: []protocol.ContentBlock{{Type: "text", Text: content}},
	}}, f.thread...)
	return nil
}

func (f *fakeAssistant) CreateRun(context.Context, string, string) (protocol.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies++
	f.thread = append([]protocol.ThreadMessage{{
		Role:    protocol.RoleAssistant,
		Content: []protocol.ContentBlock{{Type: "text", Text: fmt.Sprintf("reply %d", f.replies)}},
	}}, f.thread...)
	return protocol.Run{ID: "run_1", Status: protocol.RunQueued}, nil
}

func (f *fakeAssistant) GetRun(context.Context, string, string) (protocol.Run, error) {
	return protocol.Run{ID: "run_1", Status: protocol.RunCompleted}, nil
}

func (f *fakeAssistant) SubmitToolOutputs(context.Context, string, string, []protocol.ToolResult) error {
	return nil
}

func (f *fakeAssistant) ListMessages(context.Context, string) ([]protocol.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ThreadMessage, len(f.thread))
	copy(out, f.thread)
	return out, nil
}

func newTestCompanion(chat *fakeChat) *Companion {
	return New(Options{
		Tickets:  ticket.NewStore(),
		Sessions: session.NewManager("be helpful", nil),
		Chat:     chat,
		Tools:    tool.NewRegistry(nil),
	})
}

// pollUntilTerminal polls the ticket until it leaves processing.
func pollUntilTerminal(t *testing.T, c *Companion, id string) ticket.Ticket {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tk, err := c.Poll(id)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if tk.Status.Terminal() {
			return tk
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("ticket never reached a terminal state")
	return ticket.Ticket{}
}

func TestSubmitPromptLifecycle(t *testing.T) {
	chat := &fakeChat{reply: "hello there"}
	c := newTestCompanion(chat)

	id, err := c.SubmitPrompt("0xabc", "hi", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := pollUntilTerminal(t, c, id)
	if tk.Status != ticket.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", tk.Status, tk.Error)
	}
	res := tk.Result.(*Result)
	if res.Reply != "hello there" {
		t.Errorf("unexpected reply %q", res.Reply)
	}
	if len(res.Turns) != 2 {
		t.Errorf("expected prompt+reply turns, got %+v", res.Turns)
	}

	// Terminal polls consume the ticket.
	if _, err := c.Poll(id); !errors.Is(err, ticket.ErrNotFound) {
		t.Errorf("expected ErrNotFound after consumption, got %v", err)
	}
}

func TestSubmitPromptValidation(t *testing.T) {
	c := newTestCompanion(&fakeChat{})
	if _, err := c.SubmitPrompt("0xabc", "   ", TargetChat); err == nil {
		t.Error("expected error for blank prompt")
	}
}

func TestSubmitPromptFailure(t *testing.T) {
	chat := &fakeChat{err: errors.New("upstream on fire")}
	c := newTestCompanion(chat)

	id, err := c.SubmitPrompt("0xabc", "hi", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := pollUntilTerminal(t, c, id)
	if tk.Status != ticket.StatusFailed {
		t.Fatalf("expected failed, got %s", tk.Status)
	}
	if !strings.Contains(tk.Error, "upstream on fire") {
		t.Errorf("expected cause in ticket error, got %q", tk.Error)
	}
}

func TestWorkerPanicFailsTicket(t *testing.T) {
	chat := &fakeChat{panic: true}
	c := newTestCompanion(chat)

	id, err := c.SubmitPrompt("0xabc", "hi", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := pollUntilTerminal(t, c, id)
	if tk.Status != ticket.StatusFailed {
		t.Fatalf("expected failed, got %s", tk.Status)
	}
	if !strings.Contains(tk.Error, "internal error") {
		t.Errorf("expected panic surfaced as internal error, got %q", tk.Error)
	}
}

func TestSameSessionSerialized(t *testing.T) {
	chat := &fakeChat{reply: "ok", delay: 10 * time.Millisecond}
	c := newTestCompanion(chat)

	id1, err := c.SubmitPrompt("0xabc", "first", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id2, err := c.SubmitPrompt("0xabc", "second", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pollUntilTerminal(t, c, id1)
	pollUntilTerminal(t, c, id2)

	// Both ran, one at a time, and the transcript interleaves cleanly.
	sess, _ := c.sessions.Lookup("0xabc")
	if sess.Transcript.Len() != 5 {
		t.Errorf("expected system + 2 exchanges, got %d turns", sess.Transcript.Len())
	}
	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.calls) != 2 {
		t.Errorf("expected 2 chat calls, got %d", len(chat.calls))
	}
}

func TestHistoryRowsNotInterleaved(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sensei.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	chat := &fakeChat{reply: "ok", delay: 10 * time.Millisecond}
	c := New(Options{
		Tickets:  ticket.NewStore(),
		Sessions: session.NewManager("be helpful", nil),
		Chat:     chat,
		Tools:    tool.NewRegistry(nil),
		Store:    st,
	})

	id1, err := c.SubmitPrompt("0xabc", "first", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id2, err := c.SubmitPrompt("0xabc", "second", TargetChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	pollUntilTerminal(t, c, id1)
	pollUntilTerminal(t, c, id2)

	msgs, err := st.History("0xabc", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(msgs))
	}
	// Each exchange lands as a user row immediately followed by its reply.
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != protocol.RoleUser || msgs[i+1].Role != protocol.RoleAssistant {
			t.Errorf("rows %d/%d have roles %q/%q", i, i+1, msgs[i].Role, msgs[i+1].Role)
		}
	}
	prompts := map[string]bool{msgs[0].Content: true, msgs[2].Content: true}
	if !prompts["first"] || !prompts["second"] {
		t.Errorf("expected both prompts in the log, got %q and %q", msgs[0].Content, msgs[2].Content)
	}
}

func TestSubmitAudio(t *testing.T) {
	chat := &fakeChat{reply: "it is noon"}
	c := New(Options{
		Tickets:  ticket.NewStore(),
		Sessions: session.NewManager("", nil),
		Chat:     chat,
		Speech:   &fakeSpeech{transcript: "what time is it", audio: []byte{0xFF, 0xF3}},
		Media:    media.NewStore(t.TempDir()),
		Tools:    tool.NewRegistry(nil),
	})

	id, err := c.SubmitAudio("0xabc", []byte("ogg-bytes"), "voice.ogg", TargetChat)
	if err != nil {
		t.Fatalf("submit audio: %v", err)
	}

	tk := pollUntilTerminal(t, c, id)
	if tk.Status != ticket.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", tk.Status, tk.Error)
	}
	res := tk.Result.(*Result)
	if res.Transcribed != "what time is it" {
		t.Errorf("expected transcription in result, got %q", res.Transcribed)
	}
	if res.Reply != "it is noon" {
		t.Errorf("unexpected reply %q", res.Reply)
	}
	if res.AudioFile == "" {
		t.Fatal("expected synthesized audio file")
	}
	if _, err := os.Stat(res.AudioFile); err != nil {
		t.Errorf("audio file missing: %v", err)
	}
}

func TestSubmitAudioSynthesisFailureDowngrades(t *testing.T) {
	c := New(Options{
		Tickets:  ticket.NewStore(),
		Sessions: session.NewManager("", nil),
		Chat:     &fakeChat{reply: "still works"},
		Speech:   &fakeSpeech{transcript: "hello", synthErr: errors.New("tts down")},
		Media:    media.NewStore(t.TempDir()),
		Tools:    tool.NewRegistry(nil),
	})

	id, _ := c.SubmitAudio("0xabc", []byte("ogg"), "voice.ogg", TargetChat)
	tk := pollUntilTerminal(t, c, id)
	if tk.Status != ticket.StatusCompleted {
		t.Fatalf("expected completed, got %s", tk.Status)
	}
	res := tk.Result.(*Result)
	if res.Reply != "still works" || res.AudioFile != "" {
		t.Errorf("expected text-only result, got %+v", res)
	}
}

func TestAssistantTargetBindsOnce(t *testing.T) {
	runs := &fakeAssistant{}
	reg := tool.NewRegistry(nil)
	d := run.New(runs, reg, nil)
	d.PollInterval = time.Millisecond
	d.MaxWait = time.Second

	c := New(Options{
		Tickets:  ticket.NewStore(),
		Sessions: session.NewManager("be helpful", nil),
		Chat:     &fakeChat{},
		Runs:     runs,
		Driver:   d,
		Tools:    reg,
	})

	id1, err := c.SubmitPrompt("0xabc", "one", TargetAssistant)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	tk1 := pollUntilTerminal(t, c, id1)
	if tk1.Status != ticket.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", tk1.Status, tk1.Error)
	}
	if tk1.Result.(*Result).Reply != "reply 1" {
		t.Errorf("unexpected reply %q", tk1.Result.(*Result).Reply)
	}

	id2, err := c.SubmitPrompt("0xabc", "two", TargetAssistant)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	tk2 := pollUntilTerminal(t, c, id2)
	if tk2.Result.(*Result).Reply != "reply 2" {
		t.Errorf("unexpected reply %q", tk2.Result.(*Result).Reply)
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if runs.assistants != 1 || runs.threads != 1 {
		t.Errorf("expected assistant and thread created once, got %d/%d", runs.assistants, runs.threads)
	}
}

func TestAssistantTargetUnconfigured(t *testing.T) {
	c := newTestCompanion(&fakeChat{})
	id, err := c.SubmitPrompt("0xabc", "hi", TargetAssistant)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	tk := pollUntilTerminal(t, c, id)
	if tk.Status != ticket.StatusFailed {
		t.Fatalf("expected failed, got %s", tk.Status)
	}
}
