package connector

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oyalabs/sensei/internal/companion"
	"github.com/oyalabs/sensei/internal/ticket"
)

// fakeSubmitter resolves tickets after a configurable number of polls.
type fakeSubmitter struct {
	mu        sync.Mutex
	polls     int
	readyAt   int
	result    *companion.Result
	failWith  string
	submitted []string
}

func (f *fakeSubmitter) SubmitPrompt(_, prompt string, _ companion.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, prompt)
	return "tick-1", nil
}

func (f *fakeSubmitter) SubmitAudio(_ string, audio []byte, _ string, _ companion.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, string(audio))
	return "tick-1", nil
}

func (f *fakeSubmitter) Poll(string) (ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls < f.readyAt {
		return ticket.Ticket{ID: "tick-1", Status: ticket.StatusProcessing}, nil
	}
	if f.failWith != "" {
		return ticket.Ticket{ID: "tick-1", Status: ticket.StatusFailed, Error: f.failWith}, nil
	}
	return ticket.Ticket{ID: "tick-1", Status: ticket.StatusCompleted, Result: f.result}, nil
}

func fastBridge(svc Submitter) *Bridge {
	b := NewBridge(svc, companion.TargetChat, nil)
	b.PollInterval = time.Millisecond
	b.MaxWait = time.Second
	return b
}

func TestAskWaitsForResult(t *testing.T) {
	svc := &fakeSubmitter{readyAt: 3, result: &companion.Result{Reply: "hello"}}
	b := fastBridge(svc)

	res, err := b.Ask(context.Background(), "telegram:42", "hi")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Reply != "hello" {
		t.Errorf("unexpected reply %q", res.Reply)
	}
	if svc.polls < 3 {
		t.Errorf("expected at least 3 polls, got %d", svc.polls)
	}
}

func TestAskSurfacesFailure(t *testing.T) {
	svc := &fakeSubmitter{readyAt: 1, failWith: "provider exploded"}
	b := fastBridge(svc)

	_, err := b.Ask(context.Background(), "telegram:42", "hi")
	if err == nil || !strings.Contains(err.Error(), "provider exploded") {
		t.Fatalf("expected failure surfaced, got %v", err)
	}
}

func TestAskTimesOut(t *testing.T) {
	svc := &fakeSubmitter{readyAt: 1 << 30}
	b := fastBridge(svc)
	b.MaxWait = 10 * time.Millisecond

	if _, err := b.Ask(context.Background(), "telegram:42", "hi"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestAskContextCancel(t *testing.T) {
	svc := &fakeSubmitter{readyAt: 1 << 30}
	b := fastBridge(svc)
	b.PollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Ask(ctx, "telegram:42", "hi"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAskAudio(t *testing.T) {
	svc := &fakeSubmitter{readyAt: 1, result: &companion.Result{Reply: "noon", Transcribed: "what time"}}
	b := fastBridge(svc)

	res, err := b.AskAudio(context.Background(), "telegram:42", []byte("ogg"), "voice.ogg")
	if err != nil {
		t.Fatalf("ask audio: %v", err)
	}
	if res.Transcribed != "what time" {
		t.Errorf("unexpected result %+v", res)
	}
}
