// Package connector bridges external messaging platforms to the
// companion's ticketed prompt flow.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oyalabs/sensei/internal/companion"
	"github.com/oyalabs/sensei/internal/ticket"
)

// Connector is the interface for external messaging platforms.
type Connector interface {
	// Name returns the connector type (e.g. "telegram", "slack").
	Name() string
	// Start begins listening for inbound messages. Blocks until the
	// context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a reply sent to an external platform.
type OutboundMessage struct {
	ChatID    string // platform-specific chat identifier
	Content   string // message text (Markdown)
	AudioFile string // optional synthesized reply audio
}

// Submitter is the asynchronous prompt interface connectors drive.
type Submitter interface {
	SubmitPrompt(address, prompt string, target companion.Target) (string, error)
	SubmitAudio(address string, audio []byte, filename string, target companion.Target) (string, error)
	Poll(id string) (ticket.Ticket, error)
}

const (
	defaultBridgePoll = 500 * time.Millisecond
	defaultBridgeWait = 5 * time.Minute
)

// Bridge submits prompts on behalf of a platform user and waits for the
// ticket to resolve. Platform user IDs become session addresses, so each
// chat keeps its own transcript.
type Bridge struct {
	Svc          Submitter
	Target       companion.Target
	PollInterval time.Duration
	MaxWait      time.Duration
	Logger       *slog.Logger
}

// NewBridge creates a Bridge with the default polling cadence.
func NewBridge(svc Submitter, target companion.Target, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		Svc:          svc,
		Target:       target,
		PollInterval: defaultBridgePoll,
		MaxWait:      defaultBridgeWait,
		Logger:       logger,
	}
}

// Ask submits a text prompt and blocks until the result is ready.
func (b *Bridge) Ask(ctx context.Context, address, prompt string) (*companion.Result, error) {
	id, err := b.Svc.SubmitPrompt(address, prompt, b.Target)
	if err != nil {
		return nil, fmt.Errorf("connector: submit: %w", err)
	}
	return b.await(ctx, id)
}

// AskAudio submits a voice prompt and blocks until the result is ready.
func (b *Bridge) AskAudio(ctx context.Context, address string, audio []byte, filename string) (*companion.Result, error) {
	id, err := b.Svc.SubmitAudio(address, audio, filename, b.Target)
	if err != nil {
		return nil, fmt.Errorf("connector: submit audio: %w", err)
	}
	return b.await(ctx, id)
}

// await polls the ticket until it resolves or the wait budget runs out.
func (b *Bridge) await(ctx context.Context, id string) (*companion.Result, error) {
	interval := b.PollInterval
	if interval <= 0 {
		interval = defaultBridgePoll
	}
	maxWait := b.MaxWait
	if maxWait <= 0 {
		maxWait = defaultBridgeWait
	}
	deadline := time.Now().Add(maxWait)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connector: ticket %s: no result after %s", id, maxWait)
		}

		tk, err := b.Svc.Poll(id)
		if err != nil {
			return nil, fmt.Errorf("connector: poll: %w", err)
		}
		if !tk.Status.Terminal() {
			continue
		}
		if tk.Status == ticket.StatusFailed {
			return nil, fmt.Errorf("connector: ticket %s failed: %s", id, tk.Error)
		}
		res, ok := tk.Result.(*companion.Result)
		if !ok {
			return nil, fmt.Errorf("connector: ticket %s: unexpected result type %T", id, tk.Result)
		}
		return res, nil
	}
}
