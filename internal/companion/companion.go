// Package companion orchestrates prompt handling: it accepts submissions,
// hands back tickets immediately, and runs the conversation against the
// configured backend in a background worker.
package companion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oyalabs/sensei/internal/media"
	"github.com/oyalabs/sensei/internal/provider"
	"github.com/oyalabs/sensei/internal/run"
	"github.com/oyalabs/sensei/internal/session"
	"github.com/oyalabs/sensei/internal/store"
	"github.com/oyalabs/sensei/internal/ticket"
	"github.com/oyalabs/sensei/internal/tool"
	"github.com/oyalabs/sensei/pkg/protocol"
)

const defaultWorkTimeout = 10 * time.Minute

// Target selects the conversation backend for a submission.
type Target string

const (
	// TargetChat is a single round trip against the completion API.
	TargetChat Target = "chat"
	// TargetAssistant runs the remote assistant protocol with tool calls.
	TargetAssistant Target = "assistant"
)

// Result is the payload stored on a completed ticket.
type Result struct {
	Reply       string          `json:"reply"`
	Turns       []protocol.Turn `json:"turns"`
	Transcribed string          `json:"transcribed,omitempty"`
	AudioFile   string          `json:"audio_file,omitempty"`
}

// Options wires a Companion's collaborators. Tickets, Sessions and Chat
// are required; the rest degrade gracefully when absent.
type Options struct {
	Tickets  *ticket.Store
	Sessions *session.Manager
	Chat     provider.ChatProvider
	Runs     provider.RunProvider
	Speech   provider.SpeechProvider
	Driver   *run.Driver
	Tools    *tool.Registry
	Store    *store.Store
	Media    *media.Store
	Logger   *slog.Logger

	Model         string
	AssistantName string
	WorkTimeout   time.Duration
}

// Companion accepts prompts and drives them to a ticketed result.
type Companion struct {
	tickets  *ticket.Store
	sessions *session.Manager
	chat     provider.ChatProvider
	runs     provider.RunProvider
	speech   provider.SpeechProvider
	driver   *run.Driver
	tools    *tool.Registry
	store    *store.Store
	media    *media.Store
	logger   *slog.Logger

	model         string
	assistantName string
	workTimeout   time.Duration
}

// New creates a Companion from opts.
func New(opts Options) *Companion {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.WorkTimeout
	if timeout <= 0 {
		timeout = defaultWorkTimeout
	}
	name := opts.AssistantName
	if name == "" {
		name = "sensei"
	}
	return &Companion{
		tickets:       opts.Tickets,
		sessions:      opts.Sessions,
		chat:          opts.Chat,
		runs:          opts.Runs,
		speech:        opts.Speech,
		driver:        opts.Driver,
		tools:         opts.Tools,
		store:         opts.Store,
		media:         opts.Media,
		logger:        logger,
		model:         opts.Model,
		assistantName: name,
		workTimeout:   timeout,
	}
}

// SubmitPrompt accepts a text prompt for address and returns a ticket id
// the caller polls for the result. The conversation runs in the background.
func (c *Companion) SubmitPrompt(address, prompt string, target Target) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("companion: empty prompt")
	}
	id := ticket.NewID()
	if err := c.tickets.Create(id); err != nil {
		return "", fmt.Errorf("companion: %w", err)
	}
	c.logger.Info("prompt accepted", "ticket", id, "address", address, "target", target)

	go c.work(id, address, prompt, target, false)
	return id, nil
}

// SubmitAudio accepts a voice prompt. The worker transcribes it, runs the
// conversation, and synthesizes the reply to an audio file alongside the
// text result.
func (c *Companion) SubmitAudio(address string, audio []byte, filename string, target Target) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("companion: empty audio")
	}
	if c.speech == nil {
		return "", fmt.Errorf("companion: no speech provider configured")
	}
	id := ticket.NewID()
	if err := c.tickets.Create(id); err != nil {
		return "", fmt.Errorf("companion: %w", err)
	}
	c.logger.Info("audio accepted", "ticket", id, "address", address, "bytes", len(audio))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.workTimeout)
		defer cancel()
		defer c.recoverTicket(id)

		text, err := c.speech.Transcribe(ctx, audio, filename)
		if err != nil {
			c.failTicket(id, fmt.Errorf("transcription failed: %w", err))
			return
		}
		c.finish(ctx, id, address, text, target, true, text)
	}()
	return id, nil
}

// Poll returns the ticket record. The first poll observing a terminal
// state consumes it; later polls get ticket.ErrNotFound.
func (c *Companion) Poll(id string) (ticket.Ticket, error) {
	return c.tickets.Poll(id)
}

func (c *Companion) work(id, address, prompt string, target Target, speak bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.workTimeout)
	defer cancel()
	defer c.recoverTicket(id)

	c.finish(ctx, id, address, prompt, target, speak, "")
}

// finish runs the conversation and moves the ticket to its terminal state.
func (c *Companion) finish(ctx context.Context, id, address, prompt string, target Target, speak bool, transcribed string) {
	res, err := c.converse(ctx, address, prompt, target)
	if err != nil {
		c.failTicket(id, err)
		return
	}
	res.Transcribed = transcribed

	if speak && res.Reply != "" {
		c.synthesize(ctx, id, res)
	}

	if err := c.tickets.Complete(id, res); err != nil {
		c.logger.Warn("ticket completion lost", "ticket", id, "error", err)
		return
	}
	c.logger.Info("prompt completed", "ticket", id, "address", address, "turns", len(res.Turns))
}

// converse runs one exchange inside the session lock, so concurrent
// submissions for the same address are processed one at a time.
// Persistence happens inside the lock too: the message log rows land in
// the same order as the transcript turns.
func (c *Companion) converse(ctx context.Context, address, prompt string, target Target) (*Result, error) {
	sess := c.sessions.Get(address)

	var res *Result
	err := sess.Do(func() error {
		var err error
		switch target {
		case TargetAssistant:
			res, err = c.runAssistant(ctx, sess, prompt)
		default:
			res, err = c.runChat(ctx, sess, prompt)
		}
		if err != nil {
			return err
		}
		c.persist(address, res.Turns)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// runChat is a single round trip: transcript plus the new prompt in, one
// assistant message out.
func (c *Companion) runChat(ctx context.Context, sess *session.Session, prompt string) (*Result, error) {
	msgs := sess.Transcript.Messages()
	msgs = append(msgs, protocol.ChatMessage{Role: protocol.RoleUser, Content: prompt})

	resp, err := c.chat.Chat(ctx, protocol.ChatRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	userTurn := protocol.Turn{Role: protocol.RoleUser, Content: prompt}
	replyTurn := protocol.Turn{Role: protocol.RoleAssistant, Content: resp.Content}
	sess.Transcript.Append(userTurn)
	sess.Transcript.Append(replyTurn)

	return &Result{Reply: resp.Content, Turns: []protocol.Turn{userTurn, replyTurn}}, nil
}

// runAssistant drives the remote run protocol, creating the assistant and
// thread on the session's first use and reusing them afterwards.
func (c *Companion) runAssistant(ctx context.Context, sess *session.Session, prompt string) (*Result, error) {
	if c.driver == nil || c.runs == nil {
		return nil, fmt.Errorf("assistant target not configured")
	}

	assistantID, threadID := sess.Thread()
	if assistantID == "" || threadID == "" {
		var err error
		assistantID, err = c.runs.CreateAssistant(ctx, c.assistantName, c.sessions.SystemPrompt(), c.model, c.tools.Definitions())
		if err != nil {
			return nil, fmt.Errorf("create assistant: %w", err)
		}
		threadID, err = c.runs.CreateThread(ctx)
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		sess.BindThread(assistantID, threadID)
		c.logger.Info("assistant bound", "address", sess.Address, "assistant", assistantID, "thread", threadID)
	}

	delta, err := c.driver.Execute(ctx, threadID, assistantID, sess.Transcript, prompt)
	if err != nil {
		return nil, err
	}

	reply := ""
	for i := len(delta) - 1; i >= 0; i-- {
		if delta[i].Role == protocol.RoleAssistant {
			reply = delta[i].Content
			break
		}
	}
	return &Result{Reply: reply, Turns: delta}, nil
}

// synthesize renders the reply to speech. Failure downgrades the result
// to text-only rather than failing the ticket.
func (c *Companion) synthesize(ctx context.Context, id string, res *Result) {
	if c.speech == nil || c.media == nil {
		return
	}
	audio, err := c.speech.Synthesize(ctx, res.Reply)
	if err != nil {
		c.logger.Warn("speech synthesis failed", "ticket", id, "error", err)
		return
	}
	path, err := c.media.Save(id+".mp3", audio)
	if err != nil {
		c.logger.Warn("audio save failed", "ticket", id, "error", err)
		return
	}
	res.AudioFile = path
}

// persist writes the exchanged turns to durable history. Storage errors
// are logged, the result is already in hand.
func (c *Companion) persist(address string, turns []protocol.Turn) {
	if c.store == nil {
		return
	}
	for _, t := range turns {
		if err := c.store.AppendMessage(address, t.Role, t.Content); err != nil {
			c.logger.Warn("history write failed", "address", address, "error", err)
			return
		}
	}
}

func (c *Companion) failTicket(id string, err error) {
	c.logger.Error("prompt failed", "ticket", id, "error", err)
	if ferr := c.tickets.Fail(id, err.Error()); ferr != nil {
		c.logger.Warn("ticket failure lost", "ticket", id, "error", ferr)
	}
}

func (c *Companion) recoverTicket(id string) {
	if r := recover(); r != nil {
		c.logger.Error("worker panic", "ticket", id, "panic", r)
		c.tickets.Fail(id, fmt.Sprintf("internal error: %v", r))
	}
}
