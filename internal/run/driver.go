// Package run drives a remote assistant run through its state machine:
// post prompt, create run, poll at a fixed cadence, answer required actions,
// and return the transcript delta produced by the run.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oyalabs/sensei/internal/provider"
	"github.com/oyalabs/sensei/internal/tool"
	"github.com/oyalabs/sensei/internal/transcript"
	"github.com/oyalabs/sensei/pkg/protocol"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxWait      = 5 * time.Minute
)

var (
	// ErrRunFailed reports that the remote run reached a failure state. It
	// is surfaced to the caller, not retried.
	ErrRunFailed = errors.New("remote run failed")
	// ErrRunTimeout reports that the run did not reach a terminal state
	// within the configured maximum wait.
	ErrRunTimeout = errors.New("run polling timed out")
)

// Driver polls remote runs to completion, dispatching required tool calls
// through the registry.
type Driver struct {
	Runs         provider.RunProvider
	Tools        *tool.Registry
	Logger       *slog.Logger
	PollInterval time.Duration
	MaxWait      time.Duration
}

// New creates a Driver with the default cadence (2s poll, 5m cap).
func New(runs provider.RunProvider, tools *tool.Registry, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		Runs:         runs,
		Tools:        tools,
		Logger:       logger,
		PollInterval: defaultPollInterval,
		MaxWait:      defaultMaxWait,
	}
}

// Execute appends prompt to the remote thread, creates a run against
// assistantID, and polls it to completion. On success it appends the newly
// produced remote messages to tr and returns exactly the suffix of turns
// added since the call started (prompt included), never earlier history.
func (d *Driver) Execute(ctx context.Context, threadID, assistantID string, tr *transcript.Transcript, prompt string) ([]protocol.Turn, error) {
	interval := d.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxWait := d.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}

	lenBefore := tr.Len()

	if err := d.Runs.PostMessage(ctx, threadID, protocol.RoleUser, prompt); err != nil {
		return nil, fmt.Errorf("run: post message: %w", err)
	}
	tr.Append(protocol.Turn{Role: protocol.RoleUser, Content: prompt})

	// Remember how long the remote thread was when the run started so the
	// completed listing can be trimmed to only the new suffix.
	listing, err := d.Runs.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("run: list messages: %w", err)
	}
	remoteBefore := len(listing)

	r, err := d.Runs.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return nil, fmt.Errorf("run: create run: %w", err)
	}
	d.Logger.Debug("run created", "thread", threadID, "run", r.ID, "status", r.Status)

	deadline := time.Now().Add(maxWait)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("run: %w", ctx.Err())
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("run %s: no terminal state after %s: %w", r.ID, maxWait, ErrRunTimeout)
		}

		r, err = d.Runs.GetRun(ctx, threadID, r.ID)
		if err != nil {
			// Transient polling errors are tolerated until the deadline.
			d.Logger.Warn("run poll failed", "thread", threadID, "error", err)
			continue
		}

		switch r.Status {
		case protocol.RunFailed, protocol.RunCancelled, protocol.RunExpired:
			msg := r.LastError
			if msg == "" {
				msg = r.Status
			}
			return nil, fmt.Errorf("run %s: %s: %w", r.ID, msg, ErrRunFailed)

		case protocol.RunRequiresAction:
			d.answerRequiredAction(ctx, threadID, r)

		case protocol.RunCompleted:
			return d.collectDelta(ctx, threadID, tr, lenBefore, remoteBefore)
		}
	}
}

// answerRequiredAction dispatches every pending call and resubmits the
// results in one batch. A resubmission failure is logged and polling
// continues; the remote run either re-requests the action or fails on its
// own terms.
func (d *Driver) answerRequiredAction(ctx context.Context, threadID string, r protocol.Run) {
	d.Logger.Info("run requires action", "thread", threadID, "run", r.ID, "calls", len(r.PendingCalls))

	results := d.Tools.DispatchAll(ctx, r.PendingCalls)
	if err := d.Runs.SubmitToolOutputs(ctx, threadID, r.ID, results); err != nil {
		d.Logger.Error("tool output submission failed", "thread", threadID, "run", r.ID, "error", err)
	}
}

func (d *Driver) collectDelta(ctx context.Context, threadID string, tr *transcript.Transcript, lenBefore, remoteBefore int) ([]protocol.Turn, error) {
	listing, err := d.Runs.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("run: list messages: %w", err)
	}

	newCount := len(listing) - remoteBefore
	if newCount < 0 {
		newCount = 0
	}
	// The listing is newest first: the new suffix is the head.
	if _, err := tr.AppendRemote(listing[:newCount]); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	return tr.Delta(lenBefore), nil
}
