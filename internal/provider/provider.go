package provider

import (
	"context"

	"github.com/oyalabs/sensei/pkg/protocol"
)

// ChatProvider is the single-round-trip completion collaborator used by the
// chat target. No polling.
type ChatProvider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// RunProvider is the remote assistant/run protocol the run driver polls.
type RunProvider interface {
	CreateAssistant(ctx context.Context, name, instructions, model string, tools []protocol.ToolDefinition) (string, error)
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, role, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (protocol.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (protocol.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, results []protocol.ToolResult) error
	// ListMessages returns the full thread, newest first.
	ListMessages(ctx context.Context, threadID string) ([]protocol.ThreadMessage, error)
}

// SpeechProvider converts between audio and text.
type SpeechProvider interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
