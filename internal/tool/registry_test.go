package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/oyalabs/sensei/pkg/protocol"
)

// echoTool returns its "text" parameter.
type echoTool struct{}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Echo text" }
func (t *echoTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{
		"text": map[string]any{"type": "string"},
	}}
}
func (t *echoTool) Execute(_ context.Context, params map[string]any) (string, error) {
	v, _ := params["text"].(string)
	return v, nil
}

type failingTool struct{}

func (t *failingTool) Name() string                { return "broken" }
func (t *failingTool) Description() string         { return "Always fails" }
func (t *failingTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (t *failingTool) Execute(context.Context, map[string]any) (string, error) {
	return "", fmt.Errorf("boom")
}

func TestDispatch_Registered(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&echoTool{})

	res := reg.Dispatch(context.Background(), protocol.ToolCall{
		ID:        "call_1",
		Name:      "echo",
		Arguments: map[string]any{"text": "hello"},
	})
	if res.CallID != "call_1" {
		t.Errorf("expected call id preserved, got %q", res.CallID)
	}
	if res.Output != "hello" {
		t.Errorf("expected 'hello', got %q", res.Output)
	}
}

func TestDispatch_UnknownToolSentinel(t *testing.T) {
	reg := NewRegistry(nil)

	res := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "call_9", Name: "doThing"})
	if res.Output != UnknownToolOutput {
		t.Errorf("expected sentinel output, got %q", res.Output)
	}
	if res.CallID != "call_9" {
		t.Errorf("expected call id preserved, got %q", res.CallID)
	}
}

func TestDispatch_ToolErrorDegrades(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&failingTool{})

	res := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c", Name: "broken"})
	if res.Output != "Error: boom" {
		t.Errorf("expected degraded error output, got %q", res.Output)
	}
}

func TestDispatchAll_OneResultPerCall(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&echoTool{})

	calls := []protocol.ToolCall{
		{ID: "a", Name: "echo", Arguments: map[string]any{"text": "1"}},
		{ID: "b", Name: "missing"},
		{ID: "c", Name: "echo", Arguments: map[string]any{"text": "3"}},
	}
	results := reg.DispatchAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, call := range calls {
		if results[i].CallID != call.ID {
			t.Errorf("result %d: expected call id %q, got %q", i, call.ID, results[i].CallID)
		}
	}
	if results[1].Output != UnknownToolOutput {
		t.Errorf("expected sentinel for unknown tool, got %q", results[1].Output)
	}
}

func TestRegister_LastWriterWins(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&echoTool{})
	reg.Register(&echoOverride{})

	res := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "x", Name: "echo"})
	if res.Output != "override" {
		t.Errorf("expected last registration to win, got %q", res.Output)
	}
}

type echoOverride struct{ echoTool }

func (t *echoOverride) Execute(context.Context, map[string]any) (string, error) {
	return "override", nil
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments(`{"prompt": "swap eth", "chainId": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["prompt"] != "swap eth" {
		t.Errorf("unexpected args: %v", args)
	}

	args, err = ParseArguments("")
	if err != nil || len(args) != 0 {
		t.Errorf("expected empty map for empty payload, got %v, %v", args, err)
	}

	if _, err := ParseArguments("{not json"); err == nil {
		t.Error("expected error for malformed payload")
	}
}
