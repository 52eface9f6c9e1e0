package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/oyalabs/sensei/pkg/protocol"
)

// UnknownToolOutput is returned as the tool result when a run requests a
// name nobody registered. A single unknown tool degrades to this visible
// output instead of aborting the whole run.
const UnknownToolOutput = "We had an issue calling an external function."

// Registry holds registered tools and dispatches run tool calls.
// Registration is last-writer-wins.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns the names of all registered tools.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns all tools in OpenAI function-calling format.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]protocol.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, protocol.NewToolDefinition(
			t.Name(),
			t.Description(),
			t.Parameters(),
		))
	}
	return defs
}

// Dispatch answers one tool call. Unknown names and tool errors both degrade
// to readable output strings so the run keeps going; the output is what the
// model sees.
func (r *Registry) Dispatch(ctx context.Context, call protocol.ToolCall) protocol.ToolResult {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return protocol.ToolResult{CallID: call.ID, Output: UnknownToolOutput}
	}

	out, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return protocol.ToolResult{CallID: call.ID, Output: "Error: " + err.Error()}
	}
	return protocol.ToolResult{CallID: call.ID, Output: out}
}

// DispatchAll answers every pending call in order, one result per call.
func (r *Registry) DispatchAll(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.Dispatch(ctx, call))
	}
	return results
}

// ParseArguments decodes the JSON argument payload of a remote tool call.
// The remote protocol sends arguments as a named object; tools read them by
// name, never by declaration order.
func ParseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
