package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/oyalabs/sensei/internal/tool"
	"github.com/oyalabs/sensei/pkg/protocol"
)

// OpenAIProvider implements the chat, run, and speech collaborator contracts
// against any OpenAI-compatible API.
type OpenAIProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	model        string
	whisperModel string
	ttsModel     string
	ttsVoice     string
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = url }
}

// WithModel sets the default chat/assistant model.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

// WithWhisperModel sets the transcription model.
func WithWhisperModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.whisperModel = model }
}

// WithTTSVoice sets the speech synthesis voice.
func WithTTSVoice(voice string) OpenAIOption {
	return func(p *OpenAIProvider) { p.ttsVoice = voice }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

// NewOpenAI creates a new OpenAI-compatible provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client:       &http.Client{Timeout: 120 * time.Second},
		baseURL:      "https://api.openai.com/v1",
		apiKey:       apiKey,
		model:        "gpt-4o",
		whisperModel: "whisper-1",
		ttsModel:     "tts-1",
		ttsVoice:     "alloy",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Model returns the configured default model.
func (p *OpenAIProvider) Model() string { return p.model }

// --- ChatProvider ---

func (p *OpenAIProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := chatRequest{
		Model:    model,
		Messages: toWireMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	var resp chatResponse
	if err := p.doJSON(ctx, http.MethodPost, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	msg := resp.Choices[0].Message
	return &protocol.ChatResponse{
		Role:    msg.Role,
		Content: msg.Content,
		Usage: protocol.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// --- RunProvider (assistants v2) ---

func (p *OpenAIProvider) CreateAssistant(ctx context.Context, name, instructions, model string, tools []protocol.ToolDefinition) (string, error) {
	if model == "" {
		model = p.model
	}
	body := assistantRequest{
		Name:         name,
		Instructions: instructions,
		Model:        model,
		Tools:        tools,
	}
	var resp idResponse
	if err := p.doJSON(ctx, http.MethodPost, "/assistants", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (string, error) {
	var resp idResponse
	if err := p.doJSON(ctx, http.MethodPost, "/threads", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (p *OpenAIProvider) PostMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	var resp idResponse
	return p.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, &resp)
}

func (p *OpenAIProvider) CreateRun(ctx context.Context, threadID, assistantID string) (protocol.Run, error) {
	body := map[string]string{"assistant_id": assistantID}
	var resp runResponse
	if err := p.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &resp); err != nil {
		return protocol.Run{}, err
	}
	return parseRun(threadID, &resp)
}

func (p *OpenAIProvider) GetRun(ctx context.Context, threadID, runID string) (protocol.Run, error) {
	var resp runResponse
	if err := p.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &resp); err != nil {
		return protocol.Run{}, err
	}
	return parseRun(threadID, &resp)
}

func (p *OpenAIProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, results []protocol.ToolResult) error {
	outputs := make([]toolOutput, len(results))
	for i, r := range results {
		outputs[i] = toolOutput{ToolCallID: r.CallID, Output: r.Output}
	}
	body := map[string]any{"tool_outputs": outputs}
	var resp runResponse
	return p.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", body, &resp)
}

func (p *OpenAIProvider) ListMessages(ctx context.Context, threadID string) ([]protocol.ThreadMessage, error) {
	var resp messageListResponse
	if err := p.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &resp); err != nil {
		return nil, err
	}

	// The API returns messages newest first; keep that order, callers
	// reverse when appending.
	msgs := make([]protocol.ThreadMessage, len(resp.Data))
	for i, m := range resp.Data {
		blocks := make([]protocol.ContentBlock, len(m.Content))
		for j, c := range m.Content {
			blocks[j] = protocol.ContentBlock{Type: c.Type, Text: c.Text.Value}
		}
		msgs[i] = protocol.ThreadMessage{Role: m.Role, Content: blocks}
	}
	return msgs, nil
}

// --- SpeechProvider ---

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("openai: transcribe form: %w", err)
	}
	w.WriteField("model", p.whisperModel)
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	respBody, err := p.do(req)
	if err != nil {
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("openai: parse transcription: %w", err)
	}
	return result.Text, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body := map[string]string{
		"model": p.ttsModel,
		"input": text,
		"voice": p.ttsVoice,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.do(req)
}

// --- HTTP plumbing ---

func (p *OpenAIProvider) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("openai: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	respBody, err := p.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("openai: unmarshal response: %w", err)
	}
	return nil
}

func (p *OpenAIProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func parseRun(threadID string, resp *runResponse) (protocol.Run, error) {
	run := protocol.Run{
		ID:       resp.ID,
		ThreadID: threadID,
		Status:   resp.Status,
	}
	if resp.LastError != nil {
		run.LastError = resp.LastError.Message
	}

	if resp.Status == protocol.RunRequiresAction && resp.RequiredAction != nil {
		for _, tc := range resp.RequiredAction.SubmitToolOutputs.ToolCalls {
			args, err := tool.ParseArguments(tc.Function.Arguments)
			if err != nil {
				return protocol.Run{}, fmt.Errorf("openai: tool call %s arguments: %w", tc.ID, err)
			}
			run.PendingCalls = append(run.PendingCalls, protocol.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
	}
	return run, nil
}

// --- wire format types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(msgs []protocol.ChatMessage) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type assistantRequest struct {
	Name         string                    `json:"name"`
	Instructions string                    `json:"instructions"`
	Model        string                    `json:"model"`
	Tools        []protocol.ToolDefinition `json:"tools,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

type runResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type toolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type messageListResponse struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}
