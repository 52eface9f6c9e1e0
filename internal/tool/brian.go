package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBrianURL = "https://us-api.brianknows.org/api/v0/agent/transaction"

// BrianTool asks the Brian agent API to turn a natural-language prompt into
// a transaction intent for the caller's wallet.
type BrianTool struct {
	APIKey string
	URL    string // override for tests
	Client *http.Client
}

func (t *BrianTool) Name() string { return "call_brian_api" }
func (t *BrianTool) Description() string {
	return "Build a blockchain transaction from a natural language prompt"
}
func (t *BrianTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":  map[string]any{"type": "string", "description": "What the user wants to do on-chain"},
			"address": map[string]any{"type": "string", "description": "The user's wallet address"},
			"chainId": map[string]any{"type": "number", "description": "EVM chain id"},
		},
		"required": []string{"prompt", "address", "chainId"},
	}
}

func (t *BrianTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	prompt := getString(params, "prompt")
	address := getString(params, "address")
	chainID, _ := getNumber(params, "chainId")
	if prompt == "" || address == "" {
		return "", fmt.Errorf("call_brian_api: prompt and address are required")
	}
	// Degrade to a readable tool output rather than failing the run.
	if t.APIKey == "" {
		return "API key not set.", nil
	}

	url := t.URL
	if url == "" {
		url = defaultBrianURL
	}

	payload, err := json.Marshal(map[string]any{
		"prompt":  prompt,
		"address": address,
		"chainId": int64(chainID),
	})
	if err != nil {
		return "", fmt.Errorf("call_brian_api: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("call_brian_api: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-brian-api-key", t.APIKey)

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "Failed to receive a valid response from the Brian API.", nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("call_brian_api: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Brian API error (status %d): %s", resp.StatusCode, string(body)), nil
	}
	return string(body), nil
}
