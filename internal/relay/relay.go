package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oyalabs/sensei/internal/retry"
)

const (
	relayAttempts = 5
	relayDelay    = time.Second
)

// SignedIntention is a user-signed transaction intention forwarded to the
// relayer for onchain execution.
type SignedIntention struct {
	Address   string `json:"address"`
	Intention string `json:"intention"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

// Receipt is the relayer's acknowledgement of a submitted intention.
type Receipt struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

// Relay forwards signed intentions to the relayer endpoint, retrying
// transient failures.
type Relay struct {
	URL    string
	APIKey string
	Client *http.Client
	Logger *slog.Logger
}

// NewRelay creates a Relay against url.
func NewRelay(url, apiKey string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: rpcTimeout},
		Logger: logger,
	}
}

// PostIntention submits a signed intention, retrying up to 5 times at a
// fixed 1s cadence before giving up.
func (r *Relay) PostIntention(ctx context.Context, in SignedIntention) (*Receipt, error) {
	if r.URL == "" {
		return nil, fmt.Errorf("relay: no relayer endpoint configured")
	}

	receipt, err := retry.Do(ctx, relayAttempts, relayDelay, func(ctx context.Context) (*Receipt, error) {
		rc, err := r.post(ctx, in)
		if err != nil {
			r.Logger.Warn("intention submission failed, will retry", "address", in.Address, "error", err)
		}
		return rc, err
	})
	if err != nil {
		return nil, fmt.Errorf("relay: post intention: %w", err)
	}
	r.Logger.Info("intention relayed", "address", in.Address, "hash", receipt.Hash)
	return receipt, nil
}

func (r *Relay) post(ctx context.Context, in SignedIntention) (*Receipt, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal intention: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relayer request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read relayer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relayer status %d: %s", resp.StatusCode, string(body))
	}

	var rc Receipt
	if err := json.Unmarshal(body, &rc); err != nil {
		return nil, fmt.Errorf("parse relayer response: %w", err)
	}
	return &rc, nil
}
