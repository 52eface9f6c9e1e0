// Package webhook accepts authenticated HTTP callbacks and turns them into
// companion prompts. Callers get the request ticket ID back and poll
// /api/status/{id} for the result, so webhook deliveries never block on
// the model.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oyalabs/sensei/internal/companion"
	"github.com/oyalabs/sensei/internal/connector"
)

// Config holds webhook connector configuration.
type Config struct {
	// Endpoints maps endpoint names to their auth settings.
	// e.g., {"github": {"secret": "whsec_abc123"}}
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint webhook configuration.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256 header).
	// If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Payload is the expected JSON body for webhook requests.
type Payload struct {
	SenderID string         `json:"sender_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Handler serves webhook endpoints at /api/webhook/{name}.
type Handler struct {
	config Config
	svc    connector.Submitter
	logger *slog.Logger
}

// New creates a new webhook handler submitting prompts through svc.
func New(cfg Config, svc connector.Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config: cfg,
		svc:    svc,
		logger: logger,
	}
}

// ServeHTTP handles webhook requests at /api/webhook/{name}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := extractName(r.URL.Path)
	if name == "" {
		http.Error(w, "missing endpoint name in path", http.StatusBadRequest)
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown webhook endpoint: %s", name), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, endpoint, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	// Carry metadata inline so the model sees it alongside the content.
	content := payload.Content
	if len(payload.Metadata) > 0 {
		metaJSON, _ := json.Marshal(payload.Metadata)
		content = fmt.Sprintf("%s\n\n[Webhook metadata: %s]", content, string(metaJSON))
	}

	// Each sender keeps its own transcript; anonymous deliveries share
	// the endpoint's session.
	address := "webhook:" + name
	if payload.SenderID != "" {
		address = "webhook:" + name + ":" + payload.SenderID
	}

	id, err := h.svc.SubmitPrompt(address, content, companion.TargetChat)
	if err != nil {
		h.logger.Error("webhook submit failed", "endpoint", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook accepted", "endpoint", name, "request_id", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"request_id": id})
}

func (h *Handler) authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	// HMAC signature verification
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}

	// Bearer token
	if endpoint.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return auth == "Bearer "+endpoint.BearerToken
	}

	// No auth configured: allow (for development)
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature.
// Signature format: "sha256=<hex>"
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	expectedMAC, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computedMAC := mac.Sum(nil)

	return hmac.Equal(computedMAC, expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ComputeSignature generates an HMAC-SHA256 signature for testing/external use.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
