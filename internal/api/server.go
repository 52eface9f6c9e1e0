// Package api exposes the companion over HTTP: prompt submission and
// polling, voice upload, session data, and the onchain helpers the web
// client uses.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oyalabs/sensei/internal/companion"
	"github.com/oyalabs/sensei/internal/logbuf"
	"github.com/oyalabs/sensei/internal/media"
	"github.com/oyalabs/sensei/internal/relay"
	"github.com/oyalabs/sensei/internal/session"
	"github.com/oyalabs/sensei/internal/store"
	"github.com/oyalabs/sensei/internal/ticket"
)

// sessionHeader carries the caller's wallet address on session-scoped
// endpoints.
const sessionHeader = "X-Session-Address"

const maxAudioUpload = 25 << 20

// CompanionService is what the server needs from the orchestrator.
type CompanionService interface {
	SubmitPrompt(address, prompt string, target companion.Target) (string, error)
	SubmitAudio(address string, audio []byte, filename string, target companion.Target) (string, error)
	Poll(id string) (ticket.Ticket, error)
}

// Config holds HTTP server settings.
type Config struct {
	Host string
	Port int
	Key  string // admin API key for Bearer auth on /api/logs
	// PriceTokens is the default quote set for /api/token-prices.
	PriceTokens []string
}

// Server is the sensei HTTP server.
type Server struct {
	svc      CompanionService
	sessions *session.Manager
	store    *store.Store
	relay    *relay.Relay
	chain    *relay.ChainClient
	prices   *relay.PriceFeed
	media    *media.Store
	logs     *logbuf.Buffer
	cfg      Config
	logger   *slog.Logger
	srv      *http.Server
}

// Options wires the server's collaborators. svc and sessions are
// required; nil optional collaborators disable their endpoints.
type Options struct {
	Service  CompanionService
	Sessions *session.Manager
	Store    *store.Store
	Relay    *relay.Relay
	Chain    *relay.ChainClient
	Prices   *relay.PriceFeed
	Media    *media.Store
	Logs     *logbuf.Buffer
	Logger   *slog.Logger
	// Webhooks, when set, is mounted at /api/webhook/{name}.
	Webhooks http.Handler
}

// NewServer creates the API server.
func NewServer(cfg Config, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      opts.Service,
		sessions: opts.Sessions,
		store:    opts.Store,
		relay:    opts.Relay,
		chain:    opts.Chain,
		prices:   opts.Prices,
		media:    opts.Media,
		logs:     opts.Logs,
		cfg:      cfg,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/prompt", s.requireSession(s.handlePrompt))
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/upload-audio", s.requireSession(s.handleUploadAudio))
	mux.HandleFunc("GET /api/audio/{name}", s.handleAudio)
	mux.HandleFunc("GET /api/system-prompt", s.handleGetSystemPrompt)
	mux.HandleFunc("POST /api/system-prompt", s.handleSetSystemPrompt)
	mux.HandleFunc("GET /api/history", s.requireSession(s.handleHistory))
	mux.HandleFunc("GET /api/contacts", s.requireSession(s.handleContacts))
	mux.HandleFunc("POST /api/update-contact", s.requireSession(s.handleUpdateContact))
	mux.HandleFunc("GET /api/nonce/{address}", s.handleGetNonce)
	mux.HandleFunc("POST /api/nonce/{address}", s.handleIssueNonce)
	mux.HandleFunc("POST /api/send-signed-intention", s.requireSession(s.handleSendIntention))
	mux.HandleFunc("GET /api/token-prices", s.handleTokenPrices)
	mux.HandleFunc("GET /api/balances", s.requireSession(s.handleBalances))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleLogs))
	if opts.Webhooks != nil {
		mux.Handle("POST /api/webhook/{name}", opts.Webhooks)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+sessionHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession rejects requests without a session address header.
func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := strings.TrimSpace(r.Header.Get(sessionHeader))
		if address == "" {
			writeError(w, http.StatusForbidden, "session address required")
			return
		}
		next(w, r, address)
	}
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin establishes the session for address so later calls carrying
// the session header find a seeded transcript.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	s.sessions.Get(req.Address)
	s.logger.Info("session established", "address", req.Address)
	writeJSON(w, http.StatusOK, map[string]string{"address": req.Address})
}

type promptRequest struct {
	Prompt string `json:"prompt"`
	Target string `json:"target,omitempty"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request, address string) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	id, err := s.svc.SubmitPrompt(address, req.Prompt, parseTarget(req.Target))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tk, err := s.svc.Poll(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tk)
}

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request, address string) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload failed")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio upload")
		return
	}

	id, err := s.svc.SubmitAudio(address, audio, hdr.Filename, parseTarget(r.FormValue("target")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		writeError(w, http.StatusNotFound, "audio not available")
		return
	}
	path, err := s.media.Open(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "audio not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleGetSystemPrompt(w http.ResponseWriter, _ *http.Request) {
	prompt := s.sessions.SystemPrompt()
	if s.store != nil {
		if stored, err := s.store.SystemPrompt(); err == nil {
			prompt = stored
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleSetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if s.store != nil {
		if err := s.store.SetSystemPrompt(req.Prompt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.sessions.SetSystemPrompt(req.Prompt)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, address string) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.Message{})
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.store.History(address, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleContacts(w http.ResponseWriter, _ *http.Request, address string) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.Contact{})
		return
	}
	contacts, err := s.store.Contacts(address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request, address string) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "no contact storage configured")
		return
	}
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "name and address are required")
		return
	}

	err := s.store.UpsertContact(store.Contact{Owner: address, Name: req.Name, Address: req.Address})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleGetNonce returns the outstanding nonce for address, 404 when none
// has been issued or the last one was consumed.
func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "no nonce storage configured")
		return
	}
	nonce, err := s.store.Nonce(r.PathValue("address"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no nonce issued for this address")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nonce": nonce})
}

// handleIssueNonce mints a fresh nonce for address, replacing any
// outstanding one.
func (s *Server) handleIssueNonce(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "no nonce storage configured")
		return
	}
	address := r.PathValue("address")

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, http.StatusInternalServerError, "nonce generation failed")
		return
	}
	nonce := hex.EncodeToString(buf)

	if err := s.store.SetNonce(address, nonce); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nonce": nonce})
}

func (s *Server) handleSendIntention(w http.ResponseWriter, r *http.Request, address string) {
	if s.relay == nil || s.store == nil {
		writeError(w, http.StatusInternalServerError, "intention relay not configured")
		return
	}
	var req struct {
		Intention string `json:"intention"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Intention == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "intention and signature are required")
		return
	}

	// Each issued nonce authorizes exactly one submission.
	nonce, err := s.store.ConsumeNonce(address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusForbidden, "no nonce issued for this address")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	receipt, err := s.relay.PostIntention(r.Context(), relay.SignedIntention{
		Address:   address,
		Intention: req.Intention,
		Signature: req.Signature,
		Nonce:     nonce,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleBalances reports the session wallet's native balance, plus the
// balance of an ERC-20 token when ?token is given. Amounts are decimal
// strings in the smallest unit.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request, address string) {
	if s.chain == nil {
		writeError(w, http.StatusNotFound, "chain RPC not configured")
		return
	}

	native, err := s.chain.Balance(r.Context(), address)
	if err != nil {
		s.logger.Warn("balance lookup failed", "address", address, "error", err)
		writeError(w, http.StatusBadGateway, "balance lookup failed")
		return
	}
	resp := map[string]string{"address": address, "balance": native.String()}

	if token := r.URL.Query().Get("token"); token != "" {
		tokenBal, err := s.chain.TokenBalance(r.Context(), token, address)
		if err != nil {
			s.logger.Warn("token balance lookup failed", "token", token, "error", err)
			writeError(w, http.StatusBadGateway, "token balance lookup failed")
			return
		}
		resp["token"] = token
		resp["token_balance"] = tokenBal.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTokenPrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusInternalServerError, "no price feed configured")
		return
	}
	tokens := s.cfg.PriceTokens
	if ids := r.URL.Query().Get("ids"); ids != "" {
		tokens = nil
		for _, t := range strings.Split(ids, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	if len(tokens) == 0 {
		writeError(w, http.StatusBadRequest, "no tokens requested")
		return
	}

	quotes, err := s.prices.Prices(r.Context(), tokens)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	entries := s.logs.Tail(minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func parseTarget(s string) companion.Target {
	if s == string(companion.TargetAssistant) {
		return companion.TargetAssistant
	}
	return companion.TargetChat
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
