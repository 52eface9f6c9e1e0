// Package session tracks per-user conversation state. Each wallet address
// owns one session holding its transcript and remote assistant handles.
package session

import (
	"log/slog"
	"sync"

	"github.com/oyalabs/sensei/internal/transcript"
)

// Session is the state for one user. Work that mutates the session
// (posting a prompt, binding a thread) must run inside Do so concurrent
// submissions against the same address are serialized.
type Session struct {
	Address    string
	Transcript *transcript.Transcript

	workMu sync.Mutex

	mu          sync.Mutex
	assistantID string
	threadID    string
}

// Do runs fn while holding the session work lock. Different sessions
// proceed concurrently; calls against the same session queue behind each
// other. Thread and BindThread are safe to call from inside fn.
func (s *Session) Do(fn func() error) error {
	s.workMu.Lock()
	defer s.workMu.Unlock()
	return fn()
}

// Thread returns the bound remote assistant and thread IDs. Empty strings
// mean the session has not run against the assistant target yet.
func (s *Session) Thread() (assistantID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantID, s.threadID
}

// BindThread records the remote assistant and thread IDs for reuse on
// later runs.
func (s *Session) BindThread(assistantID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantID = assistantID
	s.threadID = threadID
}

// Manager hands out sessions keyed by address, creating them on first use
// with the current system prompt.
type Manager struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	systemPrompt string
	logger       *slog.Logger
}

// NewManager creates an empty manager seeding new sessions with systemPrompt.
func NewManager(systemPrompt string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:     make(map[string]*Session),
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// Get returns the session for address, creating it if needed.
func (m *Manager) Get(address string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[address]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[address]; ok {
		return s
	}
	s = &Session{
		Address:    address,
		Transcript: transcript.New(m.systemPrompt),
	}
	m.sessions[address] = s
	m.logger.Info("session created", "address", address)
	return s
}

// Lookup returns the session for address without creating one.
func (m *Manager) Lookup(address string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[address]
	return s, ok
}

// Remove drops a session. In-flight work holding the session lock
// finishes against the removed object.
func (m *Manager) Remove(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, address)
}

// List returns all active session addresses.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for addr := range m.sessions {
		out = append(out, addr)
	}
	return out
}

// SystemPrompt returns the prompt used to seed new sessions.
func (m *Manager) SystemPrompt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemPrompt
}

// SetSystemPrompt changes the prompt for sessions created from now on.
// Existing transcripts keep the prompt they were seeded with.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}
