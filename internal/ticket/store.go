// Package ticket tracks the lifecycle of asynchronous prompt work. A ticket
// is created when a prompt is accepted, moved to exactly one terminal state
// by the background worker, and consumed by the first poll that observes the
// terminal state.
package ticket

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned when a ticket does not exist, including after
	// a terminal ticket has been consumed by a poll.
	ErrNotFound = errors.New("ticket not found")
	// ErrDuplicate is returned by Create when the id is already in use.
	ErrDuplicate = errors.New("ticket already exists")
	// ErrTerminal guards against double completion of a finished ticket.
	ErrTerminal = errors.New("ticket already in a terminal state")
)

// Ticket is the record for one unit of async work.
type Ticket struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Result    any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an in-memory ticket map guarded by a mutex. It is passive: no
// background timers, the lifecycle is driven entirely by the worker and the
// poller. Sweep is called externally by the maintenance scheduler.
type Store struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
}

// NewStore creates an empty ticket store.
func NewStore() *Store {
	return &Store{tickets: make(map[string]*Ticket)}
}

// NewID generates a collision-resistant ticket id: unix-millis prefix for
// log ordering plus a random uuid suffix.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}

// Create registers a new ticket in the processing state.
func (s *Store) Create(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[id]; exists {
		return fmt.Errorf("ticket store: create %q: %w", id, ErrDuplicate)
	}
	s.tickets[id] = &Ticket{
		ID:        id,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
	}
	return nil
}

// Complete transitions a processing ticket to completed with the given result.
func (s *Store) Complete(id string, result any) error {
	return s.finish(id, StatusCompleted, result, "")
}

// Fail transitions a processing ticket to failed with a human-readable message.
func (s *Store) Fail(id string, msg string) error {
	return s.finish(id, StatusFailed, nil, msg)
}

func (s *Store) finish(id string, status Status, result any, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("ticket store: finish %q: %w", id, ErrNotFound)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("ticket store: finish %q: %w", id, ErrTerminal)
	}
	t.Status = status
	t.Result = result
	t.Error = msg
	return nil
}

// Poll returns the current record for id. A terminal ticket is removed after
// being returned, so each result is delivered to at most one poller and
// repeated polls after consumption yield ErrNotFound.
func (s *Store) Poll(id string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, fmt.Errorf("ticket store: poll %q: %w", id, ErrNotFound)
	}
	snapshot := *t
	if t.Status.Terminal() {
		delete(s.tickets, id)
	}
	return snapshot, nil
}

// Sweep removes tickets older than maxAge regardless of state, reclaiming
// records whose poller never returned. It reports how many were removed.
func (s *Store) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range s.tickets {
		if t.CreatedAt.Before(cutoff) {
			delete(s.tickets, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live tickets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
