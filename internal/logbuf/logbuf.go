// Package logbuf keeps a bounded in-memory tail of the daemon's logs so
// the admin API can show recent activity without a log shipper.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed-size ring of log entries. Writes overwrite the
// oldest entry once the ring is full.
type Buffer struct {
	mu    sync.Mutex
	ring  []Entry
	next  int
	count int
}

// New creates a ring holding up to size entries.
func New(size int) *Buffer {
	return &Buffer{ring: make([]Entry, size)}
}

// Write appends an entry, evicting the oldest when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	b.mu.Unlock()
}

// Tail returns up to limit of the newest entries at or above minLevel,
// oldest first. A limit of 0 or less returns all matches.
func (b *Buffer) Tail(minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == len(b.ring) {
		start = b.next
	}

	var out []Entry
	for i := 0; i < b.count; i++ {
		e := b.ring[(start+i)%len(b.ring)]
		if levelFromString(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Since returns entries recorded at or after t, oldest first.
func (b *Buffer) Since(t time.Time) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == len(b.ring) {
		start = b.next
	}

	var out []Entry
	for i := 0; i < b.count; i++ {
		e := b.ring[(start+i)%len(b.ring)]
		if e.Time.Before(t) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func levelFromString(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
