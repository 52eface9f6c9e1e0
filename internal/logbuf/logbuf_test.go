package logbuf

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestRingOverwritesOldest(t *testing.T) {
	b := New(3)
	for i, msg := range []string{"one", "two", "three", "four"} {
		b.Write(Entry{Time: time.Now(), Level: "INFO", Message: msg})
		_ = i
	}

	got := b.Tail(slog.LevelDebug, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Message != "two" || got[2].Message != "four" {
		t.Errorf("expected oldest-first [two..four], got %v", got)
	}
}

func TestTailLevelFilterAndLimit(t *testing.T) {
	b := New(10)
	b.Write(Entry{Level: "DEBUG", Message: "noise"})
	b.Write(Entry{Level: "INFO", Message: "started"})
	b.Write(Entry{Level: "ERROR", Message: "boom"})
	b.Write(Entry{Level: "WARN", Message: "slow"})

	got := b.Tail(slog.LevelWarn, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "boom" || got[1].Message != "slow" {
		t.Errorf("unexpected entries %v", got)
	}

	got = b.Tail(slog.LevelDebug, 1)
	if len(got) != 1 || got[0].Message != "slow" {
		t.Errorf("expected newest entry only, got %v", got)
	}
}

func TestSince(t *testing.T) {
	b := New(10)
	cutoff := time.Now()
	b.Write(Entry{Time: cutoff.Add(-time.Minute), Message: "old"})
	b.Write(Entry{Time: cutoff.Add(time.Minute), Message: "new"})

	got := b.Since(cutoff)
	if len(got) != 1 || got[0].Message != "new" {
		t.Errorf("expected only the new entry, got %v", got)
	}
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	var out bytes.Buffer
	inner := slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn})
	buf := New(10)
	logger := slog.New(NewHandler(inner, buf))

	logger.Debug("quiet detail", "ticket", "t-1")
	logger.Error("loud failure")

	got := buf.Tail(slog.LevelDebug, 0)
	if len(got) != 2 {
		t.Fatalf("expected both records captured, got %d", len(got))
	}
	if got[0].Attrs["ticket"] != "t-1" {
		t.Errorf("expected attr captured, got %v", got[0].Attrs)
	}

	// The inner handler only saw the error.
	text := out.String()
	if !bytes.Contains(out.Bytes(), []byte("loud failure")) {
		t.Errorf("inner handler missed the error: %s", text)
	}
	if bytes.Contains(out.Bytes(), []byte("quiet detail")) {
		t.Errorf("inner handler should filter debug: %s", text)
	}
}

func TestHandlerGroupsAndErrors(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(bytes.NewBuffer(nil), nil), buf))

	logger.WithGroup("run").With("id", "r-1").Error("poll failed", "error", errors.New("socket closed"))

	got := buf.Tail(slog.LevelDebug, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Attrs["run.id"] != "r-1" {
		t.Errorf("expected group-qualified attr, got %v", got[0].Attrs)
	}
	if got[0].Attrs["run.error"] != "socket closed" {
		t.Errorf("expected error flattened to string, got %v", got[0].Attrs)
	}
}
