package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndOpen(t *testing.T) {
	s := NewStore(t.TempDir())

	path, err := s.Save("tick-1.mp3", []byte{0xFF, 0xF3})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Open("tick-1.mp3")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 2 || data[0] != 0xFF {
		t.Errorf("unexpected contents %v", data)
	}
}

func TestSaveFlattensPath(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	path, err := s.Save("../../etc/evil.mp3", []byte("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if path != filepath.Join(dir, "audio", "evil.mp3") {
		t.Errorf("expected flattened path, got %s", path)
	}
}

func TestOpenMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Open("nope.mp3"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Save("a.mp3", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete("a.mp3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete("a.mp3"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	oldPath, err := s.Save("old.mp3", []byte("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save("new.mp3", []byte("y")); err != nil {
		t.Fatalf("save: %v", err)
	}

	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := s.Prune(time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Open("old.mp3"); err == nil {
		t.Error("expected old file gone")
	}
	if _, err := s.Open("new.mp3"); err != nil {
		t.Errorf("expected new file kept: %v", err)
	}
}

func TestPruneMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nothing-here"))
	removed, err := s.Prune(time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op, got %d/%v", removed, err)
	}
}
