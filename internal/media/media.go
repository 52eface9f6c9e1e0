// Package media stores generated audio files on disk, one file per
// ticket, under {dir}/audio/.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store writes and serves audio artifacts. Files live at
// {dir}/audio/{name}. Names are flattened to their base so callers
// cannot escape the directory.
type Store struct {
	dir string
}

// NewStore creates a media store rooted at dir. The audio directory is
// created on the first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes data to {dir}/audio/{name} and returns the full path.
func (s *Store) Save(name string, data []byte) (string, error) {
	audioDir := filepath.Join(s.dir, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return "", fmt.Errorf("media: mkdir: %w", err)
	}

	path := filepath.Join(audioDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}
	return path, nil
}

// Open returns the stored file's path if it exists.
func (s *Store) Open(name string) (string, error) {
	path := filepath.Join(s.dir, "audio", filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("media: open %s: %w", name, err)
	}
	return path, nil
}

// Delete removes a stored file. Missing files are not an error.
func (s *Store) Delete(name string) error {
	path := filepath.Join(s.dir, "audio", filepath.Base(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("media: delete %s: %w", name, err)
	}
	return nil
}

// Prune removes audio files older than maxAge and reports how many were
// deleted. Synthesized replies are only useful until the client fetches
// them, so the maintenance job sweeps stale ones.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	audioDir := filepath.Join(s.dir, "audio")
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("media: prune: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(audioDir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
