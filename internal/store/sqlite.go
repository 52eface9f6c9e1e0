// Package store persists conversation history, the companion system prompt,
// contacts, and signing nonces in a single SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = errors.New("store: not found")

// Message is one persisted conversation turn for an address.
type Message struct {
	ID      int64
	Address string
	Role    string
	Content string
	SentAt  time.Time
}

// Contact is an address-book entry owned by a session address.
type Contact struct {
	Owner     string
	Name      string
	Address   string
	UpdatedAt time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL keeps poll reads from blocking behind worker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL,
			role    TEXT NOT NULL,
			content TEXT NOT NULL,
			sent_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS prompts (
			name       TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS contacts (
			owner      TEXT NOT NULL,
			name       TEXT NOT NULL,
			address    TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (owner, name)
		);

		CREATE TABLE IF NOT EXISTS nonces (
			address    TEXT PRIMARY KEY,
			nonce      TEXT NOT NULL,
			issued_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_address ON messages(address, sent_at);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendMessage records one conversation turn for an address.
func (s *Store) AppendMessage(address, role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (address, role, content, sent_at) VALUES (?, ?, ?, ?)`,
		address, role, content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// History returns up to limit turns for an address, oldest first. A limit
// of 0 or less returns everything.
func (s *Store) History(address string, limit int) ([]Message, error) {
	query := `SELECT id, address, role, content, sent_at FROM messages WHERE address = ? ORDER BY id`
	args := []any{address}
	if limit > 0 {
		// Keep the newest rows while still returning them oldest first.
		query = `SELECT id, address, role, content, sent_at FROM (
			SELECT id, address, role, content, sent_at FROM messages WHERE address = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.Address, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: history scan: %w", err)
		}
		m.SentAt, _ = time.Parse(time.RFC3339, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SystemPrompt returns the stored companion prompt, or ErrNotFound when
// none has been saved yet.
func (s *Store) SystemPrompt() (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM prompts WHERE name = 'system'`).Scan(&content)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: system prompt: %w", err)
	}
	return content, nil
}

// SetSystemPrompt saves (or replaces) the companion prompt.
func (s *Store) SetSystemPrompt(content string) error {
	_, err := s.db.Exec(`
		INSERT INTO prompts (name, content, updated_at) VALUES ('system', ?, ?)
		ON CONFLICT(name) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at
	`, content, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: set system prompt: %w", err)
	}
	return nil
}

// Contacts returns the address book for an owner, ordered by name.
func (s *Store) Contacts(owner string) ([]Contact, error) {
	rows, err := s.db.Query(
		`SELECT owner, name, address, updated_at FROM contacts WHERE owner = ? ORDER BY name`, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("store: contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var ts string
		if err := rows.Scan(&c.Owner, &c.Name, &c.Address, &ts); err != nil {
			return nil, fmt.Errorf("store: contacts scan: %w", err)
		}
		c.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertContact inserts a contact or replaces the address of an existing
// name for the same owner.
func (s *Store) UpsertContact(c Contact) error {
	if c.Owner == "" || c.Name == "" {
		return fmt.Errorf("store: upsert contact: owner and name required")
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (owner, name, address, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET address=excluded.address, updated_at=excluded.updated_at
	`, c.Owner, c.Name, c.Address, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: upsert contact: %w", err)
	}
	return nil
}

// DeleteContact removes a contact. Missing rows are not an error.
func (s *Store) DeleteContact(owner, name string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("store: delete contact: %w", err)
	}
	return nil
}

// SetNonce stores the current signing nonce for an address, replacing any
// previous one.
func (s *Store) SetNonce(address, nonce string) error {
	_, err := s.db.Exec(`
		INSERT INTO nonces (address, nonce, issued_at) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET nonce=excluded.nonce, issued_at=excluded.issued_at
	`, address, nonce, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: set nonce: %w", err)
	}
	return nil
}

// Nonce returns the current signing nonce for an address.
func (s *Store) Nonce(address string) (string, error) {
	var nonce string
	err := s.db.QueryRow(`SELECT nonce FROM nonces WHERE address = ?`, address).Scan(&nonce)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: nonce: %w", err)
	}
	return nonce, nil
}

// ConsumeNonce returns and deletes the nonce for an address, so each
// issued nonce verifies at most one signature.
func (s *Store) ConsumeNonce(address string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("store: consume nonce: %w", err)
	}
	defer tx.Rollback()

	var nonce string
	err = tx.QueryRow(`SELECT nonce FROM nonces WHERE address = ?`, address).Scan(&nonce)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: consume nonce: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM nonces WHERE address = ?`, address); err != nil {
		return "", fmt.Errorf("store: consume nonce: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: consume nonce: %w", err)
	}
	return nonce, nil
}
