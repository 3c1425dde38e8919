// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns the messages table, id assignment and client-token uniqueness

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// busy_timeout is per-connection, so it goes in the DSN where every
	// connection the pool opens picks it up; writers then wait out
	// contention from sibling workers instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode: readers don't block the single writer, and the database
	// file is shared safely between worker processes. Persistent, so a
	// one-time Exec is enough.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the messages table if it doesn't exist.
// AUTOINCREMENT guarantees ids are strictly increasing and never reused,
// even after a crash; the UNIQUE constraint on client_token is the single
// enforcement point for submission idempotency.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_token TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Append inserts a new message and returns it with its assigned id.
// Concurrent appends racing on the same client token (from this or any
// sibling worker process) are serialized by the database: exactly one
// insert wins, the rest get ErrDuplicateToken.
func (s *SQLiteStore) Append(ctx context.Context, content, clientToken string) (*Message, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO messages (client_token, content, created_at)
		VALUES (?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		clientToken,
		content,
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateToken
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading assigned id: %w", err)
	}

	s.logger.Debug("appended message", "id", id, "token", clientToken)
	return &Message{
		ID:          id,
		ClientToken: clientToken,
		Content:     content,
		CreatedAt:   now,
	}, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// ReadAfter streams messages with id > offset in ascending id order.
// The result is pinned to the high-water mark observed when the call
// begins, so appends committed while the caller is still consuming rows
// never leak into this snapshot.
func (s *SQLiteStore) ReadAfter(ctx context.Context, offset int64, fn func(*Message) error) error {
	upper, err := s.LastID(ctx)
	if err != nil {
		return err
	}
	if upper <= offset {
		return nil
	}

	query := `
		SELECT id, client_token, content, created_at
		FROM messages
		WHERE id > ? AND id <= ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, offset, upper)
	if err != nil {
		return fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ClientToken, &msg.Content, &createdAtStr); err != nil {
			return fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return fmt.Errorf("parsing created_at: %w", err)
		}

		if err := fn(&msg); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating message rows: %w", err)
	}

	return nil
}

// LastID returns the highest assigned message id, or 0 when the log is empty.
func (s *SQLiteStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM messages`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("querying last id: %w", err)
	}
	return id, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
