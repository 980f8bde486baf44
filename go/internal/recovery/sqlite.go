package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pulsefit/groupsync/go/internal/models"
	_ "modernc.org/sqlite"
)

// SQLitePointerStore keeps the active-lobby pointer in a small on-device
// SQLite database so it survives process restarts.
type SQLitePointerStore struct {
	db   *sql.DB
	path string
}

var _ PointerStore = (*SQLitePointerStore)(nil)

// OpenSQLite opens or creates the pointer database in the given
// directory.
func OpenSQLite(dir string) (*SQLitePointerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dbPath := filepath.Join(dir, "groupsync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL survives a mid-write crash, which is the whole point of this store.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS active_lobby (
			user_id    TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			group_id   TEXT NOT NULL,
			saved_at   DATETIME NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create active_lobby table: %w", err)
	}

	return &SQLitePointerStore{db: db, path: dbPath}, nil
}

// Close closes the database.
func (s *SQLitePointerStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLitePointerStore) Path() string {
	return s.path
}

// Save upserts the pointer for its user.
func (s *SQLitePointerStore) Save(ctx context.Context, ptr models.ActiveLobbyPointer) error {
	savedAt := ptr.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO active_lobby (user_id, session_id, group_id, saved_at)
		VALUES (?, ?, ?, ?)
	`, ptr.UserID, ptr.SessionID, ptr.GroupID, savedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save active lobby pointer: %w", err)
	}
	return nil
}

// Load returns the pointer for a user, if one exists.
func (s *SQLitePointerStore) Load(ctx context.Context, userID string) (models.ActiveLobbyPointer, bool, error) {
	var ptr models.ActiveLobbyPointer
	var savedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, group_id, saved_at FROM active_lobby WHERE user_id = ?
	`, userID).Scan(&ptr.UserID, &ptr.SessionID, &ptr.GroupID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActiveLobbyPointer{}, false, nil
	}
	if err != nil {
		return models.ActiveLobbyPointer{}, false, fmt.Errorf("load active lobby pointer: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339, savedAt); perr == nil {
		ptr.SavedAt = t
	}
	return ptr, true, nil
}

// Clear removes the pointer for a user. Clearing an absent pointer is
// not an error.
func (s *SQLitePointerStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_lobby WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear active lobby pointer: %w", err)
	}
	return nil
}
