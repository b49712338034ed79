package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrAccountNotFound is returned by operations that require an existing
// account. Any other store error indicates the storage layer itself is
// unavailable and should be treated as fatal for the current cycle.
var ErrAccountNotFound = errors.New("store: account not found")

// Store persists tracked accounts and their mirrored scrobbles in SQLite.
type Store struct {
	db *sql.DB
}

// Account pairs an application-assigned identifier with the Last.fm
// username whose history is mirrored for it.
type Account struct {
	ID         int64
	LastFMUser string
}

// Scrobble is one recorded play. Scrobbles are immutable once stored;
// (Title, Artist, Timestamp) identifies a play uniquely per account.
type Scrobble struct {
	Title     string
	Artist    string
	Album     string // may be empty, Last.fm omits it for some tracks
	URL       string
	Timestamp int64 // Unix seconds, assigned by Last.fm
}

// RepointOutcome reports what RepointAccount did.
type RepointOutcome int

const (
	RepointUpdated RepointOutcome = iota
	RepointUnchanged
	RepointNotFound
)

// String returns a human-readable outcome name.
func (o RepointOutcome) String() string {
	switch o {
	case RepointUpdated:
		return "updated"
	case RepointUnchanged:
		return "unchanged"
	case RepointNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// New opens (creating if necessary) a scrobble store at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool size to 1 for in-memory databases to ensure consistency
	// For file-based databases, this still works well for our use case
	db.SetMaxOpenConns(1)

	// Configure SQLite for optimal performance and safety
	pragmas := []string{
		"PRAGMA foreign_keys = ON",    // Enforce foreign keys (cascade delete relies on this)
		"PRAGMA busy_timeout = 10000", // Wait up to 10 seconds on lock
		"PRAGMA synchronous = NORMAL", // Balance between safety and performance
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrent access
		"PRAGMA temp_store = MEMORY",  // Use memory for temp tables
		"PRAGMA cache_size = -64000",  // 64MB cache
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	// Create the schema
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY,
			lastfm_user TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scrobbles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT,
			url TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			UNIQUE (account_id, title, artist, timestamp)
		);

		CREATE INDEX IF NOT EXISTS idx_scrobbles_account_ts ON scrobbles(account_id, timestamp);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RegisterAccount inserts a new tracked account. It returns false
// without error if an account already exists for the id; registration
// never overwrites an existing pairing.
func (s *Store) RegisterAccount(ctx context.Context, id int64, lastfmUser string) (bool, error) {
	query := `
		INSERT INTO accounts (id, lastfm_user)
		VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, id, lastfmUser)
	if err != nil {
		return false, fmt.Errorf("failed to register account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// RepointAccount points an existing account at a different Last.fm
// username. The old account row is deleted and a fresh one inserted in
// a single transaction, so the cascade removes every scrobble belonging
// to the prior username; an update-in-place would leave them silently
// attributed to the new identity.
//
// Repointing to the currently stored username is a no-op and reports
// RepointUnchanged.
func (s *Store) RepointAccount(ctx context.Context, id int64, newUser string) (RepointOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RepointNotFound, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT lastfm_user FROM accounts WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return RepointNotFound, nil
	}
	if err != nil {
		return RepointNotFound, fmt.Errorf("failed to look up account: %w", err)
	}

	if current == newUser {
		return RepointUnchanged, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id); err != nil {
		return RepointNotFound, fmt.Errorf("failed to delete account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO accounts (id, lastfm_user) VALUES (?, ?)", id, newUser); err != nil {
		return RepointNotFound, fmt.Errorf("failed to reinsert account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RepointNotFound, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return RepointUpdated, nil
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx, "SELECT id, lastfm_user FROM accounts WHERE id = ?", id).
		Scan(&a.ID, &a.LastFMUser)
	if err == sql.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to query account: %w", err)
	}
	return a, nil
}

// ListAccounts returns every tracked account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, lastfm_user FROM accounts ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.LastFMUser); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// LatestTimestamp returns the maximum stored scrobble timestamp for the
// account. ok is false when no scrobbles are stored. This is the resume
// cursor for incremental sync.
func (s *Store) LatestTimestamp(ctx context.Context, id int64) (ts int64, ok bool, err error) {
	var latest sql.NullInt64
	err = s.db.QueryRowContext(ctx, "SELECT MAX(timestamp) FROM scrobbles WHERE account_id = ?", id).
		Scan(&latest)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest timestamp: %w", err)
	}

	if !latest.Valid {
		return 0, false, nil
	}

	return latest.Int64, true, nil
}

// ScrobbleCount returns the number of scrobbles stored for the account.
func (s *Store) ScrobbleCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scrobbles WHERE account_id = ?", id).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scrobbles: %w", err)
	}
	return count, nil
}

// AppendScrobbles inserts a batch of scrobbles for the account in one
// transaction. Rows that would duplicate an already-stored play are
// skipped, never errored on: callers may resubmit an overlapping window
// after a partial failure and expect a per-duplicate no-op.
//
// lastfmUser is the username the batch was fetched for. The check
// inside the transaction closes a race with RepointAccount: the repoint
// reuses the internal id, so a bare existence check would let a sync
// already in flight for the old username attribute its plays to the new
// one.
//
// Returns ErrAccountNotFound, with no rows inserted, if the account
// does not exist or no longer tracks lastfmUser. The number of newly
// inserted rows is returned on success.
func (s *Store) AppendScrobbles(ctx context.Context, id int64, lastfmUser string, scrobbles []Scrobble) (int, error) {
	if len(scrobbles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT lastfm_user FROM accounts WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up account: %w", err)
	}
	if current != lastfmUser {
		return 0, ErrAccountNotFound
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scrobbles (account_id, title, artist, album, url, timestamp)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT (account_id, title, artist, timestamp) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, sc := range scrobbles {
		result, err := stmt.ExecContext(ctx, id, sc.Title, sc.Artist, sc.Album, sc.URL, sc.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("failed to insert scrobble: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}
