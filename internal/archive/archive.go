// Package archive persists instruction outcomes in SQLite.
//
// The registry catalog stays in its JSON file; the archive is the
// append-mostly history behind "what happened to my last request" and
// the admin reporting endpoints.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Outcome is one completed (or failed) instruction.
type Outcome struct {
	ID           string
	UserID       string
	IntentKind   string
	Repository   string
	Branch       string
	Instruction  string
	FilesChanged []string
	CommitDone   bool
	Pushed       bool
	ErrorCode    string // empty on success
	AttemptCount int    // push invocations
	Output       string
	DurationMs   int64
	CreatedAt    int64 // unix ms
}

// Archive manages the SQLite outcome database.
type Archive struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// New opens (or creates) the database and runs migrations.
func New(dbPath string, logger zerolog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &Archive{
		db:     db,
		logger: logger.With().Str("component", "archive").Logger(),
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	a.logger.Info().Str("path", dbPath).Msg("archive initialized")
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		intent_kind TEXT NOT NULL,
		repository TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		instruction TEXT NOT NULL,
		files_changed TEXT NOT NULL DEFAULT '[]',
		commit_done INTEGER NOT NULL DEFAULT 0,
		pushed INTEGER NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_user ON outcomes(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_repo ON outcomes(repository, created_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_created ON outcomes(created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces an outcome.
func (a *Archive) Save(o *Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if o.CreatedAt == 0 {
		o.CreatedAt = time.Now().UnixMilli()
	}
	files, err := json.Marshal(o.FilesChanged)
	if err != nil {
		return fmt.Errorf("failed to encode files_changed: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO outcomes (
		id, user_id, intent_kind, repository, branch, instruction,
		files_changed, commit_done, pushed, error_code, attempt_count,
		output, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = a.db.Exec(query,
		o.ID, o.UserID, o.IntentKind, o.Repository, o.Branch, o.Instruction,
		string(files), boolToInt(o.CommitDone), boolToInt(o.Pushed),
		o.ErrorCode, o.AttemptCount, o.Output, o.DurationMs, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// Get retrieves one outcome by ID. Missing outcomes return (nil, nil).
func (a *Archive) Get(id string) (*Outcome, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	row := a.db.QueryRow(selectCols+` FROM outcomes WHERE id = ?`, id)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return o, nil
}

// ListRecent returns the newest outcomes first, optionally filtered by
// user. limit <= 0 defaults to 20.
func (a *Archive) ListRecent(userID string, limit int) ([]*Outcome, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	query := selectCols + ` FROM outcomes`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Prune deletes outcomes older than the cutoff and returns how many
// were removed.
func (a *Archive) Prune(olderThan time.Duration) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := a.db.Exec(`DELETE FROM outcomes WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outcomes: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		a.logger.Info().Int64("removed", n).Msg("pruned old outcomes")
	}
	return n, nil
}

const selectCols = `
	SELECT id, user_id, intent_kind, repository, branch, instruction,
	       files_changed, commit_done, pushed, error_code, attempt_count,
	       output, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (*Outcome, error) {
	o := &Outcome{}
	var files string
	var commitDone, pushed int
	if err := row.Scan(
		&o.ID, &o.UserID, &o.IntentKind, &o.Repository, &o.Branch, &o.Instruction,
		&files, &commitDone, &pushed, &o.ErrorCode, &o.AttemptCount,
		&o.Output, &o.DurationMs, &o.CreatedAt,
	); err != nil {
		return nil, err
	}
	o.CommitDone = commitDone != 0
	o.Pushed = pushed != 0
	if files != "" && files != "null" {
		if err := json.Unmarshal([]byte(strings.TrimSpace(files)), &o.FilesChanged); err != nil {
			return nil, fmt.Errorf("failed to decode files_changed: %w", err)
		}
	}
	return o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
