package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

type Kind string

const (
	KindScan   Kind = "scan"
	KindUpdate Kind = "update"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusClean     Status = "clean"
	StatusInfected  Status = "infected"
	StatusFailed    Status = "failed"
	StatusUpdated   Status = "updated"
	StatusAbandoned Status = "abandoned"
)

// Match is one infected path recorded for a session.
type Match struct {
	Path  string   `json:"path"`
	Rules []string `json:"rules,omitempty"`
}

// Session is one row of the sessions table.
type Session struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Trigger      string     `json:"trigger"`
	Path         string     `json:"path,omitempty"`
	UpdateFirst  bool       `json:"update_first"`
	Obfuscated   bool       `json:"obfuscated"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	LastProgress string     `json:"last_progress,omitempty"`
	MatchCount   int        `json:"match_count"`
	HashCount    *int64     `json:"hash_count,omitempty"`
	Error        string     `json:"error,omitempty"`
	Matches      []Match    `json:"matches,omitempty"`
}

// Finish describes how a session ended.
type Finish struct {
	Status       Status
	FinishedAt   time.Time
	LastProgress string
	Error        string
	Matches      []Match
	HashCount    *int64
}

// Store persists session history in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Begin inserts a running session.
func (s *Store) Begin(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, kind, trigger_by, path, update_first, obfuscated, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, 'running', ?)`,
		sess.ID, string(sess.Kind), sess.Trigger, sess.Path,
		sess.UpdateFirst, sess.Obfuscated, sess.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// Finish records the terminal state and any matches in one transaction.
func (s *Store) Finish(ctx context.Context, id string, f Finish) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish %s: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var hashCount sql.NullInt64
	if f.HashCount != nil {
		hashCount = sql.NullInt64{Int64: *f.HashCount, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, finished_at = ?, last_progress = ?, error = ?,
		    match_count = ?, hash_count = ?
		WHERE id = ? AND status = 'running'`,
		string(f.Status), f.FinishedAt.Unix(), f.LastProgress, f.Error,
		len(f.Matches), hashCount, id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish session %s: %w", id, ErrNotFound)
	}

	if len(f.Matches) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_matches (session_id, path, rules) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare matches: %w", err)
		}
		defer stmt.Close()
		for _, m := range f.Matches {
			if _, err := stmt.ExecContext(ctx, id, m.Path, strings.Join(m.Rules, ",")); err != nil {
				return fmt.Errorf("insert match %s: %w", m.Path, err)
			}
		}
	}
	return tx.Commit()
}

const selectSession = `
	SELECT id, kind, trigger_by, path, update_first, obfuscated, status,
	       started_at, finished_at, last_progress, match_count, hash_count, error
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		sess       Session
		kind       string
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
		hashCount  sql.NullInt64
	)
	err := r.Scan(&sess.ID, &kind, &sess.Trigger, &sess.Path, &sess.UpdateFirst, &sess.Obfuscated,
		&status, &startedAt, &finishedAt, &sess.LastProgress, &sess.MatchCount, &hashCount, &sess.Error)
	if err != nil {
		return Session{}, err
	}
	sess.Kind = Kind(kind)
	sess.Status = Status(status)
	sess.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		sess.FinishedAt = &t
	}
	if hashCount.Valid {
		n := hashCount.Int64
		sess.HashCount = &n
	}
	return sess, nil
}

// Get returns a session with its matches.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSession+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, rules FROM session_matches WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get matches %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m Match
		var rules string
		if err := rows.Scan(&m.Path, &rules); err != nil {
			return nil, err
		}
		if rules != "" {
			m.Rules = strings.Split(rules, ",")
		}
		sess.Matches = append(sess.Matches, m)
	}
	return &sess, rows.Err()
}

// List returns sessions newest first, plus the total count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectSession+` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, sess)
	}
	return items, total, rows.Err()
}

// LastFinished returns the most recent session that reached a terminal state, or nil.
func (s *Store) LastFinished(ctx context.Context) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		selectSession+` WHERE status != 'running' ORDER BY finished_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last session: %w", err)
	}
	return &sess, nil
}

// MarkStaleSessionsAbandoned closes sessions left 'running' by a previous
// process. Call once at startup.
func MarkStaleSessionsAbandoned(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE sessions
		SET status = 'abandoned', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale sessions as abandoned", "count", n)
	}
	return nil
}
