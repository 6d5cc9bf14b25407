package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/gamehost/internal/model"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    picture       TEXT NOT NULL DEFAULT '',
    status        INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL
)`

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    status     TEXT NOT NULL,
    capacity   INTEGER NOT NULL,
    players    INTEGER NOT NULL DEFAULT 0,
    aborts     INTEGER NOT NULL DEFAULT 0,
    hosted_ms  INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    started_at DATETIME,
    closed_at  DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	hashCost int
}

// Option customises a SQLiteStore.
type Option func(*SQLiteStore)

// WithHashCost sets the bcrypt cost used for new passwords.
func WithHashCost(cost int) Option {
	return func(s *SQLiteStore) { s.hashCost = cost }
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []struct{ name, sql string }{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"create users table", createUsersTable},
		{"create sessions table", createSessionsTable},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	s := &SQLiteStore{db: db, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a new user. The password is stored as a bcrypt hash.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, password string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		ID:           model.NewToken(),
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		Status:       model.Online,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE email = ?", u.Email).Scan(&n); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if n > 0 {
		return nil, ErrDuplicate
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, picture, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Picture, int(u.Status), u.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user: %w", err)
	}
	return u, nil
}

const selectUser = `SELECT id, name, email, password_hash, picture, status, created_at FROM users`

func scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var status int
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Picture, &status, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Status = model.OnlineStatus(status)
	return u, nil
}

// Authenticate returns the user with the given e-mail if password matches.
func (s *SQLiteStore) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+" WHERE email = ?", normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetUserStatus records whether a user is online.
func (s *SQLiteStore) SetUserStatus(ctx context.Context, id string, status model.OnlineStatus) error {
	result, err := s.db.ExecContext(ctx, "UPDATE users SET status = ? WHERE id = ?", int(status), id)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return requireRow(result)
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (
			id, kind, status, capacity, players, aborts, hosted_ms,
			created_at, started_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Kind, sess.Status, sess.Capacity, sess.Players, sess.Aborts, sess.HostedMS,
		sess.CreatedAt, sess.StartedAt, sess.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const selectSession = `SELECT id, kind, status, capacity, players, aborts, hosted_ms,
	created_at, started_at, closed_at FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	sess := &model.Session{}
	err := row.Scan(
		&sess.ID, &sess.Kind, &sess.Status, &sess.Capacity, &sess.Players, &sess.Aborts, &sess.HostedMS,
		&sess.CreatedAt, &sess.StartedAt, &sess.ClosedAt,
	)
	return sess, err
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSession+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns a page of sessions ordered by created_at DESC, along
// with the total count.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*model.Session, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectSession+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, total, nil
}

// UpdateSessionStatus moves a session to status, stamping started_at or
// closed_at. Transitions not allowed by model.ValidTransition fail with
// ErrInvalidTransition.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get session status: %w", err)
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch status {
	case model.SessionStarted:
		_, err = tx.ExecContext(ctx, "UPDATE sessions SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.SessionClosed:
		_, err = tx.ExecContext(ctx, "UPDATE sessions SET status = ?, closed_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session status: %w", err)
	}
	return nil
}

// RecordSessionUsage overwrites the usage counters of a session.
func (s *SQLiteStore) RecordSessionUsage(ctx context.Context, id string, u model.SessionUsage) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET players = ?, aborts = ?, hosted_ms = ? WHERE id = ?",
		u.Players, u.Aborts, u.HostedMS, id,
	)
	if err != nil {
		return fmt.Errorf("update session usage: %w", err)
	}
	return requireRow(result)
}

// GetSessionStats returns aggregate statistics across all sessions.
func (s *SQLiteStore) GetSessionStats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{CountByStatus: make(map[string]int)}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(aborts), 0), AVG(hosted_ms) FROM sessions",
	).Scan(&stats.Total, &stats.TotalAborts, &avg); err != nil {
		return nil, fmt.Errorf("aggregate sessions: %w", err)
	}
	stats.AvgHostedMS = avg.Float64

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM sessions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE status = ?", int(model.Online),
	).Scan(&stats.OnlineUsers); err != nil {
		return nil, fmt.Errorf("count online users: %w", err)
	}
	return stats, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
