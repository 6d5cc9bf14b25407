package store

import (
	"context"
	"errors"

	"github.com/seantiz/gamehost/internal/model"
)

var (
	// ErrNotFound is returned when a user or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when registering an e-mail that is already taken.
	ErrDuplicate = errors.New("already exists")
	// ErrInvalidCredentials is returned when an e-mail/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTransition is returned when a session status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SessionStats holds aggregate session statistics.
type SessionStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	TotalAborts   int            `json:"total_aborts"`
	AvgHostedMS   float64        `json:"avg_hosted_ms"`
	OnlineUsers   int            `json:"online_users"`
}

// Store defines the persistence operations for users and sessions.
type Store interface {
	CreateUser(ctx context.Context, name, email, password string) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	SetUserStatus(ctx context.Context, id string, status model.OnlineStatus) error

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*model.Session, int, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
	RecordSessionUsage(ctx context.Context, id string, u model.SessionUsage) error
	GetSessionStats(ctx context.Context) (*SessionStats, error)

	// Ping reports whether the database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
