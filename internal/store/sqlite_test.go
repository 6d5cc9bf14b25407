package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/gamehost/internal/model"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", WithHashCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestSession() *model.Session {
	return &model.Session{
		ID:        model.NewID(),
		Kind:      "ludo",
		Status:    model.SessionOpen,
		Capacity:  4,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, " Ada ", "Ada@Example.com", "hunter2")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Name != "Ada" {
		t.Errorf("Name = %q, want %q", u.Name, "Ada")
	}
	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want %q", u.Email, "ada@example.com")
	}
	if u.PasswordHash == "hunter2" {
		t.Error("password stored in clear text")
	}
	if u.Status != model.Online {
		t.Errorf("Status = %v, want online", u.Status)
	}

	got, err := s.Authenticate(ctx, "ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %q, want %q", got.ID, u.ID)
	}

	byID, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if byID.Email != u.Email {
		t.Errorf("Email = %q, want %q", byID.Email, u.Email)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "Ada", "ada@example.com", "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, err := s.CreateUser(ctx, "Other", "ADA@example.com", "pw2")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("CreateUser error = %v, want ErrDuplicate", err)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "Ada", "ada@example.com", "right"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "ada@example.com", "wrong"},
		{"unknown email", "bob@example.com", "right"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Authenticate(ctx, tt.email, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Authenticate error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestSetUserStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Ada", "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.SetUserStatus(ctx, u.ID, model.Offline); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Status != model.Offline {
		t.Errorf("Status = %v, want offline", got.Status)
	}

	if err := s.SetUserStatus(ctx, "missing", model.Online); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetUserStatus(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := makeTestSession()

	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Kind != "ludo" || got.Capacity != 4 || got.Status != model.SessionOpen {
		t.Errorf("GetSession = %+v", got)
	}
	if got.StartedAt != nil || got.ClosedAt != nil {
		t.Errorf("timestamps set on a new session: %+v", got)
	}

	if _, err := s.GetSession(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession error = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := makeTestSession()
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.UpdateSessionStatus(ctx, sess.ID, model.SessionStarted); err != nil {
		t.Fatalf("UpdateSessionStatus(started): %v", err)
	}
	if err := s.UpdateSessionStatus(ctx, sess.ID, model.SessionClosed); err != nil {
		t.Fatalf("UpdateSessionStatus(closed): %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != model.SessionClosed {
		t.Errorf("Status = %q, want %q", got.Status, model.SessionClosed)
	}
	if got.StartedAt == nil || got.ClosedAt == nil {
		t.Errorf("StartedAt/ClosedAt not set: %+v", got)
	}

	err = s.UpdateSessionStatus(ctx, sess.ID, model.SessionStarted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reopen error = %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateSessionStatus(ctx, "missing", model.SessionClosed); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSessionStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRecordSessionUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := makeTestSession()
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.RecordSessionUsage(ctx, sess.ID, model.SessionUsage{Players: 3, Aborts: 1, HostedMS: 42}); err != nil {
		t.Fatalf("RecordSessionUsage: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Players != 3 || got.Aborts != 1 || got.HostedMS != 42 {
		t.Errorf("usage = (%d, %d, %d), want (3, 1, 42)", got.Players, got.Aborts, got.HostedMS)
	}

	if err := s.RecordSessionUsage(ctx, "missing", model.SessionUsage{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordSessionUsage(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListSessionsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := 0; i < 5; i++ {
		sess := makeTestSession()
		sess.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, sess.ID)
	}

	page, total, err := s.ListSessions(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Errorf("page order = [%s %s], want newest first", page[0].ID, page[1].ID)
	}

	page, _, err = s.ListSessions(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Errorf("last page = %v, want [%s]", page, ids[0])
	}
}

func TestListSessionsEmpty(t *testing.T) {
	s := newTestStore(t)

	page, total, err := s.ListSessions(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 0 || page == nil || len(page) != 0 {
		t.Errorf("ListSessions = (%v, %d), want empty non-nil slice", page, total)
	}
}

func TestGetSessionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []string{model.SessionOpen, model.SessionStarted, model.SessionStarted} {
		sess := makeTestSession()
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if status == model.SessionStarted {
			if err := s.UpdateSessionStatus(ctx, sess.ID, status); err != nil {
				t.Fatalf("UpdateSessionStatus: %v", err)
			}
		}
		if err := s.RecordSessionUsage(ctx, sess.ID, model.SessionUsage{Aborts: i, HostedMS: int64(10 * (i + 1))}); err != nil {
			t.Fatalf("RecordSessionUsage: %v", err)
		}
	}
	if _, err := s.CreateUser(ctx, "Ada", "ada@example.com", "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	stats, err := s.GetSessionStats(ctx)
	if err != nil {
		t.Fatalf("GetSessionStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.SessionOpen] != 1 || stats.CountByStatus[model.SessionStarted] != 2 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.TotalAborts != 3 {
		t.Errorf("TotalAborts = %d, want 3", stats.TotalAborts)
	}
	if stats.AvgHostedMS != 20 {
		t.Errorf("AvgHostedMS = %v, want 20", stats.AvgHostedMS)
	}
	if stats.OnlineUsers != 1 {
		t.Errorf("OnlineUsers = %d, want 1", stats.OnlineUsers)
	}
}

func TestGetSessionStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetSessionStats(context.Background())
	if err != nil {
		t.Fatalf("GetSessionStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgHostedMS != 0 || len(stats.CountByStatus) != 0 {
		t.Errorf("stats = %+v, want zero values", stats)
	}
}

func TestPing(t *testing.T) {
	s, err := NewSQLiteStore(":memory:", WithHashCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping on open store: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping on closed store succeeded")
	}
}
