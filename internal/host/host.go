package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/gamehost/internal/governor"
	"github.com/seantiz/gamehost/internal/model"
	"github.com/seantiz/gamehost/internal/session"
	"github.com/seantiz/gamehost/internal/store"
)

// maxJoinAttempts bounds create-or-join retries when a chosen room fills or
// closes between the scan and the seat.
const maxJoinAttempts = 3

// ErrHostedPanic wraps a panic raised by hosted logic.
var ErrHostedPanic = errors.New("hosted logic panicked")

// Store is the persistence the host needs.
type Store interface {
	CreateUser(ctx context.Context, name, email, password string) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	SetUserStatus(ctx context.Context, id string, status model.OnlineStatus) error
	CreateSession(ctx context.Context, s *model.Session) error
	UpdateSessionStatus(ctx context.Context, id, status string) error
	RecordSessionUsage(ctx context.Context, id string, u model.SessionUsage) error
}

// Options configures a Host.
type Options struct {
	// Kind selects the registered game hosted by this process.
	Kind string
	// ConstructionBudget replaces the governor's budgets for session
	// construction.
	ConstructionBudget time.Duration
	ReapInterval       time.Duration
	// MaxSessionAborts closes a session after this many forced terminations.
	// Zero never closes.
	MaxSessionAborts int
}

// Host owns the live sessions and routes connection events into their hosted
// logic through the governor.
type Host struct {
	gov    *governor.Governor
	game   session.Game
	store  Store
	opts   Options
	logger *slog.Logger
	events *EventBroker

	mu    sync.RWMutex
	rooms map[string]*session.Room
}

// New creates a Host for the game kind named in opts.
func New(gov *governor.Governor, games *session.Registry, st Store, opts Options, logger *slog.Logger) (*Host, error) {
	game, err := games.Get(opts.Kind)
	if err != nil {
		return nil, fmt.Errorf("resolve game: %w", err)
	}
	if opts.ReapInterval <= 0 {
		return nil, fmt.Errorf("reap interval must be positive, got %s", opts.ReapInterval)
	}
	return &Host{
		gov:    gov,
		game:   game,
		store:  st,
		opts:   opts,
		logger: logger,
		events: NewEventBroker(),
		rooms:  make(map[string]*session.Room),
	}, nil
}

// Events returns the session event broker.
func (h *Host) Events() *EventBroker {
	return h.events
}

// Rooms returns a snapshot of every live session, oldest first.
func (h *Host) Rooms() []session.Info {
	rooms := h.snapshot()
	infos := make([]session.Info, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	return infos
}

// Room returns a snapshot of one live session.
func (h *Host) Room(id string) (session.Info, bool) {
	r := h.room(id)
	if r == nil {
		return session.Info{}, false
	}
	return r.Info(), true
}

func (h *Host) room(id string) *session.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[id]
}

func (h *Host) snapshot() []*session.Room {
	h.mu.RLock()
	rooms := make([]*session.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt().Equal(rooms[j].CreatedAt()) {
			return rooms[i].CreatedAt().Before(rooms[j].CreatedAt())
		}
		return rooms[i].ID() < rooms[j].ID()
	})
	return rooms
}

func (h *Host) publish(typ, sessionID, userID, detail string) {
	h.events.Publish(Event{
		Type:      typ,
		SessionID: sessionID,
		UserID:    userID,
		Detail:    detail,
		Time:      time.Now().UTC(),
	})
}

// Connected acknowledges a new connection.
func (h *Host) Connected(_ context.Context, c *Client) {
	eventsTotal.WithLabelValues("connected").Inc()
	h.logger.Debug("client connected", "client_id", c.ID())
	c.Send(session.Message{Action: session.ActionConnectionOK})
}

// Disconnected marks the user offline and leaves its session.
func (h *Host) Disconnected(ctx context.Context, c *Client) {
	eventsTotal.WithLabelValues("disconnected").Inc()
	if u, ok := c.User(); ok {
		if err := h.store.SetUserStatus(ctx, u.ID, model.Offline); err != nil {
			h.logger.Error("set user offline", "user_id", u.ID, "error", err)
		}
	}
	h.leave(ctx, c, false)
	h.logger.Debug("client disconnected", "client_id", c.ID())
}

// Handle routes one inbound message. Game actions from a connection that has
// not logged in close the connection.
func (h *Host) Handle(ctx context.Context, c *Client, msg session.Message) {
	eventsTotal.WithLabelValues(msg.Action.String()).Inc()

	switch msg.Action {
	case session.ActionMailRegister:
		h.register(ctx, c, msg)
		return
	case session.ActionMailLogin:
		h.login(ctx, c, msg)
		return
	case session.ActionFacebookLogin:
		c.Send(session.Reply(session.ActionError, http.StatusNotImplemented, nil))
		return
	}

	if _, ok := c.User(); !ok {
		h.logger.Debug("closing unauthenticated connection", "client_id", c.ID(), "action", msg.Action.String())
		c.Close()
		return
	}

	switch msg.Action {
	case session.ActionGameJoin:
		h.join(ctx, c, msg)
	case session.ActionGameLeave:
		h.leave(ctx, c, true)
	case session.ActionGameData:
		h.data(ctx, c, msg)
	}
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"mail"`
	Password string `json:"pass"`
}

func decodeCredentials(data json.RawMessage, needName bool) (credentials, bool) {
	var cr credentials
	if err := json.Unmarshal(data, &cr); err != nil {
		return cr, false
	}
	if strings.TrimSpace(cr.Email) == "" || cr.Password == "" {
		return cr, false
	}
	if needName && strings.TrimSpace(cr.Name) == "" {
		return cr, false
	}
	return cr, true
}

func (h *Host) register(ctx context.Context, c *Client, msg session.Message) {
	cr, ok := decodeCredentials(msg.Data, true)
	if !ok {
		c.Send(session.Reply(session.ActionError, http.StatusBadRequest, nil))
		return
	}

	u, err := h.store.CreateUser(ctx, cr.Name, cr.Email, cr.Password)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		c.Send(session.Reply(session.ActionError, http.StatusMultipleChoices, nil))
		return
	case err != nil:
		h.logger.Error("register user", "client_id", c.ID(), "error", err)
		c.Send(session.Reply(session.ActionError, http.StatusInternalServerError, nil))
		return
	}

	info := u.Info()
	c.setUser(info)
	h.logger.Info("user registered", "user_id", u.ID)
	c.Send(session.Reply(session.ActionUserInfo, http.StatusOK, info))
}

func (h *Host) login(ctx context.Context, c *Client, msg session.Message) {
	cr, ok := decodeCredentials(msg.Data, false)
	if !ok {
		c.Send(session.Reply(session.ActionError, http.StatusBadRequest, nil))
		return
	}

	u, err := h.store.Authenticate(ctx, cr.Email, cr.Password)
	switch {
	case errors.Is(err, store.ErrInvalidCredentials):
		c.Send(session.Reply(session.ActionError, http.StatusNotFound, nil))
		return
	case err != nil:
		h.logger.Error("login user", "client_id", c.ID(), "error", err)
		c.Send(session.Reply(session.ActionError, http.StatusInternalServerError, nil))
		return
	}

	if err := h.store.SetUserStatus(ctx, u.ID, model.Online); err != nil {
		h.logger.Error("set user online", "user_id", u.ID, "error", err)
	}
	info := u.Info()
	c.setUser(info)
	c.Send(session.Reply(session.ActionUserInfo, http.StatusOK, info))
}

// hosted runs fn under the governor for sessionID and turns a re-raised panic
// into an error so that hosted faults never crash the host.
func hosted[T any](ctx context.Context, g *governor.Governor, sessionID string, fn func(context.Context) (T, error), opts ...governor.CallOption) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHostedPanic, p)
		}
	}()
	return governor.RunHosted(ctx, g, sessionID, fn, opts...)
}

// run invokes a hook of room under its budget and charges the elapsed time to
// the room.
func (h *Host) run(ctx context.Context, room *session.Room, fn func(context.Context) error) error {
	start := time.Now()
	_, err := hosted(ctx, h.gov, room.ID(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	room.RecordHosted(time.Since(start))
	return err
}

// failed reports a hosted failure for room to the log, the event stream and,
// if c is not nil, the participant. Repeated forced terminations close the
// room.
func (h *Host) failed(ctx context.Context, room *session.Room, c *Client, hook string, err error) {
	var ae *governor.AbortError
	switch {
	case errors.As(err, &ae):
		hostedFailuresTotal.WithLabelValues("aborted").Inc()
		n := room.RecordAbort()
		h.logger.Warn("hosted logic preempted",
			"session_id", room.ID(), "hook", hook, "reason", ae.Reason, "aborts", n, "hosted_stack", ae.HostedStack)
		h.publish(EventAborted, room.ID(), "", ae.Reason)
		if h.opts.MaxSessionAborts > 0 && n >= h.opts.MaxSessionAborts && room.Close() {
			h.finalize(ctx, room, "aborts")
		}
	case errors.Is(err, ErrHostedPanic):
		hostedFailuresTotal.WithLabelValues("panic").Inc()
		h.logger.Error("hosted logic panicked", "session_id", room.ID(), "hook", hook, "error", err)
		h.publish(EventFailed, room.ID(), "", err.Error())
	default:
		hostedFailuresTotal.WithLabelValues("error").Inc()
		h.logger.Error("hosted logic failed", "session_id", room.ID(), "hook", hook, "error", err)
		h.publish(EventFailed, room.ID(), "", err.Error())
	}
	if c != nil {
		c.Send(session.Reply(session.ActionError, http.StatusInternalServerError, nil))
	}
}

type joinRequest struct {
	Player int `json:"player"`
}

// join seats the client in the oldest open room it is not already part of,
// constructing a new room when none qualifies, and starts the room once it
// is full.
func (h *Host) join(ctx context.Context, c *Client, msg session.Message) {
	user, _ := c.User()
	if id := c.SessionID(); id != "" && h.room(id) != nil {
		c.Send(session.Reply(session.ActionError, http.StatusConflict, id))
		return
	}

	var req joinRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.Send(session.Reply(session.ActionError, http.StatusBadRequest, nil))
			return
		}
	}
	capacity := h.game.Capacity(req.Player)

	for range maxJoinAttempts {
		room := h.findOpen(user.ID)
		if room == nil {
			var err error
			if room, err = h.create(ctx, capacity); err != nil {
				c.Send(session.Reply(session.ActionError, http.StatusInternalServerError, nil))
				return
			}
		}

		p := session.NewParticipant(user, c)
		allowed, err := hosted(ctx, h.gov, room.ID(), func(ctx context.Context) (bool, error) {
			return room.Logic().Allow(ctx, p), nil
		})
		if err != nil {
			h.failed(ctx, room, c, "allow", err)
			return
		}
		if !allowed {
			if room.IsFull() || room.Closed() {
				continue
			}
			c.Send(session.Reply(session.ActionError, http.StatusNotAcceptable, nil))
			return
		}

		err = room.Add(p)
		if errors.Is(err, session.ErrFull) || errors.Is(err, session.ErrClosed) {
			continue
		}
		if err != nil {
			c.Send(session.Reply(session.ActionError, http.StatusNotAcceptable, nil))
			return
		}

		c.setSession(room.ID())
		h.publish(EventJoined, room.ID(), user.ID, "")
		h.logger.Info("user joined session", "session_id", room.ID(), "user_id", user.ID, "player_no", p.No)

		if err := h.run(ctx, room, func(ctx context.Context) error {
			return room.Logic().Joined(ctx, p)
		}); err != nil {
			h.failed(ctx, room, c, "joined", err)
		}
		if room.IsFull() && room.MarkStarted() {
			h.start(ctx, room)
		}
		return
	}

	c.Send(session.Reply(session.ActionError, http.StatusServiceUnavailable, nil))
}

func (h *Host) findOpen(userID string) *session.Room {
	for _, r := range h.snapshot() {
		if !r.Closed() && !r.IsFull() && !r.HasUser(userID) {
			return r
		}
	}
	return nil
}

// create constructs a room as its own outermost governed call under the
// construction budget, then registers and persists it.
func (h *Host) create(ctx context.Context, capacity int) (*session.Room, error) {
	id := model.NewID()
	start := time.Now()

	room, err := hosted(ctx, h.gov, id, func(ctx context.Context) (*session.Room, error) {
		logic := h.game.New()
		if logic == nil {
			return nil, errors.New("factory returned no logic")
		}
		r := session.NewRoom(id, h.game.Kind, capacity, logic, h.gov)
		if err := logic.Init(ctx, r); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
		return r, nil
	}, governor.WithWallBudget(h.opts.ConstructionBudget))
	if err != nil {
		hostedFailuresTotal.WithLabelValues("construction").Inc()
		h.logger.Error("create session", "session_id", id, "kind", h.game.Kind, "error", err)
		return nil, err
	}
	room.RecordHosted(time.Since(start))

	if err := h.store.CreateSession(ctx, &model.Session{
		ID:        id,
		Kind:      h.game.Kind,
		Status:    model.SessionOpen,
		Capacity:  capacity,
		CreatedAt: room.CreatedAt(),
	}); err != nil {
		h.logger.Error("persist session", "session_id", id, "error", err)
	}

	h.mu.Lock()
	h.rooms[id] = room
	h.mu.Unlock()
	liveSessions.Inc()

	h.publish(EventCreated, id, "", h.game.Kind)
	h.logger.Info("session created", "session_id", id, "kind", h.game.Kind, "capacity", capacity)
	return room, nil
}

func (h *Host) start(ctx context.Context, room *session.Room) {
	if err := h.store.UpdateSessionStatus(ctx, room.ID(), model.SessionStarted); err != nil {
		h.logger.Error("persist session start", "session_id", room.ID(), "error", err)
	}
	h.publish(EventStarted, room.ID(), "", "")
	h.logger.Info("session started", "session_id", room.ID(), "players", room.Count())

	if err := h.run(ctx, room, room.Logic().Started); err != nil {
		h.failed(ctx, room, nil, "started", err)
	}
}

// leave marks the client's participant offline and runs the Left hook. The
// seat is kept; the room is reaped once everybody is offline.
func (h *Host) leave(ctx context.Context, c *Client, reply bool) {
	id := c.swapSession()
	if id == "" {
		return
	}

	if room := h.room(id); room != nil {
		if u, ok := c.User(); ok {
			if p := room.Leave(u.ID); p != nil {
				h.publish(EventLeft, id, u.ID, "")
				if err := h.run(ctx, room, func(ctx context.Context) error {
					return room.Logic().Left(ctx, p)
				}); err != nil {
					h.failed(ctx, room, nil, "left", err)
				}
			}
		}
	}

	if reply {
		c.Send(session.Reply(session.ActionGameLeave, http.StatusOK, id))
	}
}

// data routes game traffic to the client's session. Messages for a session
// that no longer exists are dropped.
func (h *Host) data(ctx context.Context, c *Client, msg session.Message) {
	if msg.Game == "" {
		return
	}
	id := c.SessionID()
	room := h.room(id)
	if room == nil {
		h.logger.Debug("dropping game data for unknown session", "client_id", c.ID(), "session_id", id)
		return
	}
	u, _ := c.User()
	p := room.Participant(u.ID)
	if p == nil {
		return
	}

	if err := h.run(ctx, room, func(ctx context.Context) error {
		return room.Logic().Message(ctx, p, msg)
	}); err != nil {
		h.failed(ctx, room, c, "message", err)
	}
}

// finalize unregisters a room that has just been closed, runs its Closed hook
// and records its final usage. Callers must have won room.Close or
// room.CloseIfEmpty, so this runs once per room.
func (h *Host) finalize(ctx context.Context, room *session.Room, reason string) {
	h.mu.Lock()
	delete(h.rooms, room.ID())
	h.mu.Unlock()
	liveSessions.Dec()
	sessionsClosedTotal.WithLabelValues(reason).Inc()

	if err := h.run(ctx, room, room.Logic().Closed); err != nil {
		h.logger.Warn("session teardown failed", "session_id", room.ID(), "error", err)
	}

	if reason != "empty" {
		if err := room.Broadcast(ctx, session.Reply(session.ActionGameLeave, http.StatusGone, room.ID())); err != nil {
			h.logger.Debug("notify closed session", "session_id", room.ID(), "error", err)
		}
	}

	if err := h.store.RecordSessionUsage(ctx, room.ID(), room.Usage()); err != nil {
		h.logger.Error("persist session usage", "session_id", room.ID(), "error", err)
	}
	if err := h.store.UpdateSessionStatus(ctx, room.ID(), model.SessionClosed); err != nil {
		h.logger.Error("persist session close", "session_id", room.ID(), "error", err)
	}

	h.publish(EventClosed, room.ID(), "", reason)
	h.events.Close(room.ID())
	h.logger.Info("session closed", "session_id", room.ID(), "reason", reason)
}

// CloseSession tears a live session down on operator request.
func (h *Host) CloseSession(ctx context.Context, id string) bool {
	room := h.room(id)
	if room == nil || !room.Close() {
		return false
	}
	h.gov.AbortSession(id, "aborted because the session was closed")
	h.finalize(ctx, room, "closed")
	return true
}

// Reap tears down every session whose participants are all offline and
// returns how many were closed.
func (h *Host) Reap(ctx context.Context) int {
	closed := 0
	for _, room := range h.snapshot() {
		if room.CloseIfEmpty() {
			closed++
			h.finalize(ctx, room, "empty")
		}
	}

	h.mu.RLock()
	live := len(h.rooms)
	h.mu.RUnlock()
	h.logger.Debug("reaped sessions", "live", live, "closed", closed, "aborts", h.gov.ResetAbortCount())
	return closed
}

// Run reaps empty sessions every ReapInterval until ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.ReapInterval)
	defer ticker.Stop()

	h.logger.Info("session reaper started", "interval", h.opts.ReapInterval.String())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("session reaper stopped")
			return nil
		case <-ticker.C:
			h.Reap(ctx)
		}
	}
}
