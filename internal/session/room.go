package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/gamehost/internal/model"
)

var (
	// ErrFull is returned when joining a room that has reached capacity.
	ErrFull = errors.New("session is full")
	// ErrNotAllowed is returned when hosted logic refuses a join.
	ErrNotAllowed = errors.New("join not allowed")
	// ErrClosed is returned when joining a room that has been torn down.
	ErrClosed = errors.New("session is closed")
)

// Conn is the outbound side of one client connection.
type Conn interface {
	// Send queues msg for delivery without blocking. It reports false if the
	// message was dropped.
	Send(msg Message) bool
	Close()
}

// Pauser runs trusted host code from inside hosted logic without charging it
// to the hosted budget.
type Pauser interface {
	PauseToRunOurCode(ctx context.Context, fn func() error) error
}

// Participant is one user's seat in a room.
type Participant struct {
	No   int
	User model.UserInfo

	conn   Conn
	online atomic.Bool
}

// NewParticipant creates a participant that is not yet seated.
func NewParticipant(user model.UserInfo, conn Conn) *Participant {
	p := &Participant{No: -1, User: user, conn: conn}
	p.online.Store(true)
	return p
}

// Online reports whether the participant's connection is live.
func (p *Participant) Online() bool {
	return p.online.Load()
}

// Status returns the participant's online status.
func (p *Participant) Status() model.OnlineStatus {
	if p.Online() {
		return model.Online
	}
	return model.Offline
}

// Room is the trusted wrapper around one hosted Logic instance and its
// participants.
type Room struct {
	id        string
	kind      string
	capacity  int
	logic     Logic
	pauser    Pauser
	createdAt time.Time

	mu           sync.RWMutex
	participants []*Participant
	closed       bool

	started atomic.Bool
	aborts  atomic.Int32
	hosted  atomic.Int64
	dropped atomic.Int64
}

// NewRoom wraps logic in a room. pauser may be nil, in which case fan-out
// runs inline.
func NewRoom(id, kind string, capacity int, logic Logic, pauser Pauser) *Room {
	return &Room{
		id:        id,
		kind:      kind,
		capacity:  capacity,
		logic:     logic,
		pauser:    pauser,
		createdAt: time.Now().UTC(),
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) Kind() string { return r.kind }

func (r *Room) Capacity() int { return r.capacity }

func (r *Room) Logic() Logic { return r.logic }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Participants returns the participants in join order.
func (r *Room) Participants() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Participant(nil), r.participants...)
}

// Count returns the number of seated participants, online or not.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Participant returns the participant for userID, or nil.
func (r *Room) Participant(userID string) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.find(userID)
}

func (r *Room) find(userID string) *Participant {
	for _, p := range r.participants {
		if p.User.ID == userID {
			return p
		}
	}
	return nil
}

// HasUser reports whether userID holds a seat.
func (r *Room) HasUser(userID string) bool {
	return r.Participant(userID) != nil
}

// IsFull reports whether every seat is taken.
func (r *Room) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) >= r.capacity
}

// IsEmpty reports whether every participant is offline. Departed
// participants keep their seat, so a room nobody ever joined is also empty.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isEmpty()
}

func (r *Room) isEmpty() bool {
	offline := 0
	for _, p := range r.participants {
		if !p.Online() {
			offline++
		}
	}
	return offline >= len(r.participants)
}

// Add seats p, numbering participants by join order.
func (r *Room) Add(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return ErrClosed
	case len(r.participants) >= r.capacity:
		return ErrFull
	case r.find(p.User.ID) != nil:
		return ErrNotAllowed
	}
	p.No = len(r.participants)
	p.online.Store(true)
	r.participants = append(r.participants, p)
	return nil
}

// Leave marks userID offline and returns its participant, or nil if the user
// holds no seat. The seat is kept.
func (r *Room) Leave(userID string) *Participant {
	p := r.Participant(userID)
	if p != nil {
		p.online.Store(false)
	}
	return p
}

// MarkStarted reports true exactly once.
func (r *Room) MarkStarted() bool {
	return r.started.CompareAndSwap(false, true)
}

// Started reports whether the room has started.
func (r *Room) Started() bool {
	return r.started.Load()
}

// CloseIfEmpty closes the room if every participant is offline. It reports
// true only for the call that closed it.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.isEmpty() {
		return false
	}
	r.closed = true
	return true
}

// Close closes the room regardless of its participants. It reports true only
// for the call that closed it.
func (r *Room) Close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

// Closed reports whether the room has been torn down.
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Broadcast delivers msg to every online participant. Delivery never blocks
// and a slow participant does not affect the others.
func (r *Room) Broadcast(ctx context.Context, msg Message) error {
	return r.pause(ctx, func() error {
		for _, p := range r.Participants() {
			if p.Online() {
				r.deliver(p, msg)
			}
		}
		return nil
	})
}

// Send delivers msg to one participant if it is online.
func (r *Room) Send(ctx context.Context, p *Participant, msg Message) error {
	return r.pause(ctx, func() error {
		if p.Online() {
			r.deliver(p, msg)
		}
		return nil
	})
}

func (r *Room) deliver(p *Participant, msg Message) {
	if p.conn == nil || !p.conn.Send(msg) {
		r.dropped.Add(1)
	}
}

func (r *Room) pause(ctx context.Context, fn func() error) error {
	if r.pauser == nil {
		return fn()
	}
	return r.pauser.PauseToRunOurCode(ctx, fn)
}

// RecordHosted adds d to the time spent in this room's hosted logic.
func (r *Room) RecordHosted(d time.Duration) {
	r.hosted.Add(int64(d))
}

// RecordAbort counts a forced termination and returns the new total.
func (r *Room) RecordAbort() int {
	return int(r.aborts.Add(1))
}

// Usage returns the room's resource usage so far.
func (r *Room) Usage() model.SessionUsage {
	return model.SessionUsage{
		Players:  r.Count(),
		Aborts:   int(r.aborts.Load()),
		HostedMS: time.Duration(r.hosted.Load()).Milliseconds(),
	}
}

// PlayerInfo is the public view of a participant.
type PlayerInfo struct {
	No      int                `json:"index"`
	Name    string             `json:"name,omitempty"`
	Picture string             `json:"picture,omitempty"`
	Status  model.OnlineStatus `json:"status"`
}

// Info is an operational snapshot of a room.
type Info struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Capacity  int          `json:"capacity"`
	Started   bool         `json:"started"`
	Online    int          `json:"online"`
	Players   []PlayerInfo `json:"players"`
	Aborts    int          `json:"aborts"`
	HostedMS  int64        `json:"hosted_ms"`
	Dropped   int64        `json:"dropped_messages"`
	CreatedAt time.Time    `json:"created_at"`
}

// PlayerList returns the public view of every participant in join order.
func (r *Room) PlayerList() []PlayerInfo {
	ps := r.Participants()
	list := make([]PlayerInfo, 0, len(ps))
	for _, p := range ps {
		list = append(list, PlayerInfo{
			No:      p.No,
			Name:    p.User.Name,
			Picture: p.User.Picture,
			Status:  p.Status(),
		})
	}
	return list
}

// Info returns a snapshot of the room.
func (r *Room) Info() Info {
	players := r.PlayerList()
	online := 0
	for _, p := range players {
		if p.Status == model.Online {
			online++
		}
	}
	u := r.Usage()
	return Info{
		ID:        r.id,
		Kind:      r.kind,
		Capacity:  r.capacity,
		Started:   r.Started(),
		Online:    online,
		Players:   players,
		Aborts:    u.Aborts,
		HostedMS:  u.HostedMS,
		Dropped:   r.dropped.Load(),
		CreatedAt: r.createdAt,
	}
}
