package model

import "time"

// Session status constants.
const (
	SessionOpen    = "open"
	SessionStarted = "started"
	SessionClosed  = "closed"
)

// validTransitions maps each session status to the statuses it may move to.
var validTransitions = map[string]map[string]bool{
	SessionOpen: {
		SessionStarted: true,
		SessionClosed:  true,
	},
	SessionStarted: {
		SessionClosed: true,
	},
}

// ValidTransition reports whether moving a session from one status to another
// is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Session is the persisted record of one hosted game session.
type Session struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	Capacity  int        `json:"capacity"`
	Players   int        `json:"players"`
	Aborts    int        `json:"aborts"`
	HostedMS  int64      `json:"hosted_ms"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// SessionUsage is the resource usage reported for a session when it changes
// state.
type SessionUsage struct {
	Players  int
	Aborts   int
	HostedMS int64
}
