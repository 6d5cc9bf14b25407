package host

import (
	"sync"

	"github.com/seantiz/gamehost/internal/model"
	"github.com/seantiz/gamehost/internal/session"
)

// Client is the host's view of one connection: who is logged in on it and
// which session it currently plays in.
type Client struct {
	id   string
	conn session.Conn

	mu        sync.Mutex
	user      *model.UserInfo
	sessionID string
}

// NewClient wraps a transport connection.
func NewClient(conn session.Conn) *Client {
	return &Client{id: model.NewID(), conn: conn}
}

func (c *Client) ID() string { return c.id }

// Send queues msg on the connection without blocking.
func (c *Client) Send(msg session.Message) bool {
	return c.conn.Send(msg)
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.conn.Close()
}

// User returns the logged-in user, if any.
func (c *Client) User() (model.UserInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return model.UserInfo{}, false
	}
	return *c.user, true
}

func (c *Client) setUser(u model.UserInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &u
}

// SessionID returns the session the client is seated in, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// swapSession clears the session id and returns the previous one.
func (c *Client) swapSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.sessionID
	c.sessionID = ""
	return id
}
