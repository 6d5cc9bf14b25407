package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seantiz/gamehost/internal/host"
	"github.com/seantiz/gamehost/internal/session"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 64 << 10
	// wsOutboxSize bounds the messages queued for a slow client. Messages
	// beyond it are dropped.
	wsOutboxSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn adapts a websocket to session.Conn. Sends are queued to a single
// writer goroutine and never block the caller.
type wsConn struct {
	ws     *websocket.Conn
	out    chan session.Message
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		out:    make(chan session.Message, wsOutboxSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *wsConn) Send(msg session.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() { close(c.done) })
}

// writeLoop drains the outbox until the connection is closed, then sends a
// close frame. It owns all writes to the websocket.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

// handleWebSocket upgrades the request and feeds every inbound message to the
// host until the peer disconnects or the host closes the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}

	conn := newWSConn(ws, s.logger)
	client := host.NewClient(conn)
	ctx := r.Context()

	written := make(chan struct{})
	go func() {
		defer close(written)
		conn.writeLoop()
	}()

	ws.SetReadLimit(wsMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	s.host.Connected(ctx, client)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", "client_id", client.ID(), "error", err)
			}
			break
		}

		var msg session.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			client.Send(session.Reply(session.ActionError, http.StatusBadRequest, nil))
			continue
		}
		s.host.Handle(ctx, client, msg)
	}

	conn.Close()
	s.host.Disconnected(ctx, client)
	<-written
}
