package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seantiz/gamehost/internal/ludo"
	"github.com/seantiz/gamehost/internal/session"
)

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, action session.Action, data any) {
	t.Helper()
	msg := session.Message{Action: action}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		msg.Data = b
	}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// await reads until a message with the given action and body code arrives.
func await(t *testing.T, ws *websocket.Conn, action session.Action, code int) session.Message {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for {
		var msg session.Message
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s/%d: %v", action, code, err)
		}
		if msg.Action == action && msg.Body != nil && msg.Body.Code == code {
			return msg
		}
	}
}

func register(t *testing.T, ws *websocket.Conn, email string) {
	t.Helper()
	send(t, ws, session.ActionMailRegister, map[string]string{"name": email, "mail": email, "pass": "secret"})
	await(t, ws, session.ActionUserInfo, http.StatusOK)
}

func TestWebSocketConnectionOK(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ws := dial(t, ts)
	var msg session.Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Action != session.ActionConnectionOK {
		t.Errorf("first action = %s, want %s", msg.Action, session.ActionConnectionOK)
	}
}

func TestWebSocketBadJSONReplies400(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ws := dial(t, ts)
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	await(t, ws, session.ActionError, http.StatusBadRequest)
}

func TestWebSocketUnauthenticatedJoinIsDisconnected(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ws := dial(t, ts)
	send(t, ws, session.ActionGameJoin, nil)

	if err := ws.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for {
		var msg session.Message
		err := ws.ReadJSON(&msg)
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("read error = %v, want normal closure", err)
		}
		return
	}
}

func TestWebSocketTwoPlayersStartLudo(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	a := dial(t, ts)
	b := dial(t, ts)
	register(t, a, "a@example.com")
	register(t, b, "b@example.com")

	send(t, a, session.ActionGameJoin, map[string]int{"player": 2})
	joined := await(t, a, session.ActionGameJoin, http.StatusOK)
	id, _ := joined.Body.Data.(string)
	if id == "" {
		t.Fatalf("join reply carries no session id: %+v", joined.Body)
	}

	send(t, b, session.ActionGameJoin, map[string]int{"player": 2})
	await(t, b, session.ActionGameJoin, http.StatusOK)

	for _, ws := range []*websocket.Conn{a, b} {
		turn := await(t, ws, session.ActionGameData, ludo.CodeTurn)
		if turn.Game != id {
			t.Errorf("turn for session %q, want %q", turn.Game, id)
		}
		await(t, ws, session.ActionGameData, ludo.CodeStarted)
	}

	info, ok := srv.host.Room(id)
	if !ok || !info.Started || info.Online != 2 {
		t.Errorf("live session = %+v, %v", info, ok)
	}
}

func TestWebSocketDisconnectMarksParticipantOffline(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ws := dial(t, ts)
	register(t, ws, "a@example.com")
	send(t, ws, session.ActionGameJoin, map[string]int{"player": 4})
	joined := await(t, ws, session.ActionGameJoin, http.StatusOK)
	id, _ := joined.Body.Data.(string)

	ws.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := srv.host.Room(id); ok && info.Online == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("participant still online after disconnect")
}
