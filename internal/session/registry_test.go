package session_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/seantiz/gamehost/internal/session"
)

func stubGame(kind string) session.Game {
	return session.Game{
		Kind:       kind,
		MinPlayers: 2,
		MaxPlayers: 4,
		New:        func() session.Logic { return session.BaseLogic{} },
	}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := session.NewRegistry()
	for _, kind := range []string{"ludo", "chess"} {
		if err := reg.Register(stubGame(kind)); err != nil {
			t.Fatalf("Register(%s): %v", kind, err)
		}
	}

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d games, want 2", len(list))
	}
	if list[0].Kind != "chess" || list[1].Kind != "ludo" {
		t.Errorf("List() order = [%s %s], want sorted by kind", list[0].Kind, list[1].Kind)
	}
}

func TestRegistryGet(t *testing.T) {
	reg := session.NewRegistry()
	if err := reg.Register(stubGame("ludo")); err != nil {
		t.Fatal(err)
	}

	g, err := reg.Get("ludo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if g.New() == nil {
		t.Error("factory returned nil")
	}

	_, err = reg.Get("poker")
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Errorf("Get(poker) error = %v, want not registered", err)
	}
}

func TestRegistryRejectsInvalidGames(t *testing.T) {
	tests := []struct {
		name string
		game session.Game
	}{
		{"empty kind", session.Game{MinPlayers: 1, MaxPlayers: 2, New: stubGame("x").New}},
		{"no factory", session.Game{Kind: "x", MinPlayers: 1, MaxPlayers: 2}},
		{"zero players", session.Game{Kind: "x", MinPlayers: 0, MaxPlayers: 2, New: stubGame("x").New}},
		{"inverted range", session.Game{Kind: "x", MinPlayers: 3, MaxPlayers: 2, New: stubGame("x").New}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := session.NewRegistry().Register(tt.game); err == nil {
				t.Error("Register succeeded, want error")
			}
		})
	}
}

func TestGameCapacityClamps(t *testing.T) {
	g := stubGame("ludo")
	tests := []struct{ in, want int }{
		{0, 2}, {1, 2}, {2, 2}, {3, 3}, {4, 4}, {9, 4},
	}
	for _, tt := range tests {
		if got := g.Capacity(tt.in); got != tt.want {
			t.Errorf("Capacity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMessageEnvelope(t *testing.T) {
	var in session.Message
	if err := json.Unmarshal([]byte(`{"action":4,"data":{"player":2}}`), &in); err != nil {
		t.Fatal(err)
	}
	if in.Action != session.ActionGameJoin || string(in.Data) != `{"player":2}` {
		t.Errorf("decoded %+v", in)
	}

	out, err := json.Marshal(session.Reply(session.ActionError, 406, nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"action":10,"body":{"code":406}}` {
		t.Errorf("encoded %s", out)
	}
	if session.ActionConnectionOK.String() != "connection_ok" {
		t.Errorf("String() = %q", session.ActionConnectionOK.String())
	}
}
