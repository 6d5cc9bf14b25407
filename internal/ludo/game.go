// Package ludo is the Ludo board game as hosted session logic.
package ludo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"

	"github.com/seantiz/gamehost/internal/session"
)

// Kind is the registry key of the game.
const Kind = "ludo"

// Game data codes carried in session.Body.Code.
const (
	CodePlayerList = 1
	CodeStarted    = 2
	CodeTurn       = 3
)

// Option customises a Game.
type Option func(*Game)

// WithRoller replaces the die and the starting-player draw. roll returns
// 1..6; pick returns 0..n-1.
func WithRoller(roll func() int, pick func(n int) int) Option {
	return func(g *Game) {
		g.roll = roll
		g.pick = pick
	}
}

// Game is one Ludo table.
type Game struct {
	session.BaseLogic

	room *session.Room
	roll func() int
	pick func(n int) int

	mu    sync.Mutex
	board *Board
	turn  int
}

// New creates a Ludo game.
func New(opts ...Option) *Game {
	g := &Game{
		roll: func() int { return rand.IntN(6) + 1 },
		pick: rand.IntN,
		turn: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Descriptor registers Ludo with a session registry.
func Descriptor(opts ...Option) session.Game {
	return session.Game{
		Kind:       Kind,
		MinPlayers: 2,
		MaxPlayers: MaxPlayers,
		New:        func() session.Logic { return New(opts...) },
	}
}

func (g *Game) Init(_ context.Context, room *session.Room) error {
	if room.Capacity() > MaxPlayers {
		return fmt.Errorf("ludo seats at most %d players, got capacity %d", MaxPlayers, room.Capacity())
	}
	g.room = room
	return nil
}

func (g *Game) Allow(context.Context, *session.Participant) bool {
	return !g.room.IsFull()
}

func (g *Game) Joined(ctx context.Context, p *session.Participant) error {
	if err := g.room.Send(ctx, p, session.Reply(session.ActionGameJoin, http.StatusOK, g.room.ID())); err != nil {
		return err
	}
	return g.sendPlayerList(ctx)
}

func (g *Game) Left(ctx context.Context, _ *session.Participant) error {
	return g.sendPlayerList(ctx)
}

// Started builds the board, draws the first player and announces the turn.
func (g *Game) Started(ctx context.Context) error {
	g.mu.Lock()
	players := g.room.Count()
	g.board = NewBoard(players)
	g.turn = g.pick(players)
	turn := Turn{
		Player:    g.turn,
		Dice:      RollDice(g.roll),
		TimeoutMS: int(TurnTimeout.Milliseconds()),
	}
	g.mu.Unlock()

	if err := g.room.Broadcast(ctx, session.GameData(g.room.ID(), CodeTurn, turn)); err != nil {
		return err
	}
	return g.room.Broadcast(ctx, session.GameData(g.room.ID(), CodeStarted, nil))
}

// Board returns the board, or nil before the game starts.
func (g *Game) Board() *Board {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.board
}

func (g *Game) sendPlayerList(ctx context.Context) error {
	return g.room.Broadcast(ctx, session.GameData(g.room.ID(), CodePlayerList, g.room.PlayerList()))
}
