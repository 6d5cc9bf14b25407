package ludo

import "time"

const (
	BoardSquares    = 52
	MaxPlayers      = 4
	PiecesPerPlayer = 4
	FinishSquares   = 5
	TurnTimeout     = 30 * time.Second

	maxDice = 3
)

var (
	// StartSquares is where each player's pieces enter the board.
	StartSquares = [MaxPlayers]int{1, 14, 27, 40}
	// StarSquares are protected squares.
	StarSquares = [...]int{9, 22, 34, 47}
)

// SquareKind classifies a board square.
type SquareKind int

const (
	SquareNormal SquareKind = iota
	SquareStar
	SquareStart
)

// Square is one position on the track.
type Square struct {
	Position int
	Kind     SquareKind
	// Owner is the player whose start square this is, or -1.
	Owner  int
	Pieces []*Piece
}

// Protected reports whether pieces on the square cannot be captured.
func (s *Square) Protected() bool {
	return s.Kind != SquareNormal
}

// Piece is one of a player's tokens. Position is -1 while it waits in the yard.
type Piece struct {
	Player       int
	Index        int
	Start        int
	Position     int
	Before       int
	InBoard      bool
	LapCompleted bool
	Finished     bool
}

func newPiece(player, index int) *Piece {
	return &Piece{
		Player:   player,
		Index:    index,
		Start:    StartSquares[player],
		Position: -1,
		Before:   -1,
	}
}

// MoveIn puts a yard piece on its start square.
func (p *Piece) MoveIn() {
	if p.LapCompleted || p.Finished {
		return
	}
	p.Before = -1
	p.Position = p.Start
	p.InBoard = true
}

// MoveOut sends a piece back to the yard.
func (p *Piece) MoveOut() {
	if p.LapCompleted || p.Finished {
		return
	}
	p.Before = p.Position
	p.Position = -1
	p.InBoard = false
}

// Board is the track plus every player's pieces.
type Board struct {
	Squares [BoardSquares]*Square
	Pieces  [][]*Piece
}

// NewBoard lays out the track for players seats.
func NewBoard(players int) *Board {
	b := &Board{Pieces: make([][]*Piece, players)}
	for i := range b.Squares {
		b.Squares[i] = &Square{Position: i, Kind: SquareNormal, Owner: -1}
	}
	for _, pos := range StarSquares {
		b.Squares[pos].Kind = SquareStar
	}
	for player, pos := range StartSquares {
		b.Squares[pos].Kind = SquareStart
		b.Squares[pos].Owner = player
	}
	for player := range b.Pieces {
		b.Pieces[player] = make([]*Piece, PiecesPerPlayer)
		for i := range b.Pieces[player] {
			b.Pieces[player][i] = newPiece(player, i)
		}
	}
	return b
}

// RollDice rolls once, and again after every six, up to three dice.
func RollDice(roll func() int) []int {
	dice := make([]int, 0, maxDice)
	for len(dice) < maxDice {
		d := roll()
		dice = append(dice, d)
		if d != 6 {
			break
		}
	}
	return dice
}

// Turn announces whose turn it is and what they rolled.
type Turn struct {
	Player    int   `json:"index"`
	Dice      []int `json:"dice"`
	TimeoutMS int   `json:"timeout"`
}
