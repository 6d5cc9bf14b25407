package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a fresh Logic instance. Construction is untrusted work
// and always runs under the governor.
type Factory func() Logic

// Game describes a kind of hosted logic the host can construct.
type Game struct {
	Kind       string
	MinPlayers int
	MaxPlayers int
	New        Factory
}

// Capacity clamps a requested player count into the game's range.
func (g Game) Capacity(requested int) int {
	return max(g.MinPlayers, min(requested, g.MaxPlayers))
}

// GameInfo is the public description of a registered game.
type GameInfo struct {
	Kind       string `json:"kind"`
	MinPlayers int    `json:"min_players"`
	MaxPlayers int    `json:"max_players"`
}

// Registry holds the registered game kinds.
type Registry struct {
	mu    sync.RWMutex
	games map[string]Game
}

// NewRegistry creates an empty game registry.
func NewRegistry() *Registry {
	return &Registry{
		games: make(map[string]Game),
	}
}

// Register adds a game under its kind, replacing any previous registration.
func (r *Registry) Register(g Game) error {
	switch {
	case g.Kind == "":
		return errors.New("game kind is empty")
	case g.New == nil:
		return fmt.Errorf("game %q has no factory", g.Kind)
	case g.MinPlayers < 1 || g.MaxPlayers < g.MinPlayers:
		return fmt.Errorf("game %q has invalid player range [%d, %d]", g.Kind, g.MinPlayers, g.MaxPlayers)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.Kind] = g
	return nil
}

// Get returns the game registered under kind.
func (r *Registry) Get(kind string) (Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.games[kind]
	if !ok {
		return Game{}, fmt.Errorf("game %q is not registered", kind)
	}
	return g, nil
}

// List returns all registered games, sorted by kind for a stable API response.
func (r *Registry) List() []GameInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]GameInfo, 0, len(r.games))
	for _, g := range r.games {
		infos = append(infos, GameInfo{
			Kind:       g.Kind,
			MinPlayers: g.MinPlayers,
			MaxPlayers: g.MaxPlayers,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}
