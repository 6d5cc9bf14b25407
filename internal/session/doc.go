// Package session defines the pluggable hosted-logic interface, the Room that
// wraps one running instance with its participants, the registry of game
// kinds, and the JSON envelope exchanged with clients.
package session
