package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewToken generates an opaque lowercase user token.
func NewToken() string {
	return strings.ToLower(ulid.Make().String())
}
