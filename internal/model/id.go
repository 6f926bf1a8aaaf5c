package model

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewCellID generates the correlation id that binds one code submission to
// the events it produces.
func NewCellID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
