package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is the persistent meeting space a session happens in.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Identifier   string    `json:"identifier"`
	Name         string    `json:"name"`
	OwnerID      uuid.UUID `json:"owner_id"`
	PasscodeHash string    `json:"-"`
	HasPasscode  bool      `json:"has_passcode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
