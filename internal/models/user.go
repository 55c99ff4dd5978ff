package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Email     string
	Name      string
	Avatar    string
	IsActive  bool // false until the user fills the profile in
}

// Profile fields the user may change after sign in
type Profile struct {
	Name   string
	Avatar string
}

// Identity verified by the session gate and attached to the request context
type Identity struct {
	UserID uuid.UUID
	Email  string
}
