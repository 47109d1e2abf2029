package models

import (
	"time"

	"github.com/google/uuid"
)

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
	IsRevoked bool // false -> true only
}

// Valid reports whether the token may still be exchanged.
// Expired records stay in storage until the sweep, so existence means nothing.
func (t RefreshToken) Valid(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login, registration or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
