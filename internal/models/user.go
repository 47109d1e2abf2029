package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleUser:
		return true
	default:
		return false
	}
}

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	Email          string
	Role           Role
	HashedPassword string
}

// Principal is the verified identity attached to a request after authentication
type Principal struct {
	UserID   uuid.UUID `json:"user_id"`
	Role     Role      `json:"role"`
	Email    string    `json:"email,omitempty"`
	Username string    `json:"username,omitempty"`
}

func (u User) Principal() Principal {
	return Principal{
		UserID:   u.ID,
		Role:     u.Role,
		Email:    u.Email,
		Username: u.Username,
	}
}
