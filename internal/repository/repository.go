package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

type CreateUserParams struct {
	Username       string
	Email          string
	Role           models.Role
	HashedPassword string
}

// RefreshToken repository interface
// Any error except the documented apperrors is treated by callers as infrastructure failure
type RefreshTokenRepo interface {
	// Save new token
	// Must rely on storage uniqueness: duplicate token has to return apperrors.ErrRefreshTokenExists
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even if it is revoked or expired
	// If token not exists must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, token string) (models.RefreshToken, error)

	// Set token revoked. Idempotent: absent or already revoked token is not an error
	Revoke(ctx context.Context, token string, at time.Time) error

	// Revoke every not revoked token of the user, return number of tokens revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// Atomically revoke valid 'token' and save 'next' for the same user
	// Returns apperrors.ErrRefreshTokenNotFound, apperrors.ErrTokenRevoked or apperrors.ErrExpiredToken
	// if 'token' can't be exchanged at 'now'
	Rotate(ctx context.Context, token string, next models.RefreshToken, now time.Time) (models.RefreshToken, error)

	// Physically delete tokens expired before 'before', return number of deleted records
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
}
