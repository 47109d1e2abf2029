package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshColumns = `id, user_id, token, created_at, updated_at, expires_at, is_revoked`

const createToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, user_id, token, created_at, updated_at, expires_at, is_revoked)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + refreshColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, createToken, t.ID, t.UserID, t.Token, t.CreatedAt, t.UpdatedAt, t.ExpiresAt, t.IsRevoked)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case isUniqueViolation(err):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const getToken = `-- name: GetRefreshToken
SELECT ` + refreshColumns + `
FROM refresh_tokens
WHERE token = $1
`

// Get token
// It should return result even it expired or revoked
func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, token)
	t, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET is_revoked = TRUE, updated_at = $2
WHERE token = $1 AND NOT is_revoked
`

// Revoke is a single conditional update, so concurrent revoke and rotate never both win
func (r *RefreshTokenRepo) Revoke(ctx context.Context, token string, at time.Time) error {
	_, err := r.DB.Exec(ctx, revokeToken, token, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeAllForUser = `-- name: RevokeAllUserRefreshTokens
UPDATE refresh_tokens
SET is_revoked = TRUE, updated_at = $2
WHERE user_id = $1 AND NOT is_revoked
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const rotateToken = `-- name: RotateRefreshToken
WITH revoked AS (
	UPDATE refresh_tokens
	SET is_revoked = TRUE, updated_at = $2
	WHERE token = $1 AND NOT is_revoked AND expires_at > $2
	RETURNING user_id
)
INSERT INTO refresh_tokens (id, user_id, token, created_at, updated_at, expires_at, is_revoked)
SELECT $3, revoked.user_id, $4, $2, $2, $5, FALSE
FROM revoked
RETURNING ` + refreshColumns

// Rotate revokes the old token and inserts the next one in one statement.
// next.UserID is ignored, the owner of the old token is used.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, token string, next models.RefreshToken, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, rotateToken, token, now, next.ID, next.Token, next.ExpiresAt)
	rotated, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return rotated, nil
	case errors.Is(err, pgx.ErrNoRows):
		return rotated, r.whyNotRotated(ctx, token, now)
	case isUniqueViolation(err):
		return rotated, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	default:
		return rotated, fmt.Errorf("db error: %w", err)
	}
}

// Explain why conditional rotate matched nothing
func (r *RefreshTokenRepo) whyNotRotated(ctx context.Context, token string, now time.Time) error {
	t, err := r.Get(ctx, token)
	switch {
	case err != nil:
		return err
	case t.IsRevoked:
		return fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
	case !now.Before(t.ExpiresAt):
		return fmt.Errorf("repo error: %w", apperrors.ErrExpiredToken)
	default:
		// Not reachable while revocation and expiry stay monotonic
		return fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
	}
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.UpdatedAt, &t.ExpiresAt, &t.IsRevoked)
	return t, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
