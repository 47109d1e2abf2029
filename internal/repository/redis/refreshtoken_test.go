package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/testutil"
)

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel()

	now := time.Now()

	newToken := func(userID uuid.UUID, value string, expiresAt time.Time) models.RefreshToken {
		return models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			Token:     value,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: expiresAt,
		}
	}

	setup := func(t *testing.T) *RefreshTokenRepo {
		_, client := testutil.StartMiniredis(t)
		return NewRefreshTokenRepo(client, "test")
	}

	t.Run("create and get token", func(t *testing.T) {
		repo := setup(t)
		token := newToken(uuid.New(), "secret-token", now.Add(time.Hour))

		created, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		got, err := repo.Get(t.Context(), token.Token)
		require.NoError(t, err)

		assert.Equal(t, created, got, "stored and returned records should be the same")
		assert.Equal(t, token.ID, got.ID)
		assert.Equal(t, token.UserID, got.UserID)
		assert.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Millisecond)
		assert.False(t, got.IsRevoked)
	})

	t.Run("token expires natively", func(t *testing.T) {
		mr, client := testutil.StartMiniredis(t)
		repo := NewRefreshTokenRepo(client, "test")
		_, err := repo.Create(t.Context(), newToken(uuid.New(), "short", now.Add(time.Hour)))
		require.NoError(t, err)

		ttl := mr.TTL("test:rt:short")
		require.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2, "token key should expire at expires_at")

		mr.FastForward(2 * time.Hour)

		_, err = repo.Get(t.Context(), "short")
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("create duplicate fail", func(t *testing.T) {
		repo := setup(t)
		_, err := repo.Create(t.Context(), newToken(uuid.New(), "dup", now.Add(time.Hour)))
		require.NoError(t, err)

		_, err = repo.Create(t.Context(), newToken(uuid.New(), "dup", now.Add(time.Hour)))

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenExists)
	})

	t.Run("get not existed", func(t *testing.T) {
		repo := setup(t)

		_, err := repo.Get(t.Context(), "nope")

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		repo := setup(t)
		_, err := repo.Create(t.Context(), newToken(uuid.New(), "revoke-me", now.Add(time.Hour)))
		require.NoError(t, err)

		require.NoError(t, repo.Revoke(t.Context(), "revoke-me", now.Add(time.Minute)))
		first, err := repo.Get(t.Context(), "revoke-me")
		require.NoError(t, err)

		require.NoError(t, repo.Revoke(t.Context(), "revoke-me", now.Add(2*time.Minute)))
		second, err := repo.Get(t.Context(), "revoke-me")
		require.NoError(t, err)

		assert.True(t, first.IsRevoked)
		assert.Equal(t, first, second, "second revoke must not change anything")
		require.NoError(t, repo.Revoke(t.Context(), "absent", now), "revoke absent token is ok")
	})

	t.Run("revoke all for user", func(t *testing.T) {
		repo := setup(t)
		u1, u2 := uuid.New(), uuid.New()
		for _, value := range []string{"u1-a", "u1-b"} {
			_, err := repo.Create(t.Context(), newToken(u1, value, now.Add(time.Hour)))
			require.NoError(t, err)
		}
		_, err := repo.Create(t.Context(), newToken(u2, "u2-a", now.Add(time.Hour)))
		require.NoError(t, err)

		count, err := repo.RevokeAllForUser(t.Context(), u1, now)
		require.NoError(t, err)
		require.EqualValues(t, 2, count)

		count, err = repo.RevokeAllForUser(t.Context(), u1, now)
		require.NoError(t, err)
		require.EqualValues(t, 0, count, "nothing left to revoke")

		for _, value := range []string{"u1-a", "u1-b"} {
			got, err := repo.Get(t.Context(), value)
			require.NoError(t, err)
			assert.True(t, got.IsRevoked)
		}
		got, err := repo.Get(t.Context(), "u2-a")
		require.NoError(t, err)
		assert.False(t, got.IsRevoked, "other user token untouched")
	})

	t.Run("Rotate", func(t *testing.T) {
		tests := []struct {
			name    string
			prepare func(t *testing.T, repo *RefreshTokenRepo, userID uuid.UUID)
			wantErr error
		}{
			{
				name: "valid token",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, userID uuid.UUID) {
					_, err := repo.Create(t.Context(), newToken(userID, "old", now.Add(time.Hour)))
					require.NoError(t, err)
				},
			},
			{
				name:    "not existed token",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, userID uuid.UUID) {},
				wantErr: apperrors.ErrRefreshTokenNotFound,
			},
			{
				name: "revoked token",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, userID uuid.UUID) {
					_, err := repo.Create(t.Context(), newToken(userID, "old", now.Add(time.Hour)))
					require.NoError(t, err)
					require.NoError(t, repo.Revoke(t.Context(), "old", now))
				},
				wantErr: apperrors.ErrTokenRevoked,
			},
			{
				name: "expired but not purged token",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, userID uuid.UUID) {
					// valid from redis point of view, expired for caller clock
					_, err := repo.Create(t.Context(), newToken(userID, "old", now.Add(time.Hour)))
					require.NoError(t, err)
				},
				wantErr: apperrors.ErrExpiredToken,
			},
			{
				name: "next token collides",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, userID uuid.UUID) {
					_, err := repo.Create(t.Context(), newToken(userID, "old", now.Add(time.Hour)))
					require.NoError(t, err)
					_, err = repo.Create(t.Context(), newToken(userID, "new", now.Add(time.Hour)))
					require.NoError(t, err)
				},
				wantErr: apperrors.ErrRefreshTokenExists,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := setup(t)
				userID := uuid.New()
				tt.prepare(t, repo, userID)

				rotateAt := now
				if errors.Is(tt.wantErr, apperrors.ErrExpiredToken) {
					rotateAt = now.Add(2 * time.Hour)
				}
				next := newToken(uuid.Nil, "new", rotateAt.Add(24*time.Hour))

				got, err := repo.Rotate(t.Context(), "old", next, rotateAt)

				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, userID, got.UserID, "owner taken from old token")
				assert.Equal(t, "new", got.Token)

				old, err := repo.Get(t.Context(), "old")
				require.NoError(t, err)
				assert.True(t, old.IsRevoked)

				stored, err := repo.Get(t.Context(), "new")
				require.NoError(t, err)
				assert.Equal(t, got, stored)

				count, err := repo.RevokeAllForUser(t.Context(), userID, now)
				require.NoError(t, err)
				assert.EqualValues(t, 1, count, "rotated token has to be indexed for its owner")
			})
		}
	})

	t.Run("delete expired prunes index", func(t *testing.T) {
		mr, client := testutil.StartMiniredis(t)
		repo := NewRefreshTokenRepo(client, "test")
		userID := uuid.New()
		_, err := repo.Create(t.Context(), newToken(userID, "soon", now.Add(time.Minute)))
		require.NoError(t, err)
		_, err = repo.Create(t.Context(), newToken(userID, "later", now.Add(2*time.Hour)))
		require.NoError(t, err)

		mr.FastForward(time.Hour) // 'soon' dropped by redis itself

		deleted, err := repo.DeleteExpired(t.Context(), now.Add(time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)

		members, err := mr.Members("test:rtu:" + userID.String())
		require.NoError(t, err)
		require.Equal(t, []string{"later"}, members)

		deleted, err = repo.DeleteExpired(t.Context(), now.Add(3*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted, "expired but still stored token has to be deleted")
		require.False(t, mr.Exists("test:rtu:"+userID.String()), "empty index has to be removed")
	})
}
