package tokenmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	redisrepo "github.com/nkiryanov/authcore/internal/repository/redis"
	"github.com/nkiryanov/authcore/internal/service/auth/refreshstore"
	"github.com/nkiryanov/authcore/internal/service/auth/tokencodec"
	"github.com/nkiryanov/authcore/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func newManager(t *testing.T, accessTTL time.Duration, refreshTTL time.Duration) *TokenManager {
	t.Helper()

	codec, err := tokencodec.New(tokencodec.Config{Secret: "test-secret-key", Issuer: "test", Audience: "test"})
	require.NoError(t, err)

	_, client := testutil.StartMiniredis(t)
	store, err := refreshstore.New(refreshstore.Config{TTL: refreshTTL}, redisrepo.NewRefreshTokenRepo(client, "test"))
	require.NoError(t, err)

	m, err := New(Config{AccessTTL: accessTTL}, codec, store)
	require.NoError(t, err, "token manager should be created without errors")

	return m
}

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	testUser := models.User{
		ID:             uuid.New(),
		CreatedAt:      mustParseTime("2024-01-01 19:00:01Z"),
		Username:       "testuser",
		Email:          "testuser@example.com",
		Role:           models.RoleUser,
		HashedPassword: "hashed_password",
	}

	t.Run("new defaults", func(t *testing.T) {
		m := newManager(t, 0, 0)

		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
	})

	t.Run("new without dependencies", func(t *testing.T) {
		_, err := New(Config{}, nil, nil)

		require.Error(t, err)
	})

	t.Run("GeneratePair", func(t *testing.T) {
		t.Run("return token pair", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)

			pair, err := m.GeneratePair(t.Context(), testUser)

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Access.Value, "access token should not be empty")
			assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.Access.ExpiresAt, time.Second)
			assert.Len(t, pair.Refresh.Value, 64, "refresh token is 32 hex encoded bytes")
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.Refresh.ExpiresAt, time.Second)
		})

		t.Run("access claims", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)

			pair, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)

			claims, err := m.ParseAccess(pair.Access.Value)

			require.NoError(t, err)
			assert.Equal(t, testUser.Principal(), claims.Principal, "principal in token should match")
			assert.WithinDuration(t, pair.Access.ExpiresAt, claims.ExpiresAt, 0, "access expires at should match token pair")
		})

		t.Run("refresh token is not jwt", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)

			pair, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)

			_, _, err = jwt.NewParser().ParseUnverified(pair.Refresh.Value, jwt.MapClaims{})
			require.Error(t, err, "refresh token must be opaque")
		})

		t.Run("generate different tokens", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)

			pair1, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)
			pair2, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)

			assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value, "refresh tokens should be different")
			assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value, "access tokens should be different")
		})
	})

	t.Run("RotateRefresh", func(t *testing.T) {
		t.Run("rotate once", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)
			pair, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)

			rotated, err := m.RotateRefresh(t.Context(), pair.Refresh.Value, testUser)

			require.NoError(t, err)
			require.NotEqual(t, pair.Refresh.Value, rotated.Refresh.Value)
			_, found, err := m.store.FindValidToken(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			require.False(t, found, "old refresh token must be revoked")
			_, found, err = m.store.FindValidToken(t.Context(), rotated.Refresh.Value)
			require.NoError(t, err)
			require.True(t, found)
		})

		t.Run("rotate twice", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)
			pair, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)

			_, err = m.RotateRefresh(t.Context(), pair.Refresh.Value, testUser)
			require.NoError(t, err)

			_, err = m.RotateRefresh(t.Context(), pair.Refresh.Value, testUser)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked, "using the same refresh token again should fail")
		})

		t.Run("rotate unknown", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)

			_, err := m.RotateRefresh(t.Context(), "unknown", testUser)

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})

		t.Run("rotate token of other user", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)
			pair, err := m.GeneratePair(t.Context(), testUser)
			require.NoError(t, err)
			other := testUser
			other.ID = uuid.New()

			_, err = m.RotateRefresh(t.Context(), pair.Refresh.Value, other)

			require.Error(t, err)
			_, found, err := m.store.FindValidToken(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			require.False(t, found, "presented token is spent anyway")
		})
	})

	t.Run("ParseAccess", func(t *testing.T) {
		t.Run("not a token", func(t *testing.T) {
			m := newManager(t, 15*time.Minute, 24*time.Hour)

			_, err := m.ParseAccess("invalid token")

			require.ErrorIs(t, err, apperrors.ErrInvalidSignature, "parsing even not a token should return an error")
		})

		t.Run("expired token", func(t *testing.T) {
			m := newManager(t, time.Second, time.Second)
			access, err := m.IssueAccessToken(testUser.Principal())
			require.NoError(t, err)

			time.Sleep(time.Second)

			_, err = m.ParseAccess(access.Value)
			require.ErrorIs(t, err, apperrors.ErrExpiredToken, "token has to become expired")
		})
	})

	t.Run("Inspect", func(t *testing.T) {
		m := newManager(t, time.Hour, time.Hour)
		access, err := m.IssueAccessToken(testUser.Principal())
		require.NoError(t, err)

		claims, remaining, err := m.Inspect(access.Value)

		require.NoError(t, err)
		require.Equal(t, testUser.ID, claims.UserID)
		require.InDelta(t, time.Hour.Seconds(), remaining, 2)
	})
}
