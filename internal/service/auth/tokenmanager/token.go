package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/auth/refreshstore"
	"github.com/nkiryanov/authcore/internal/service/auth/tokencodec"
)

const defaultAccessTokenTTL = 24 * time.Hour

// Token manager with sensible default
type Config struct {
	// Access token lifetime
	// If not set than default is used
	AccessTTL time.Duration
}

// TokenManager issues access tokens with codec and refresh tokens with store.
// Refresh tokens are always opaque store records, never signed.
type TokenManager struct {
	accessTTL time.Duration

	codec *tokencodec.Codec
	store *refreshstore.Store
}

func New(cfg Config, codec *tokencodec.Codec, store *refreshstore.Store) (*TokenManager, error) {
	if codec == nil || store == nil {
		return nil, errors.New("token codec and refresh store must not be nil")
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}
	if cfg.AccessTTL < 0 {
		return nil, errors.New("access token ttl must be positive")
	}

	return &TokenManager{
		accessTTL: cfg.AccessTTL,
		codec:     codec,
		store:     store,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *TokenManager) IssueAccessToken(p models.Principal) (models.IssuedToken, error) {
	access, err := m.codec.Encode(p, m.accessTTL)
	if err != nil {
		return access, err
	}

	metrics.TokensIssued.WithLabelValues("access").Inc()
	return access, nil
}

func (m *TokenManager) IssueRefreshToken(ctx context.Context, userID uuid.UUID) (models.IssuedToken, error) {
	token, err := m.store.CreateRefreshToken(ctx, userID)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	return models.IssuedToken{Value: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

func (m *TokenManager) GeneratePair(ctx context.Context, user models.User) (models.TokenPair, error) {
	access, err := m.IssueAccessToken(user.Principal())
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// RotateRefresh exchanges refresh token of the user to new pair.
// Old refresh token is revoked even if it belongs to another user, but pair is not issued then.
func (m *TokenManager) RotateRefresh(ctx context.Context, refresh string, user models.User) (models.TokenPair, error) {
	rotated, err := m.store.Rotate(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}
	if rotated.UserID != user.ID {
		// Replacement is useless for anyone
		_ = m.store.RevokeToken(ctx, rotated.Token)
		return models.TokenPair{}, errors.New("refresh token belongs to another user")
	}
	metrics.TokensIssued.WithLabelValues("refresh").Inc()

	access, err := m.IssueAccessToken(user.Principal())
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: rotated.Token, ExpiresAt: rotated.ExpiresAt},
	}, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (tokencodec.Claims, error) {
	return m.codec.Verify(access)
}

// Decode access token without any check. Never use result to authenticate
func (m *TokenManager) Inspect(access string) (tokencodec.Claims, int64, error) {
	claims, err := m.codec.DecodeUnsafe(access)
	if err != nil {
		return claims, 0, err
	}

	return claims, m.codec.RemainingSeconds(access), nil
}

func (m *TokenManager) RefreshTTL() time.Duration {
	return m.store.TTL()
}

// LookupRefresh returns refresh token record as is, revoked and expired included
func (m *TokenManager) LookupRefresh(ctx context.Context, refresh string) (models.RefreshToken, error) {
	return m.store.Lookup(ctx, refresh)
}

// RevokeRefresh revokes single refresh token; absent or already revoked token is ok
func (m *TokenManager) RevokeRefresh(ctx context.Context, refresh string) error {
	return m.store.RevokeToken(ctx, refresh)
}

// RevokeAllRefresh revokes every refresh token of the user
func (m *TokenManager) RevokeAllRefresh(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.store.RevokeAllForUser(ctx, userID)
}
