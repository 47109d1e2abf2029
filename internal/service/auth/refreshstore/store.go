package refreshstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

const (
	defaultTTL     = 7 * 24 * time.Hour
	defaultTimeout = 3 * time.Second

	// 256 bits of entropy
	tokenBytesLen = 32
)

type Config struct {
	// Refresh token lifetime
	// If not set than default is used
	TTL time.Duration

	// Upper bound for every repository call; caller deadline wins if it is shorter
	// If not set than default is used
	Timeout time.Duration
}

// Store keeps refresh tokens: create, find valid, revoke one or all, rotate and sweep.
// Repository errors other than well known ones are reported as apperrors.ErrStoreUnavailable.
// Store never retries, it is up to caller.
type Store struct {
	repo    repository.RefreshTokenRepo
	ttl     time.Duration
	timeout time.Duration

	now    func() time.Time
	random func([]byte) (int, error)
	logger logger.Logger
}

type Option func(*Store)

// Set clock. Useful in tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(cfg Config, repo repository.RefreshTokenRepo, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("refresh token repo must not be nil")
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.TTL, defaultTTL)
	setDefaultDuration(&cfg.Timeout, defaultTimeout)

	if cfg.TTL < 0 || cfg.Timeout < 0 {
		return nil, errors.New("refresh token ttl and timeout must be positive")
	}

	s := &Store{
		repo:    repo,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		now:     time.Now,
		random:  rand.Read,
		logger:  logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// CreateRefreshToken generates and saves new token for the user
func (s *Store) CreateRefreshToken(ctx context.Context, userID uuid.UUID) (models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	next, err := s.newToken(userID)
	if err != nil {
		return next, err
	}

	token, err := s.repo.Create(ctx, next)
	if err != nil {
		return token, s.classify("create", err)
	}

	return token, nil
}

// FindValidToken returns token only if it exists, not revoked and not expired.
// Not found is normal outcome: (zero, false, nil). Error means store failure only.
func (s *Store) FindValidToken(ctx context.Context, token string) (models.RefreshToken, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, err := s.repo.Get(ctx, token)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return models.RefreshToken{}, false, nil
	case err != nil:
		return models.RefreshToken{}, false, s.classify("find", err)
	case !t.Valid(s.now()):
		return models.RefreshToken{}, false, nil
	default:
		return t, true, nil
	}
}

// Lookup returns token record as is, even revoked or expired one.
// Use FindValidToken to authenticate; Lookup is for reuse detection and introspection.
func (s *Store) Lookup(ctx context.Context, token string) (models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, err := s.repo.Get(ctx, token)
	if err != nil {
		return models.RefreshToken{}, s.classify("lookup", err)
	}

	return t, nil
}

// RevokeToken is idempotent: absent or already revoked token is not an error
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.repo.Revoke(ctx, token, s.now()); err != nil {
		return s.classify("revoke", err)
	}

	metrics.RefreshRevocations.WithLabelValues("single").Inc()
	return nil
}

// RevokeAllForUser revokes every not revoked token of the user and return their count
func (s *Store) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.repo.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, s.classify("revoke_all", err)
	}

	metrics.RefreshRevocations.WithLabelValues("user").Add(float64(count))
	s.logger.Info("revoked all user refresh tokens", "user_id", userID, "count", count)
	return count, nil
}

// Rotate exchanges valid token to new one of the same owner.
// Old token is revoked in the same atomic operation.
// Fails with apperrors.ErrRefreshTokenNotFound, apperrors.ErrTokenRevoked or apperrors.ErrExpiredToken.
func (s *Store) Rotate(ctx context.Context, token string) (models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Owner is taken from old token by repository
	next, err := s.newToken(uuid.Nil)
	if err != nil {
		return next, err
	}

	rotated, err := s.repo.Rotate(ctx, token, next, next.CreatedAt)
	if err != nil {
		err = s.classify("rotate", err)
		metrics.RefreshRotations.WithLabelValues(apperrors.Reason(err)).Inc()
		return rotated, err
	}

	metrics.RefreshRotations.WithLabelValues("ok").Inc()
	return rotated, nil
}

// DeleteExpired physically removes expired tokens, revoked or not
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	deleted, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return deleted, s.classify("delete_expired", err)
	}

	return deleted, nil
}

func (s *Store) newToken(userID uuid.UUID) (models.RefreshToken, error) {
	b := make([]byte, tokenBytesLen)
	if _, err := s.random(b); err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generating refresh token. Err: %w", err)
	}

	now := s.now()
	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     hex.EncodeToString(b),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

// classify keeps well known record errors and turns anything else into ErrStoreUnavailable
func (s *Store) classify(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
		errors.Is(err, apperrors.ErrRefreshTokenExists),
		errors.Is(err, apperrors.ErrTokenRevoked),
		errors.Is(err, apperrors.ErrExpiredToken):
		return err
	default:
		metrics.StoreErrors.WithLabelValues(op).Inc()
		s.logger.Error("refresh token store failure", "op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", apperrors.ErrStoreUnavailable, op, err)
	}
}
