package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/service/auth/tokencodec"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshToken"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to use during user registration or login process
	// If not set BcryptHasher is used
	Hasher PasswordHasher

	// Header to read access token from and set it to
	// Header value has to be '<scheme> <token>' with exactly one space
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie to store refresh token in
	RefreshCookieName string

	// Revoke every session of the user when already revoked refresh token is presented
	RevokeAllOnReuse bool

	Logger logger.Logger
}

// Auth service
type AuthService struct {
	// Manager to issue token pairs (access and refresh)
	tokens *tokenmanager.TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	// Repository to access long term data
	userRepo repository.UserRepo

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	revokeAllOnReuse  bool

	logger logger.Logger

	// Hash compared on login when user does not exist
	dummyHash string
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, userRepo repository.UserRepo) (*AuthService, error) {
	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)

	if strings.ContainsAny(cfg.AccessAuthScheme, " \t") {
		return nil, fmt.Errorf("auth scheme %q must not contain spaces", cfg.AccessAuthScheme)
	}

	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	dummyHash, err := cfg.Hasher.Hash("dummy-password-to-compare-with")
	if err != nil {
		return nil, fmt.Errorf("password hasher does not work. Err: %w", err)
	}

	return &AuthService{
		tokens:            tokens,
		hasher:            cfg.Hasher,
		userRepo:          userRepo,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		revokeAllOnReuse:  cfg.RevokeAllOnReuse,
		logger:            cfg.Logger,
		dummyHash:         dummyHash,
	}, nil
}

func (s *AuthService) HeaderName() string {
	return s.accessHeaderName
}

func (s *AuthService) Scheme() string {
	return s.accessAuthScheme
}

// Register new user with 'user' role and login it
func (s *AuthService) Register(ctx context.Context, username string, email string, password string) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err := s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Username:       username,
		Email:          email,
		Role:           models.RoleUser,
		HashedPassword: hash,
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	pair, err := s.tokens.GeneratePair(ctx, user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return pair, nil
}

// Login user with username and password
// Returns apperrors.ErrInvalidCredentials both for unknown user and wrong password
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		// Keep the timing of unknown user close to wrong password one
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.TokenPair{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.tokens.GeneratePair(ctx, user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return pair, nil
}

// RefreshPair exchanges refresh token to new pair, old refresh token is revoked.
// Errors:
//   - apperrors.ErrRefreshTokenNotFound if token unknown
//   - apperrors.ErrTokenRevoked if token already used or revoked
//   - apperrors.ErrExpiredToken if token expired
//   - apperrors.ErrStoreUnavailable if store failed
func (s *AuthService) RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error) {
	token, err := s.tokens.LookupRefresh(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	if token.IsRevoked {
		s.onReuse(ctx, token.UserID)
		return models.TokenPair{}, apperrors.ErrTokenRevoked
	}

	user, err := s.userRepo.GetUserByID(ctx, token.UserID)
	if err != nil {
		return models.TokenPair{}, err
	}

	// Rotation itself checks token again: it may be revoked or expired since lookup
	pair, err := s.tokens.RotateRefresh(ctx, refresh, user)
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

func (s *AuthService) onReuse(ctx context.Context, userID uuid.UUID) {
	s.logger.Warn("revoked refresh token presented", "user_id", userID)
	if !s.revokeAllOnReuse {
		return
	}

	count, err := s.tokens.RevokeAllRefresh(ctx, userID)
	if err != nil {
		s.logger.Error("could not revoke user sessions on refresh token reuse", "user_id", userID, "error", err)
		return
	}
	s.logger.Warn("all user sessions revoked on refresh token reuse", "user_id", userID, "count", count)
}

// Logout revokes single refresh token. Unknown or revoked token is ok
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.tokens.RevokeRefresh(ctx, refresh)
}

// LogoutAll revokes every refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.tokens.RevokeAllRefresh(ctx, userID)
}

// RevokeUser revokes every session of another user
// Returns apperrors.ErrUserNotFound if user does not exist
func (s *AuthService) RevokeUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	if _, err := s.userRepo.GetUserByID(ctx, userID); err != nil {
		return 0, err
	}

	return s.tokens.RevokeAllRefresh(ctx, userID)
}

// Introspect decodes access token WITHOUT verification
func (s *AuthService) Introspect(access string) (tokencodec.Claims, int64, error) {
	return s.tokens.Inspect(access)
}

// ParseAuthorization parses and verifies access header value '<scheme> <token>'
func (s *AuthService) ParseAuthorization(value string) (tokencodec.Claims, error) {
	if value == "" {
		return tokencodec.Claims{}, apperrors.ErrMissingCredential
	}

	token, ok := strings.CutPrefix(value, s.accessAuthScheme+" ")
	if !ok {
		return tokencodec.Claims{}, apperrors.ErrMalformedHeader
	}
	if token == "" {
		return tokencodec.Claims{}, apperrors.ErrEmptyToken
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return tokencodec.Claims{}, apperrors.ErrMalformedHeader
	}

	return s.tokens.ParseAccess(token)
}

// AuthenticateRequest returns principal of request access token
func (s *AuthService) AuthenticateRequest(r *http.Request) (models.Principal, error) {
	claims, err := s.ParseAuthorization(r.Header.Get(s.accessHeaderName))
	if err != nil {
		return models.Principal{}, err
	}

	return claims.Principal, nil
}

// SetTokenPairToResponse sets access token to header and refresh token to HttpOnly cookie
func (s *AuthService) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(time.Until(pair.Refresh.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie asks client to forget refresh cookie
func (s *AuthService) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// GetRefreshString reads refresh token from cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", apperrors.ErrMissingCredential
	}

	return cookie.Value, nil
}
