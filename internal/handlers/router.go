package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/auth/tokencodec"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	health healthChecker,
	logger logger.Logger,
) http.Handler {
	withAuth := func(h http.Handler, roles ...models.Role) http.Handler {
		return chain(h,
			middleware.Authenticate(authService, logger),
			middleware.RequireRole(roles...),
		)
	}

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(authService, logger))
	apiauth.Handle("POST /login", handleLogin(authService, logger))
	apiauth.Handle("POST /refresh", handleTokenRefresh(authService, logger))
	apiauth.Handle("POST /logout", handleLogout(authService, logger))

	apiauth.Handle("POST /logout-all", withAuth(handleLogoutAll(authService, logger)))
	apiauth.Handle("GET /me", withAuth(handleMe()))

	apiauth.Handle("POST /introspect", withAuth(handleIntrospect(authService), models.RoleAdmin))
	apiauth.Handle("POST /users/{id}/revoke", withAuth(handleRevokeUser(authService, logger), models.RoleAdmin))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("GET /healthz", handleHealth(health, logger))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user with username, email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, email string, password string) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrInvalidCredentials if user not found or password is wrong
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Refresh tokens using refresh token
	// If token expired: has to return apperrors.ErrExpiredToken
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	// If token already used or revoked: has to return apperrors.ErrTokenRevoked
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke single refresh token or every token of the user
	Logout(ctx context.Context, refresh string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	RevokeUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Decode access token without verification
	Introspect(access string) (tokencodec.Claims, int64, error)

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)
	ClearRefreshCookie(w http.ResponseWriter)

	// Get refresh token from request cookie
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return principal if it authenticated or error
	AuthenticateRequest(r *http.Request) (models.Principal, error)
	Scheme() string
}

type healthChecker interface {
	Ping(ctx context.Context) error
}
