package middleware

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/authz"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/userctx"
)

type authenticator interface {
	// Verify request access token and return its principal
	AuthenticateRequest(r *http.Request) (models.Principal, error)

	// Auth scheme for WWW-Authenticate challenge
	Scheme() string
}

// Authenticate verifies access token and attach principal to request context.
// Pure CPU work: no store is touched here, so revoked refresh token does not affect living access token.
func Authenticate(a authenticator, l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.AuthenticateRequest(r)
			if err != nil {
				reason := apperrors.Reason(err)
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				l.Warn("request authentication failed", "reason", reason, "uri", r.RequestURI)

				render.Unauthorized(w, a.Scheme(), errors.Is(err, apperrors.ErrExpiredToken))
				return
			}

			ctx := userctx.New(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets in principals with one of the roles only.
// No principal is 401, other role is 403. Empty roles means any authenticated principal.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := authz.Check(r.Context(), roles)
			switch {
			case errors.Is(err, apperrors.ErrUnauthenticated):
				metrics.AuthFailures.WithLabelValues(apperrors.Reason(err)).Inc()
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrInsufficientRole):
				metrics.AuthFailures.WithLabelValues(apperrors.Reason(err)).Inc()
				render.Forbidden(w)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
