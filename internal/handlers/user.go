package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/userctx"
)

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

func handleMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := userctx.FromContext(r.Context())
		render.JSON(w, p)
	})
}

func handleLogoutAll(auth authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := userctx.FromContext(r.Context())

		count, err := auth.LogoutAll(r.Context(), p.UserID)
		if err != nil {
			logger.Error("logout everywhere failed", "user_id", p.UserID, "error", err)
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		auth.ClearRefreshCookie(w)
		render.JSON(w, revokedResponse{Revoked: count})
	})
}

func handleIntrospect(auth authService) http.Handler {
	type request struct {
		Token string `json:"token" validate:"required,max=4096"`
	}
	type response struct {
		models.Principal
		ID               string   `json:"jti"`
		Issuer           string   `json:"iss"`
		Audience         []string `json:"aud"`
		IssuedAt         int64    `json:"iat"`
		ExpiresAt        int64    `json:"exp"`
		RemainingSeconds int64    `json:"remaining_seconds"`

		// Claims are decoded, signature is not checked
		Verified bool `json:"verified"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		claims, remaining, err := auth.Introspect(data.Token)
		if err != nil {
			render.ServiceError(w, "Token could not be decoded", http.StatusBadRequest)
			return
		}

		render.JSON(w, response{
			Principal:        claims.Principal,
			ID:               claims.ID,
			Issuer:           claims.Issuer,
			Audience:         claims.Audience,
			IssuedAt:         claims.IssuedAt.Unix(),
			ExpiresAt:        claims.ExpiresAt.Unix(),
			RemainingSeconds: remaining,
			Verified:         false,
		})
	})
}

func handleRevokeUser(auth authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}

		count, err := auth.RevokeUser(r.Context(), userID)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "User not found", http.StatusNotFound)
			default:
				logger.Error("user sessions revocation failed", "user_id", userID, "error", err)
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			}
			return
		}

		admin, _ := userctx.FromContext(r.Context())
		logger.Warn("user sessions revoked by admin", "user_id", userID, "admin_id", admin.UserID, "count", count)
		render.JSON(w, revokedResponse{Revoked: count})
	})
}

func handleHealth(health healthChecker, logger logger.Logger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := health.Ping(r.Context()); err != nil {
			logger.Error("health check failed", "error", err)
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Status: "ok"})
	})
}
