package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
)

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Deliver pair three ways: header, cookie and body
func renderTokenPair(w http.ResponseWriter, auth authService, pair models.TokenPair) {
	auth.SetTokenPairToResponse(w, pair)
	render.JSON(w, tokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    auth.Scheme(),
		ExpiresIn:    max(int64(time.Until(pair.Access.ExpiresAt).Seconds()), 0),
	})
}

func handleRegister(auth authService, logger logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,min=2,max=50,username"`
		Email    string `json:"email" validate:"omitempty,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=256"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Register(r.Context(), data.Login, data.Email, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			case errors.Is(err, apperrors.ErrStoreUnavailable):
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			default:
				logger.Error("user registration failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		renderTokenPair(w, auth, pair)
	})
}

func handleLogin(auth authService, logger logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,max=50"`
		Password string `json:"password" validate:"required,max=256"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Login(r.Context(), data.Login, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				logger.Info("login failed", "login", data.Login)
				render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrStoreUnavailable):
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			default:
				logger.Error("user login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		renderTokenPair(w, auth, pair)
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=256"`
}

// Refresh token from JSON body, cookie otherwise
func readRefresh(w http.ResponseWriter, r *http.Request, auth authService) (string, bool) {
	data, err := render.BindOptional[refreshRequest](w, r)
	if err != nil {
		return "", false
	}
	if data.RefreshToken != "" {
		return data.RefreshToken, true
	}

	refresh, err := auth.GetRefreshString(r)
	if err != nil {
		return "", true
	}
	return refresh, true
}

func handleTokenRefresh(auth authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, ok := readRefresh(w, r, auth)
		if !ok {
			return
		}
		if refresh == "" {
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			return
		}

		pair, err := auth.RefreshPair(r.Context(), refresh)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrStoreUnavailable):
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			case errors.Is(err, apperrors.ErrExpiredToken):
				render.ServiceError(w, "Refresh token expired", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
				errors.Is(err, apperrors.ErrTokenRevoked),
				errors.Is(err, apperrors.ErrUserNotFound):
				logger.Info("refresh rejected", "reason", apperrors.Reason(err))
				render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			default:
				logger.Error("token refresh failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		renderTokenPair(w, auth, pair)
	})
}

func handleLogout(auth authService, logger logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, ok := readRefresh(w, r, auth)
		if !ok {
			return
		}

		if refresh != "" {
			if err := auth.Logout(r.Context(), refresh); err != nil {
				logger.Error("logout failed", "error", err)
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		auth.ClearRefreshCookie(w)
		render.JSON(w, response{Message: "Logged out"})
	})
}
