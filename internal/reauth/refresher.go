package reauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/authcore/internal/logger"
)

const (
	CodeUnauthorized = "unauthorized"
	CodeUnavailable  = "unavailable"
	CodeUnknown      = "unknown"

	defaultRefreshTimeout = 5 * time.Second
)

type RefreshError struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (re *RefreshError) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", re.Code, re.RetryAfter, re.Err)
}

func (re *RefreshError) Unwrap() error {
	return re.Err
}

// Unauthorized refresh error is ErrRefreshRejected
func (re *RefreshError) Is(target error) bool {
	return target == ErrRefreshRejected && re.Code == CodeUnauthorized
}

// IsTransient reports refresh failures worth retrying with the same credentials
func IsTransient(err error) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Code == CodeUnavailable
}

func NewRefreshError(code string, retryAfter int, err error) *RefreshError {
	return &RefreshError{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

// HTTPRefresher exchanges refresh token on auth service refresh endpoint
type HTTPRefresher struct {
	RefreshURL string

	client *http.Client
	logger logger.Logger
}

func NewHTTPRefresher(refreshURL string, client *http.Client, l logger.Logger) *HTTPRefresher {
	if client == nil {
		client = &http.Client{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &HTTPRefresher{
		RefreshURL: refreshURL,
		client:     client,
		logger:     l,
	}
}

func (h *HTTPRefresher) Refresh(ctx context.Context, refresh string) (Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRefreshTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return Credentials{}, NewRefreshError(CodeUnknown, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.RefreshURL, bytes.NewReader(body))
	if err != nil {
		return Credentials{}, NewRefreshError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Credentials{}, NewRefreshError(CodeUnavailable, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return h.processSuccess(resp)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Credentials{}, NewRefreshError(CodeUnauthorized, 0, errors.New("refresh token not accepted"))
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return h.processUnavailable(resp)
	default:
		h.logger.Warn("Failed to refresh credentials", "status_code", resp.StatusCode)
		return Credentials{}, NewRefreshError(CodeUnknown, 0, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

func (h *HTTPRefresher) processSuccess(resp *http.Response) (Credentials, error) {
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err := json.NewDecoder(resp.Body).Decode(&pair)
	if err != nil {
		h.logger.Warn("Failed to decode refresh response", "error", err)
		return Credentials{}, NewRefreshError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}
	if pair.AccessToken == "" {
		return Credentials{}, NewRefreshError(CodeUnknown, 0, errors.New("no access token in response"))
	}

	return Credentials{Access: pair.AccessToken, Refresh: pair.RefreshToken}, nil
}

func (h *HTTPRefresher) processUnavailable(resp *http.Response) (Credentials, error) {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 0
	}

	h.logger.Warn("Auth service unavailable", "status_code", resp.StatusCode, "retry_after", retryAfter)
	return Credentials{}, NewRefreshError(CodeUnavailable, retryAfter, fmt.Errorf("status code %d", resp.StatusCode))
}
