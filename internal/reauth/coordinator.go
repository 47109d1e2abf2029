// Package reauth recovers client calls rejected with expired access token:
// refresh credentials once, then replay the call once.
package reauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nkiryanov/authcore/internal/logger"
)

var (
	// Returned by Do when credentials can't be refreshed and user has to log in again.
	// Held credentials are cleared then.
	ErrReloginRequired = errors.New("re-login required")

	// Calls return error wrapping ErrAuthFailed to signal that access token was rejected
	ErrAuthFailed = errors.New("authentication failed")

	// Refresher returns error wrapping ErrRefreshRejected if refresh token is not accepted anymore
	ErrRefreshRejected = errors.New("refresh token rejected")
)

type Credentials struct {
	Access  string
	Refresh string
}

type Refresher interface {
	// Exchange refresh token to new credentials
	Refresh(ctx context.Context, refresh string) (Credentials, error)
}

type Coordinator struct {
	mu    sync.Mutex
	creds Credentials

	// One refresh in flight; channel to respect context while waiting
	refreshing chan struct{}

	refresher     Refresher
	isAuthFailure func(error) bool
	isTransient   func(error) bool
	logger        logger.Logger
}

type Option func(*Coordinator)

// Treat errors matched by fn as access token rejection
func WithAuthFailure(fn func(error) bool) Option {
	return func(c *Coordinator) { c.isAuthFailure = fn }
}

// Keep credentials when refresh fails with error matched by fn; caller may retry later.
// Without it every failed refresh clears credentials.
func WithTransientFailure(fn func(error) bool) Option {
	return func(c *Coordinator) { c.isTransient = fn }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		refreshing: make(chan struct{}, 1),
		refresher:  refresher,
		isAuthFailure: func(err error) bool {
			return errors.Is(err, ErrAuthFailed)
		},
		isTransient: func(error) bool { return false },
		logger:      logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Coordinator) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

func (c *Coordinator) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// Clear forgets every held credential
func (c *Coordinator) Clear() {
	c.SetCredentials(Credentials{})
}

// Do runs call with current access token.
// If call fails as unauthenticated, credentials are refreshed once and call is replayed once;
// result of the replay is returned as is.
//
// Refresh failed or no refresh token held: credentials cleared, ErrReloginRequired returned.
// Failures matched by WithTransientFailure keep credentials and are returned as is.
func (c *Coordinator) Do(ctx context.Context, call func(ctx context.Context, access string) error) error {
	access := c.Credentials().Access

	err := call(ctx, access)
	if err == nil || !c.isAuthFailure(err) {
		return err
	}

	access, err = c.refresh(ctx, access)
	if err != nil {
		return err
	}

	return call(ctx, access)
}

// refresh exchanges credentials unless other call already did it since 'stale' access token was used
func (c *Coordinator) refresh(ctx context.Context, stale string) (string, error) {
	select {
	case c.refreshing <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.refreshing }()

	creds := c.Credentials()
	if creds.Access != "" && creds.Access != stale {
		return creds.Access, nil
	}
	if creds.Refresh == "" {
		c.Clear()
		return "", ErrReloginRequired
	}

	next, err := c.refresher.Refresh(ctx, creds.Refresh)
	switch {
	case err == nil:
	case !errors.Is(err, ErrRefreshRejected) && c.isTransient(err):
		c.logger.Warn("credentials refresh failed", "error", err)
		return "", fmt.Errorf("credentials refresh failed: %w", err)
	default:
		c.logger.Info("credentials refresh failed, re-login required", "error", err)
		c.Clear()
		return "", fmt.Errorf("%w: %w", ErrReloginRequired, err)
	}

	// Server may not rotate refresh token
	if next.Refresh == "" {
		next.Refresh = creds.Refresh
	}
	c.SetCredentials(next)

	return next.Access, nil
}
