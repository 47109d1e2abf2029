// Package sweeper physically removes expired refresh tokens on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
)

const defaultSchedule = "@every 1h"

type expiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	schedule string
	store    expiredDeleter
	logger   logger.Logger
}

// New validates schedule: standard 5 fields cron spec or descriptor like '@every 1h'.
// Empty schedule means default one.
func New(schedule string, store expiredDeleter, l logger.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q. Err: %w", schedule, err)
	}

	return &Sweeper{schedule: schedule, store: store, logger: l}, nil
}

// Sweep deletes expired tokens once
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("expired refresh tokens sweep failed", "error", err)
		return 0, err
	}

	metrics.SweepDeleted.Add(float64(deleted))
	s.logger.Debug("expired refresh tokens swept", "deleted", deleted)
	return deleted, nil
}

// Start runs sweep on schedule until ctx is done.
// Next run is skipped if previous one is still running.
// Returned channel is closed when running sweep finished after ctx is done.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})

	l := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	// Schedule is validated in New
	_, _ = c.AddFunc(s.schedule, func() {
		_, _ = s.Sweep(ctx)
	})
	c.Start()

	go func() {
		defer close(stopped)
		<-ctx.Done()
		<-c.Stop().Done()
		s.logger.Debug("Sweeper stopped")
	}()

	return stopped
}

// cronLogger adapts service logger to cron one
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
