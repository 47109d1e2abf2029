package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/nkiryanov/authcore/internal/db"
	"github.com/nkiryanov/authcore/internal/handlers"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/repository/postgres"
	redisrepo "github.com/nkiryanov/authcore/internal/repository/redis"
	"github.com/nkiryanov/authcore/internal/service/auth"
	"github.com/nkiryanov/authcore/internal/service/auth/refreshstore"
	"github.com/nkiryanov/authcore/internal/service/auth/tokencodec"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authcore/internal/service/sweeper"
)

const (
	shutdownTimeout = 5 * time.Second
	redisKeyPrefix  = "authcore"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	sweeper *sweeper.Sweeper
	closers []func()
}

// Stores health: postgres always, redis when it keeps refresh tokens
type storesHealth struct {
	pool *pgxpool.Pool
	rdb  goredis.UniversalClient
}

func (h storesHealth) Ping(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel, logger.WithFile(c.LogFile))
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	for _, w := range c.Warnings() {
		l.Warn(w)
	}

	codec, err := tokencodec.New(tokencodec.Config{
		Secret:   c.SecretKey,
		Alg:      c.SigningAlg,
		Issuer:   c.Issuer,
		Audience: c.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token codec. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app := &ServerApp{ListenAddr: c.ListenAddr, logger: l, closers: []func(){pool.Close}}

	// Initialize repositories
	storage := postgres.NewStorage(pool)
	health := storesHealth{pool: pool}

	var refreshRepo repository.RefreshTokenRepo
	switch c.StoreBackend {
	case storeRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		health.rdb = rdb
		refreshRepo = redisrepo.NewRefreshTokenRepo(rdb, redisKeyPrefix)
	default:
		refreshRepo = storage.Refresh()
	}

	// Initialize services
	store, err := refreshstore.New(
		refreshstore.Config{TTL: c.RefreshTTL, Timeout: c.StoreTimeout},
		refreshRepo,
		refreshstore.WithLogger(l.With("component", "refreshstore")),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating refresh store. Err: %w", err)
	}
	tokens, err := tokenmanager.New(tokenmanager.Config{AccessTTL: c.AccessTTL}, codec, store)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{
		AccessHeaderName: c.HeaderName,
		AccessAuthScheme: c.Scheme,
		RevokeAllOnReuse: c.RevokeAllOnReuse,
		Logger:           l.With("component", "auth"),
	}, tokens, storage.User())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.sweeper, err = sweeper.New(c.SweepSchedule, store, l.With("component", "sweeper"))
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Handler = handlers.NewRouter(authService, health, l)
	if len(c.CORSOrigins) > 0 {
		app.Handler = cors.New(cors.Options{
			AllowedOrigins:   c.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{c.HeaderName, "Content-Type"},
			ExposedHeaders:   []string{c.HeaderName},
			AllowCredentials: true,
		}).Handler(app.Handler)
	}

	return app, nil
}

// Close releases store connections
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and sweeper, closes them gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.Close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.sweeper.Start(srvCtx)
	idleConnsClosed := make(chan struct{})

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
