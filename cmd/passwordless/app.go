package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/passwordless/internal/db"
	"github.com/nkiryanov/passwordless/internal/handlers"
	"github.com/nkiryanov/passwordless/internal/logger"
	"github.com/nkiryanov/passwordless/internal/models"
	"github.com/nkiryanov/passwordless/internal/repository/postgres"
	"github.com/nkiryanov/passwordless/internal/service/auth"
	"github.com/nkiryanov/passwordless/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/passwordless/internal/service/dispatch"
	"github.com/nkiryanov/passwordless/internal/service/google"
	"github.com/nkiryanov/passwordless/internal/service/otp"
	"github.com/nkiryanov/passwordless/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	closers []func() error
}

func NewServerApp(ctx context.Context, c *Config) (app *ServerApp, err error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app = &ServerApp{ListenAddr: c.ListenAddr, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	// Initialize repositories
	userRepo := &postgres.UserRepo{DB: pool}

	// Initialize services
	codec, err := otp.New(otp.Config{SecretKey: c.OTPSecret, TTL: c.OTPTTL, Leeway: c.Leeway})
	if err != nil {
		return nil, fmt.Errorf("error while creating otp codec. Err: %w", err)
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessSecret,
		RefreshSecret: c.RefreshSecret,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		Leeway:        c.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	dispatcher, err := app.newDispatcher(c)
	if err != nil {
		return nil, fmt.Errorf("error while creating otp dispatcher. Err: %w", err)
	}

	authService, err := auth.NewService(
		auth.Config{
			CookieSecure:    c.CookieSecure,
			RotateRefresh:   c.RotateRefresh,
			DispatchTimeout: c.DispatchTimeout,
		},
		codec,
		tokenManager,
		userRepo,
		dispatcher,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	userService := user.NewService(userRepo)

	// Router checks provider against nil, so typed nil must not leak into it
	var googleProvider interface {
		AuthCodeURL(state string) string
		Exchange(ctx context.Context, code string) (models.FederatedProfile, error)
	}
	if c.GoogleEnabled() {
		googleProvider, err = google.New(ctx, google.Config{
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
			RedirectURL:  c.GoogleRedirectURL,
		})
		if err != nil {
			return nil, fmt.Errorf("error while creating google provider. Err: %w", err)
		}
	}

	app.Handler = handlers.NewRouter(authService, userService, googleProvider, logger)

	return app, nil
}

func (s *ServerApp) newDispatcher(c *Config) (dispatch.Dispatcher, error) {
	switch c.DispatchBackend {
	case BackendRedis:
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		s.closers = append(s.closers, client.Close)

		d, err := dispatch.NewRedisStream(client, c.DispatchTopic, s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, d.Close)
		return d, nil

	case BackendAMQP:
		d, err := dispatch.DialAMQP(c.AMQPURL, c.DispatchTopic)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, d.Close)
		return d, nil

	default:
		s.logger.Warn("otp codes are written to log, do not use it in production")
		return dispatch.NewLog(s.logger), nil
	}
}

// Close releases resources in reverse order of acquiring
func (s *ServerApp) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

	return err
}
