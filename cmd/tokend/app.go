package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkomarov/tokend/internal/db"
	"github.com/dkomarov/tokend/internal/handlers"
	"github.com/dkomarov/tokend/internal/logger"
	"github.com/dkomarov/tokend/internal/repository/postgres"
	"github.com/dkomarov/tokend/internal/service/auth"
	"github.com/dkomarov/tokend/internal/service/auth/tokenmanager"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	encoder, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: c.SecretKey,
		AccessTTL: c.AccessTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	engine, err := auth.NewRotationEngine(
		auth.RotationConfig{RefreshTTL: c.RefreshTTL, Logger: log},
		encoder,
		storage.Refresh(),
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating rotation engine. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{}, engine, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, log)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		Logger:     log,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	s.Logger.Info("starting HTTP server", "addr", s.ListenAddr)

	err := httpServer.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-idleConnsClosed
	return nil
}
