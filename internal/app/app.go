package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/peerbeam/peerbeam-server/internal/auth"
	"github.com/peerbeam/peerbeam-server/internal/config"
	"github.com/peerbeam/peerbeam-server/internal/core"
	"github.com/peerbeam/peerbeam-server/internal/store"
	"github.com/peerbeam/peerbeam-server/internal/store/redis"
	"github.com/peerbeam/peerbeam-server/internal/store/sqlite"
	transporthttp "github.com/peerbeam/peerbeam-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	cache           *redis.Cache
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		// Degraded mode: the hub falls back to in-memory state.
		logger.Warn().Err(err).Msg("schema setup failed, running degraded")
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
		GuestTTL: cfg.GuestTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	presence := core.FanoutSink{st}
	var cache *redis.Cache
	if cfg.RedisAddr != "" {
		cache, err = redis.New(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("presence cache unavailable")
		} else {
			presence = append(presence, cache)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("presence cache connected")
		}
	}

	hub := core.NewHub(st, st, presence, core.Options{
		MaxMessageLength:   cfg.MaxMessageLength,
		HistoryLimit:       cfg.HistoryLimit,
		FallbackBufferSize: cfg.FallbackBufferSize,
		PingInterval:       cfg.PingInterval,
		PongTimeout:        cfg.PongTimeout,
		SweepInterval:      cfg.SweepInterval,
	}, logger)

	server := transporthttp.NewServer(hub, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		cache:           cache,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and cache resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close presence cache")
		}
	}
}
