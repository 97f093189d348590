package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/auth"
	"github.com/vovakirdan/meet-server/internal/callengine"
	"github.com/vovakirdan/meet-server/internal/callengine/livekit"
	"github.com/vovakirdan/meet-server/internal/config"
	"github.com/vovakirdan/meet-server/internal/regions"
	"github.com/vovakirdan/meet-server/internal/roomname"
	"github.com/vovakirdan/meet-server/internal/service/rooms"
	"github.com/vovakirdan/meet-server/internal/service/tokens"
	"github.com/vovakirdan/meet-server/internal/service/webhooks"
	"github.com/vovakirdan/meet-server/internal/store"
	"github.com/vovakirdan/meet-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/meet-server/internal/transport/http"
)

// App wires together services and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	limiter         *transporthttp.IPRateLimiter
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	validator, err := roomname.New(cfg.Rooms.NameSegments)
	if err != nil {
		return nil, fmt.Errorf("room names: %w", err)
	}

	// Optional audit database
	var st store.Store
	if cfg.DatabasePath != "" {
		sqliteStore, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		st = sqliteStore
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")
	}

	// One engine, and one pooled HTTP client, for the whole process.
	engine := livekit.New(livekit.Config{
		APIKey:         cfg.LiveKit.APIKey,
		APISecret:      cfg.LiveKit.APISecret,
		WSURL:          cfg.LiveKit.WSURL,
		RequestTimeout: cfg.LiveKit.RequestTimeout,
	})
	if err := engine.Ready(); err != nil {
		logger.Warn().Err(err).Msg("livekit api key or secret missing, token requests will fail")
	}
	if _, err := livekit.AdminURL(cfg.LiveKit.WSURL); err != nil {
		logger.Warn().Err(err).Msg("livekit websocket url unusable, rooms cannot be provisioned")
	}

	policy := callengine.RoomPolicy{
		EmptyTimeout:    cfg.Rooms.EmptyTimeout,
		MaxParticipants: cfg.Rooms.MaxParticipants,
	}

	var audit store.IssuanceStore
	var events store.RoomEventStore
	if st != nil {
		audit = st
		events = st
	}

	tokenService := tokens.NewService(
		validator,
		rooms.NewProvisioner(engine, logger),
		tokens.NewIssuer(engine, cfg.Token.TTL),
		policy,
		audit,
		logger,
	)

	webhookService := webhooks.NewService(webhooks.Config{
		AgentName:   cfg.Agent.Name,
		DispatchURL: cfg.Agent.DispatchURL,
		LiveKitURL:  cfg.LiveKit.WSURL,
	}, events, tokenService, logger)

	limiter := transporthttp.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	deps := transporthttp.Deps{
		Tokens:   tokenService,
		Regions:  regions.New(serverURL(cfg), cfg.LiveKit.RegionURLs),
		Receiver: engine,
		Webhooks: webhookService,
		Audit:    st,
		Admin:    auth.NewVerifier(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		Limiter:  limiter,
	}
	server := transporthttp.NewServer(deps, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		limiter:         limiter,
		store:           st,
		log:             logger,
	}, nil
}

// serverURL is the client-facing default URL; it falls back to the websocket URL.
func serverURL(cfg *config.Config) string {
	if cfg.LiveKit.ServerURL != "" {
		return cfg.LiveKit.ServerURL
	}
	return cfg.LiveKit.WSURL
}

// Handler exposes the routed HTTP handler.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.limiter.Run(ctx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
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

// Close releases resources without running the server.
func (a *App) Close() {
	a.cleanup()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
		a.store = nil
	}
}
