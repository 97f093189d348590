package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/auth"
	"github.com/vovakirdan/meet-server/internal/callengine"
	"github.com/vovakirdan/meet-server/internal/config"
	"github.com/vovakirdan/meet-server/internal/service/tokens"
	"github.com/vovakirdan/meet-server/internal/store"
)

// Deps holds the services exposed over HTTP.
type Deps struct {
	Tokens   *tokens.Service
	Regions  callengine.URLResolver
	Receiver WebhookReceiver
	Webhooks WebhookProcessor
	// Audit and Admin are optional; the audit endpoint is mounted only when both are set.
	Audit   store.Store
	Admin   *auth.Verifier
	Limiter *IPRateLimiter
}

// NewServer builds an HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler builds the routed handler. It is wrapped in CORS only when origins are configured.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	// Client IPs come from forwarding headers only when the peer is a trusted proxy.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Error().Err(err).Msg("invalid trusted proxies, forwarding headers ignored")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(logger), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	// Webhooks are signed by the media server and exempt from the client rate limit.
	if deps.Receiver != nil && deps.Webhooks != nil {
		webhookHandlers := NewWebhookHandlers(deps.Receiver, deps.Webhooks, logger)
		router.POST("/api/webhook", webhookHandlers.Receive)
	}

	tokenHandlers := NewTokenHandlers(deps.Tokens, logger)
	urlHandlers := NewURLHandlers(deps.Regions, logger)
	roomHandlers := NewRoomHandlers(deps.Tokens.Validator(), deps.Audit, logger)

	api := router.Group("/api")
	api.Use(RateLimitMiddleware(deps.Limiter))
	{
		api.GET("/token", tokenHandlers.IssueToken)
		api.GET("/url", urlHandlers.GetURL)
		api.GET("/room-name", roomHandlers.NewRoomName)

		if deps.Audit != nil && deps.Admin != nil {
			admin := api.Group("/rooms")
			admin.Use(AdminAuthMiddleware(deps.Admin, logger))
			admin.GET("/:name/audit", roomHandlers.GetAudit)
		}
	}

	if len(cfg.AllowedOrigins) == 0 {
		return router
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderRequestID},
		ExposedHeaders:   []string{HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return c.Handler(router)
}

func healthHandler(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, StatusResponse{Status: "ok"})
}
