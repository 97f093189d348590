package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

// URLHandlers resolves the LiveKit URL a client should connect to.
type URLHandlers struct {
	resolver callengine.URLResolver
	log      *zerolog.Logger
}

// NewURLHandlers creates a new URL handlers instance.
func NewURLHandlers(resolver callengine.URLResolver, logger *zerolog.Logger) *URLHandlers {
	return &URLHandlers{
		resolver: resolver,
		log:      logger,
	}
}

// URLResponse carries the resolved server URL.
type URLResponse struct {
	URL string `json:"url"`
}

// GetURL handles region lookups.
// GET /api/url?region=
func (h *URLHandlers) GetURL(c *gin.Context) {
	regions := c.QueryArray("region")
	if len(regions) > 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "provide max one region string"})
		return
	}

	var region string
	if len(regions) == 1 {
		region = regions[0]
	}

	u, err := h.resolver.Resolve(region)
	if err != nil {
		h.log.Error().Err(err).Str("region", region).Msg("couldn't resolve livekit url")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, URLResponse{URL: u})
}
