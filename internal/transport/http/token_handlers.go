package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/callengine"
	"github.com/vovakirdan/meet-server/internal/service/tokens"
)

// TokenHandlers provides the participant token endpoint.
type TokenHandlers struct {
	tokens *tokens.Service
	log    *zerolog.Logger
}

// NewTokenHandlers creates a new token handlers instance.
func NewTokenHandlers(svc *tokens.Service, logger *zerolog.Logger) *TokenHandlers {
	return &TokenHandlers{
		tokens: svc,
		log:    logger,
	}
}

// TokenResponse is returned for a successful token request.
type TokenResponse struct {
	Identity    string `json:"identity"`
	AccessToken string `json:"accessToken"`
}

// IssueToken provisions the room if needed and returns a participant token.
// GET /api/token?roomName=&identity=&name=&metadata=
func (h *TokenHandlers) IssueToken(c *gin.Context) {
	query := c.Request.URL.Query()

	identity, okIdentity := single(query, "identity")
	roomName, okRoom := single(query, "roomName")
	if !okIdentity || !okRoom {
		h.log.Debug().Msg("token request without identity or room name")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "identity and roomName have to be provided exactly once"})
		return
	}

	name, ok := single(query, "name")
	if !ok {
		h.log.Debug().Str("room", roomName).Msg("token request without a single name")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "provide exactly one name"})
		return
	}

	if len(query["metadata"]) > 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "provide max one metadata string"})
		return
	}

	token, err := h.tokens.Join(c.Request.Context(), tokens.JoinRequest{
		Room:     roomName,
		Identity: identity,
		Name:     name,
		Metadata: query.Get("metadata"),
	})
	if err != nil {
		h.writeJoinError(c, roomName, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Identity:    token.Identity,
		AccessToken: token.JWT,
	})
}

func (h *TokenHandlers) writeJoinError(c *gin.Context, room string, err error) {
	switch {
	case errors.Is(err, tokens.ErrInvalidRoomName):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "room name must match this format " + h.tokens.Validator().Format(),
		})
	case errors.Is(err, tokens.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid token request"})
	case errors.Is(err, callengine.ErrServiceNotConfigured):
		h.log.Error().Err(err).Msg("livekit websocket url not configured")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "livekit websocket url not provided"})
	case errors.Is(err, tokens.ErrMisconfigured):
		h.log.Error().Err(err).Msg("token signing not configured")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "server misconfigured"})
	case errors.Is(err, tokens.ErrUnavailable):
		h.log.Warn().Err(err).Str("room", room).Msg("failed to provision room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("room", room).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

// single returns the only non-empty value of key.
func single(values url.Values, key string) (string, bool) {
	v := values[key]
	if len(v) != 1 || v[0] == "" {
		return "", false
	}
	return v[0], true
}
