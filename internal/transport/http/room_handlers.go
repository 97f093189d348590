package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/auth"
	"github.com/vovakirdan/meet-server/internal/roomname"
	"github.com/vovakirdan/meet-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room naming and room audit endpoints.
type RoomHandlers struct {
	validator *roomname.Validator
	store     store.Store
	log       *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance. st can be nil when auditing is disabled.
func NewRoomHandlers(validator *roomname.Validator, st store.Store, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		validator: validator,
		store:     st,
		log:       logger,
	}
}

// RoomNameResponse carries a freshly generated room name.
type RoomNameResponse struct {
	RoomName string `json:"roomName"`
}

// IssuanceResponse represents an issued token in audit responses.
type IssuanceResponse struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	Kind      string `json:"kind"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// RoomEventResponse represents a webhook event in audit responses.
type RoomEventResponse struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	Event       string `json:"event"`
	Participant string `json:"participant,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RoomAuditResponse is the audit trail of one room.
type RoomAuditResponse struct {
	Room      string              `json:"room"`
	Issuances []IssuanceResponse  `json:"issuances"`
	Events    []RoomEventResponse `json:"events"`
}

// NewRoomName returns a random name that passes validation.
// GET /api/room-name
func (h *RoomHandlers) NewRoomName(c *gin.Context) {
	name, err := h.validator.Generate()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate room name")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, RoomNameResponse{RoomName: name})
}

// GetAudit lists recent token issuances and webhook events of a room.
// Requires an admin token for that room.
// GET /api/rooms/:name/audit?limit=
func (h *RoomHandlers) GetAudit(c *gin.Context) {
	room := c.Param("name")

	value, exists := c.Get(ContextKeyClaims)
	if !exists {
		h.log.Error().Msg("claims not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	claims, ok := value.(*auth.Claims)
	if !ok {
		h.log.Error().Msg("invalid claims type in context")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !claims.CanAdmin(room) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "room admin grant required"})
		return
	}

	if !h.validator.Valid(room) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name must match this format " + h.validator.Format()})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	issuances, err := h.store.ListIssuances(ctx, room, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to list issuances")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	events, err := h.store.ListRoomEvents(ctx, room, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to list room events")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := RoomAuditResponse{
		Room:      room,
		Issuances: make([]IssuanceResponse, 0, len(issuances)),
		Events:    make([]RoomEventResponse, 0, len(events)),
	}
	for _, is := range issuances {
		response.Issuances = append(response.Issuances, IssuanceResponse{
			ID:        is.ID,
			Identity:  is.Identity,
			Kind:      is.Kind,
			IssuedAt:  is.IssuedAt.UTC().Format(time.RFC3339),
			ExpiresAt: is.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	for _, ev := range events {
		response.Events = append(response.Events, RoomEventResponse{
			ID:          ev.ID,
			EventID:     ev.EventID,
			Event:       ev.Event,
			Participant: ev.Participant,
			CreatedAt:   ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, response)
}
