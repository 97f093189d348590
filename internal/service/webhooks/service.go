package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/service/tokens"
	"github.com/vovakirdan/meet-server/internal/store"
)

// EventRoomStarted is the LiveKit event that may trigger an agent dispatch.
const EventRoomStarted = "room_started"

const defaultDispatchTimeout = 10 * time.Second

// ErrDispatch is returned when the agent dispatcher rejects or cannot receive a dispatch.
var ErrDispatch = errors.New("agent dispatch failed")

// AgentIssuer mints agent tokens.
type AgentIssuer interface {
	IssueAgent(ctx context.Context, identity, room string) (tokens.Token, error)
}

// Config controls agent dispatch. An empty DispatchURL disables it.
type Config struct {
	AgentName   string
	DispatchURL string
	// LiveKitURL is handed to the agent so it knows where to connect.
	LiveKitURL string
	HTTPClient *http.Client
}

// Dispatch is the JSON body posted to the agent dispatcher.
type Dispatch struct {
	Room  string `json:"room"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Service handles verified LiveKit webhook events.
type Service struct {
	cfg    Config
	client *http.Client
	events store.RoomEventStore
	agents AgentIssuer
	log    *zerolog.Logger
}

// NewService creates a webhook Service. events and agents can be nil.
func NewService(cfg Config, events store.RoomEventStore, agents AgentIssuer, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDispatchTimeout}
	}
	return &Service{
		cfg:    cfg,
		client: client,
		events: events,
		agents: agents,
		log:    logger,
	}
}

// Handle records the event and dispatches an agent into rooms that just started and still have a free seat.
func (s *Service) Handle(ctx context.Context, event *lkproto.WebhookEvent) error {
	room := event.GetRoom()
	roomName := room.GetName()

	s.log.Info().
		Str("event", event.GetEvent()).
		Str("event_id", event.GetId()).
		Str("room", roomName).
		Str("participant", event.GetParticipant().GetIdentity()).
		Msg("webhook event received")

	s.record(ctx, event)

	if event.GetEvent() != EventRoomStarted || room == nil {
		return nil
	}
	if room.GetNumParticipants() >= room.GetMaxParticipants() {
		s.log.Debug().Str("room", roomName).Msg("room is full, no agent dispatched")
		return nil
	}
	if s.cfg.DispatchURL == "" || s.agents == nil {
		return nil
	}

	return s.dispatch(ctx, roomName)
}

func (s *Service) dispatch(ctx context.Context, room string) error {
	token, err := s.agents.IssueAgent(ctx, s.cfg.AgentName, room)
	if err != nil {
		return fmt.Errorf("issue agent token: %w", err)
	}

	body, err := json.Marshal(Dispatch{Room: room, URL: s.cfg.LiveKitURL, Token: token.JWT})
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.DispatchURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: dispatcher answered %d", ErrDispatch, resp.StatusCode)
	}

	s.log.Info().Str("room", room).Str("agent", s.cfg.AgentName).Msg("agent dispatched")
	return nil
}

// record stores the event; failures are logged only.
func (s *Service) record(ctx context.Context, event *lkproto.WebhookEvent) {
	if s.events == nil {
		return
	}

	createdAt := time.Now()
	if ts := event.GetCreatedAt(); ts > 0 {
		createdAt = time.Unix(ts, 0)
	}

	err := s.events.RecordRoomEvent(ctx, &store.RoomEvent{
		ID:          uuid.NewString(),
		EventID:     event.GetId(),
		Event:       event.GetEvent(),
		Room:        event.GetRoom().GetName(),
		Participant: event.GetParticipant().GetIdentity(),
		CreatedAt:   createdAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", event.GetId()).Msg("failed to record webhook event")
	}
}
