package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

// Common errors for room provisioning.
var (
	ErrNotConfigured = errors.New("room service not configured")
	ErrUnavailable   = errors.New("room service unavailable")
)

// Provisioner makes sure rooms exist on the media server before participants join.
type Provisioner struct {
	service callengine.RoomService
	log     *zerolog.Logger
}

// NewProvisioner creates a Provisioner. svc can be nil if no media server is configured.
func NewProvisioner(svc callengine.RoomService, logger *zerolog.Logger) *Provisioner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Provisioner{
		service: svc,
		log:     logger,
	}
}

// EnsureRoom creates the room with the given policy unless it is already listed.
// The media server is the authority on uniqueness: a create that loses a race
// against another request reports ErrRoomExists, which counts as success.
// Upstream failures are wrapped in ErrUnavailable and not retried.
func (p *Provisioner) EnsureRoom(ctx context.Context, name string, policy callengine.RoomPolicy) error {
	if p.service == nil {
		return ErrNotConfigured
	}

	existing, err := p.service.ListRooms(ctx, []string{name})
	if err != nil {
		return upstreamError("list rooms", err)
	}
	for _, r := range existing {
		if r.Name == name {
			return nil
		}
	}

	room, err := p.service.CreateRoom(ctx, name, policy)
	if err != nil {
		if errors.Is(err, callengine.ErrRoomExists) {
			p.log.Debug().Str("room", name).Msg("room created concurrently")
			return nil
		}
		return upstreamError("create room", err)
	}

	p.log.Info().
		Str("room", room.Name).
		Str("sid", room.SID).
		Dur("empty_timeout", room.EmptyTimeout).
		Int("max_participants", room.MaxParticipants).
		Msg("room created")
	return nil
}

func upstreamError(op string, err error) error {
	if errors.Is(err, callengine.ErrServiceNotConfigured) {
		return fmt.Errorf("%s: %w: %w", op, ErrNotConfigured, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
