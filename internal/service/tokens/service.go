package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/callengine"
	"github.com/vovakirdan/meet-server/internal/roomname"
	"github.com/vovakirdan/meet-server/internal/service/rooms"
	"github.com/vovakirdan/meet-server/internal/store"
)

// Common errors for token issuance.
var (
	ErrInvalidRequest  = errors.New("invalid token request")
	ErrInvalidRoomName = errors.New("invalid room name")
	ErrMisconfigured   = errors.New("server misconfigured")
	// ErrUnavailable is the provisioner's sentinel so upstream failures are reported once.
	ErrUnavailable = rooms.ErrUnavailable
)

// JoinRequest carries the already parsed query of a participant token request.
type JoinRequest struct {
	Room     string
	Identity string
	Name     string
	Metadata string
}

// Service runs the participant flow: validate, provision the room, issue the token.
type Service struct {
	validator   *roomname.Validator
	provisioner *rooms.Provisioner
	issuer      *Issuer
	policy      callengine.RoomPolicy
	audit       store.IssuanceStore
	log         *zerolog.Logger
}

// NewService creates a token Service. audit can be nil to disable issuance records.
func NewService(
	validator *roomname.Validator,
	provisioner *rooms.Provisioner,
	issuer *Issuer,
	policy callengine.RoomPolicy,
	audit store.IssuanceStore,
	logger *zerolog.Logger,
) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		validator:   validator,
		provisioner: provisioner,
		issuer:      issuer,
		policy:      policy,
		audit:       audit,
		log:         logger,
	}
}

// Validator returns the room name validator in use.
func (s *Service) Validator() *roomname.Validator {
	return s.validator
}

// Issuer returns the token issuer in use.
func (s *Service) Issuer() *Issuer {
	return s.issuer
}

// Join issues a participant token for req, creating the room first if needed.
// Nothing is sent upstream when the request or configuration is invalid.
func (s *Service) Join(ctx context.Context, req JoinRequest) (Token, error) {
	if req.Identity == "" || req.Room == "" {
		return Token{}, fmt.Errorf("%w: identity and room are required", ErrInvalidRequest)
	}
	if !s.validator.Valid(req.Room) {
		return Token{}, fmt.Errorf("%w: room name must match this format %s", ErrInvalidRoomName, s.validator.Format())
	}
	if err := s.issuer.Ready(); err != nil {
		return Token{}, err
	}

	if err := s.provisioner.EnsureRoom(ctx, req.Room, s.policy); err != nil {
		switch {
		case errors.Is(err, rooms.ErrNotConfigured):
			return Token{}, fmt.Errorf("%w: %w", ErrMisconfigured, err)
		case errors.Is(err, ErrUnavailable):
			return Token{}, err
		default:
			return Token{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	token, err := s.issuer.IssueParticipant(req.Identity, req.Name, req.Metadata, req.Room)
	if err != nil {
		return Token{}, err
	}

	s.record(ctx, token)
	return token, nil
}

// IssueAgent issues an agent token for room and records it.
func (s *Service) IssueAgent(ctx context.Context, identity, room string) (Token, error) {
	token, err := s.issuer.IssueAgent(identity, room)
	if err != nil {
		return Token{}, err
	}
	s.record(ctx, token)
	return token, nil
}

// record writes the audit entry; failures never affect the caller.
func (s *Service) record(ctx context.Context, token Token) {
	if s.audit == nil {
		return
	}
	err := s.audit.RecordIssuance(ctx, &store.Issuance{
		ID:        uuid.NewString(),
		Room:      token.Room,
		Identity:  token.Identity,
		Kind:      token.Kind,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("room", token.Room).Str("identity", token.Identity).Msg("failed to record token issuance")
	}
}
