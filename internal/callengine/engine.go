package callengine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRoomExists is returned by RoomService.CreateRoom when the room was created concurrently.
	ErrRoomExists = errors.New("room already exists")
	// ErrSignerNotConfigured is returned by TokenSigner.Sign when no key pair is set.
	ErrSignerNotConfigured = errors.New("token signer has no api key or secret")
	// ErrServiceNotConfigured is returned by RoomService calls when no server URL or key pair is set.
	ErrServiceNotConfigured = errors.New("room service url or credentials not provided")
)

// Room is the media server's view of a room.
type Room struct {
	Name            string
	SID             string
	EmptyTimeout    time.Duration
	MaxParticipants int
	NumParticipants int
}

// RoomPolicy is applied when a room is created.
type RoomPolicy struct {
	EmptyTimeout    time.Duration
	MaxParticipants int
}

// Grant is the set of capabilities a token authorizes within a single room.
type Grant struct {
	Room           string
	RoomJoin       bool
	CanPublish     bool
	CanPublishData bool
	CanSubscribe   bool

	// Elevated capabilities, only set for agents.
	RoomAdmin            bool
	RoomList             bool
	RoomRecord           bool
	CanUpdateOwnMetadata bool
}

// JoinGrant returns the grant every participant receives.
func JoinGrant(room string) Grant {
	return Grant{
		Room:           room,
		RoomJoin:       true,
		CanPublish:     true,
		CanPublishData: true,
		CanSubscribe:   true,
	}
}

// AgentGrant returns the grant used for server-side agents joining a room.
func AgentGrant(room string) Grant {
	g := JoinGrant(room)
	g.RoomAdmin = true
	g.RoomList = true
	g.RoomRecord = true
	g.CanUpdateOwnMetadata = true
	return g
}

// Claims are embedded into a signed token.
type Claims struct {
	Identity string
	Name     string
	Metadata string
	Grant    Grant
}

// RoomService abstracts the room administration API of the media server.
type RoomService interface {
	// ListRooms returns the rooms whose name is in names.
	ListRooms(ctx context.Context, names []string) ([]Room, error)
	// CreateRoom creates a room. Returns ErrRoomExists if it already exists.
	CreateRoom(ctx context.Context, name string, policy RoomPolicy) (*Room, error)
}

// TokenSigner turns claims into a signed, time-limited token.
type TokenSigner interface {
	Sign(claims Claims, ttl time.Duration) (string, error)
}

// URLResolver returns the client-facing media server URL for a region.
type URLResolver interface {
	Resolve(region string) (string, error)
}
