// Package enginetest provides in-memory callengine implementations for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

// RoomService is an in-memory callengine.RoomService that records calls.
type RoomService struct {
	mu      sync.Mutex
	rooms   map[string]callengine.Room
	lists   int
	creates []CreateCall

	// ListErr and CreateErr, when set, are returned by the matching method.
	ListErr   error
	CreateErr error
	// HideCreated makes ListRooms ignore rooms created through CreateRoom,
	// which simulates a concurrent creator winning the race.
	HideCreated bool
}

// CreateCall is one recorded CreateRoom invocation.
type CreateCall struct {
	Name   string
	Policy callengine.RoomPolicy
}

// NewRoomService returns an empty fake media server.
func NewRoomService() *RoomService {
	return &RoomService{rooms: make(map[string]callengine.Room)}
}

// AddRoom seeds an existing room.
func (s *RoomService) AddRoom(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[name] = callengine.Room{Name: name, SID: "RM_" + name}
}

// ListRooms implements callengine.RoomService.
func (s *RoomService) ListRooms(_ context.Context, names []string) ([]callengine.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	if s.HideCreated {
		return nil, nil
	}

	var out []callengine.Room
	for _, name := range names {
		if r, ok := s.rooms[name]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateRoom implements callengine.RoomService. A second create for the same name reports ErrRoomExists.
func (s *RoomService) CreateRoom(_ context.Context, name string, policy callengine.RoomPolicy) (*callengine.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates = append(s.creates, CreateCall{Name: name, Policy: policy})
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if _, ok := s.rooms[name]; ok {
		return nil, fmt.Errorf("create room %q: %w", name, callengine.ErrRoomExists)
	}

	room := callengine.Room{
		Name:            name,
		SID:             "RM_" + name,
		EmptyTimeout:    policy.EmptyTimeout,
		MaxParticipants: policy.MaxParticipants,
	}
	s.rooms[name] = room
	return &room, nil
}

// Creates returns the recorded CreateRoom calls.
func (s *RoomService) Creates() []CreateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreateCall(nil), s.creates...)
}

// Lists returns how many times ListRooms was called.
func (s *RoomService) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// Calls returns the total number of calls made to the fake.
func (s *RoomService) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists + len(s.creates)
}

// ErrSign is the default error of a failing Signer.
var ErrSign = errors.New("sign failed")

// Signer is a callengine.TokenSigner that records claims and returns a readable fake token.
type Signer struct {
	mu     sync.Mutex
	signed []callengine.Claims
	ttls   []time.Duration

	Err error
}

// Sign implements callengine.TokenSigner.
func (s *Signer) Sign(claims callengine.Claims, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	s.signed = append(s.signed, claims)
	s.ttls = append(s.ttls, ttl)
	return fmt.Sprintf("token-%d-%s-%s", len(s.signed), claims.Identity, claims.Grant.Room), nil
}

// Signed returns the claims passed to Sign so far.
func (s *Signer) Signed() []callengine.Claims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]callengine.Claims(nil), s.signed...)
}

// TTLs returns the ttl values passed to Sign so far.
func (s *Signer) TTLs() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.ttls...)
}

var (
	_ callengine.RoomService = (*RoomService)(nil)
	_ callengine.TokenSigner = (*Signer)(nil)
)
