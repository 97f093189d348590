package store

import (
	"context"
	"time"
)

// Issuance is the audit record of one issued token. The token itself is never stored.
type Issuance struct {
	ID        string
	Room      string
	Identity  string
	Kind      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RoomEvent is a webhook event received from the media server.
type RoomEvent struct {
	ID          string
	EventID     string
	Event       string
	Room        string
	Participant string
	CreatedAt   time.Time
}

// IssuanceStore persists token issuance records.
type IssuanceStore interface {
	RecordIssuance(ctx context.Context, issuance *Issuance) error
	// ListIssuances returns the newest records for room first.
	ListIssuances(ctx context.Context, room string, limit int) ([]Issuance, error)
}

// RoomEventStore persists media server webhook events.
type RoomEventStore interface {
	RecordRoomEvent(ctx context.Context, event *RoomEvent) error
	// ListRoomEvents returns the newest events for room first.
	ListRoomEvents(ctx context.Context, room string, limit int) ([]RoomEvent, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	IssuanceStore
	RoomEventStore
	Close() error
}
