package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/vovakirdan/meet-server/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const defaultListLimit = 50

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies pending migrations.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; an in-memory database also lives on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== IssuanceStore implementation ====

// RecordIssuance inserts a token issuance record.
func (s *SQLiteStore) RecordIssuance(ctx context.Context, issuance *store.Issuance) error {
	query := `
		INSERT INTO token_issuances (id, room, identity, kind, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		issuance.ID,
		issuance.Room,
		issuance.Identity,
		issuance.Kind,
		issuance.IssuedAt.UTC(),
		issuance.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert issuance: %w", err)
	}
	return nil
}

// ListIssuances returns the latest issuance records for a room.
func (s *SQLiteStore) ListIssuances(ctx context.Context, room string, limit int) ([]store.Issuance, error) {
	query := `
		SELECT id, room, identity, kind, issued_at, expires_at
		FROM token_issuances
		WHERE room = ?
		ORDER BY issued_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, room, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query issuances: %w", err)
	}
	defer rows.Close()

	var out []store.Issuance
	for rows.Next() {
		var is store.Issuance
		if err := rows.Scan(&is.ID, &is.Room, &is.Identity, &is.Kind, &is.IssuedAt, &is.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan issuance: %w", err)
		}
		out = append(out, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issuances: %w", err)
	}
	return out, nil
}

// ==== RoomEventStore implementation ====

// RecordRoomEvent inserts a webhook event.
func (s *SQLiteStore) RecordRoomEvent(ctx context.Context, event *store.RoomEvent) error {
	query := `
		INSERT INTO room_events (id, event_id, event, room, participant, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventID,
		event.Event,
		event.Room,
		event.Participant,
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert room event: %w", err)
	}
	return nil
}

// ListRoomEvents returns the latest webhook events for a room.
func (s *SQLiteStore) ListRoomEvents(ctx context.Context, room string, limit int) ([]store.RoomEvent, error) {
	query := `
		SELECT id, event_id, event, room, participant, created_at
		FROM room_events
		WHERE room = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, room, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query room events: %w", err)
	}
	defer rows.Close()

	var out []store.RoomEvent
	for rows.Next() {
		var ev store.RoomEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Event, &ev.Room, &ev.Participant, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room events: %w", err)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

var _ store.Store = (*SQLiteStore)(nil)
