package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/bookshelf-be/internal/database"
	"github.com/isdelr/bookshelf-be/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

// EventPublisher fans recorded events out to live listeners.
type EventPublisher interface {
	Publish(message []byte)
}

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error
	GetRecentEvents(ctx context.Context, limit int) ([]models.Event, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventService records account activity and publishes it.
type EventService struct {
	db        *database.DB
	publisher EventPublisher
	now       func() time.Time
}

// NewEventService creates a new EventService. publisher may be nil.
func NewEventService(db *database.DB, publisher EventPublisher) *EventService {
	return &EventService{db: db, publisher: publisher, now: time.Now}
}

// eventMessage is the websocket envelope for a recorded event.
type eventMessage struct {
	Action  string       `json:"action"`
	Payload models.Event `json:"payload"`
}

// CreateEvent logs a new event to the database and publishes it.
func (s *EventService) CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		UserID:    userID,
		CreatedAt: database.FromMillis(database.ToMillis(s.now())),
	}

	query := s.db.Rebind(`INSERT INTO events (id, type, level, message, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, event.ID, event.Type, event.Level, event.Message, toNullable(event.UserID), database.ToMillis(event.CreatedAt)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if s.publisher != nil {
		payload, err := json.Marshal(eventMessage{Action: "event", Payload: event})
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		s.publisher.Publish(payload)
	}
	return nil
}

// GetRecentEvents retrieves the most recent events from the database.
func (s *EventService) GetRecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	query := s.db.Rebind(`SELECT id, type, level, message, user_id, created_at FROM events ORDER BY created_at DESC, id DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			event     models.Event
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &event.UserID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.CreatedAt = database.FromMillis(createdAt)
		events = append(events, event)
	}
	return events, rows.Err()
}

// PruneBefore deletes events created before cutoff and returns how many were removed.
func (s *EventService) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM events WHERE created_at < ?`), database.ToMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// recordEvent stores an activity event without failing the calling operation.
func recordEvent(ctx context.Context, events EventServiceProvider, eventType, level, message string, userID *string) {
	if events == nil {
		return
	}
	if err := events.CreateEvent(ctx, eventType, level, message, userID); err != nil {
		log.Warn().Err(err).Str("type", eventType).Msg("Failed to record event")
	}
}

func toNullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
