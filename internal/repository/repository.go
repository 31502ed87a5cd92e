// Package repository implements all database queries for the event checkout system.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anchor-social/anchor-events/internal/model"
	"github.com/anchor-social/anchor-events/internal/statestore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// EventRepository handles persistence for events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event and returns it with a generated UUID.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Location:    req.Location,
		PriceCents:  req.PriceCents,
		ImageURL:    req.ImageURL,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, title, description, date, location, price, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		event.ID, event.Title, event.Description, event.Date, event.Location,
		event.PriceCents, event.ImageURL, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// List returns all events ordered by event date descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, description, date, location, price, COALESCE(image_url, ''), created_at
		 FROM events
		 ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.PriceCents, &e.ImageURL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, title, description, date, location, price, COALESCE(image_url, ''), created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.PriceCents, &e.ImageURL, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// StateRepository is the durable driver behind statestore.Store: per-profile
// checkout state persisted as key/value rows. Writes are last-write-wins with
// no cross-writer coordination, matching the store's contract.
type StateRepository struct {
	db *pgxpool.Pool
}

// NewStateRepository constructs a StateRepository.
func NewStateRepository(db *pgxpool.Pool) *StateRepository {
	return &StateRepository{db: db}
}

var _ statestore.Store = (*StateRepository)(nil)

// Get returns the value stored under key for the profile.
func (r *StateRepository) Get(ctx context.Context, profileID, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(ctx,
		`SELECT value FROM checkout_state WHERE profile_id = $1 AND key = $2`,
		profileID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the value stored under key for the profile.
func (r *StateRepository) Set(ctx context.Context, profileID, key, value string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO checkout_state (profile_id, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (profile_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		profileID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (r *StateRepository) Delete(ctx context.Context, profileID, key string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM checkout_state WHERE profile_id = $1 AND key = $2`,
		profileID, key,
	)
	if err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// Clear removes every checkout key for the profile in one statement.
func (r *StateRepository) Clear(ctx context.Context, profileID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM checkout_state WHERE profile_id = $1 AND key LIKE $2`,
		profileID, strings.ReplaceAll(statestore.Prefix, "_", `\_`)+"%",
	)
	if err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
