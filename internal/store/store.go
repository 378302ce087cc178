package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres error codes the engine translates into domain errors.
const (
	pqExclusionViolation   = "23P01"
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// translateError maps storage-engine failures onto the domain taxonomy so
// callers never see raw driver errors for expected conditions. The
// exclusion constraint on booking ranges and serialization failures both
// mean a concurrent writer won the calendar slot.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqExclusionViolation, pqSerializationFailure, pqUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Message)
		}
	}
	return err
}

// GetItemByID retrieves a catalog item. The catalog is owned by the
// listing service; this subsystem only ever reads it.
func (s *Store) GetItemByID(ctx context.Context, id int64) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM catalog_items WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog item %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
