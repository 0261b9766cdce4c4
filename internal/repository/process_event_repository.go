package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docuflow/scan-ingest/internal/models"
)

// ProcessEventRepository appends to and reads the immutable processing log.
type ProcessEventRepository struct {
	db *sqlx.DB
}

// NewProcessEventRepository constructs the repository.
func NewProcessEventRepository(db *sqlx.DB) *ProcessEventRepository {
	return &ProcessEventRepository{db: db}
}

// Append records one processing event. The log is append-only; rows are never
// updated or deleted.
func (r *ProcessEventRepository) Append(ctx context.Context, event *models.ProcessEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO process_events (id, container, zip_file_name, event, reason, created_at)
	VALUES (:id, :container, :zip_file_name, :event, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("append process event %s: %w", event.Event, err)
	}
	return nil
}

// ListByZipFile returns the event history of one zip file, oldest first.
func (r *ProcessEventRepository) ListByZipFile(ctx context.Context, container, zipFileName string) ([]models.ProcessEvent, error) {
	const query = `SELECT id, container, zip_file_name, event, reason, created_at
	FROM process_events WHERE container = $1 AND zip_file_name = $2 ORDER BY created_at`
	var events []models.ProcessEvent
	if err := r.db.SelectContext(ctx, &events, query, container, zipFileName); err != nil {
		return nil, fmt.Errorf("list process events: %w", err)
	}
	return events, nil
}

// ListFailuresForDate returns the DOC_FAILURE events recorded on one day,
// which back the daily rejected-envelopes report.
func (r *ProcessEventRepository) ListFailuresForDate(ctx context.Context, date time.Time) ([]models.ProcessEvent, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	const query = `SELECT id, container, zip_file_name, event, reason, created_at
	FROM process_events WHERE event = $1 AND created_at >= $2 AND created_at < $3
	ORDER BY container, zip_file_name, created_at`
	var events []models.ProcessEvent
	if err := r.db.SelectContext(ctx, &events, query, models.EventDocFailure, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("list failure events for date: %w", err)
	}
	return events, nil
}
