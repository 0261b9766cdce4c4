package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/models"
	appErrors "github.com/docuflow/scan-ingest/pkg/errors"
)

type queryEnvelopeStore interface {
	List(ctx context.Context, filter models.EnvelopeFilter) ([]models.Envelope, error)
	GetByID(ctx context.Context, id string) (*models.Envelope, error)
}

type queryEventStore interface {
	ListByZipFile(ctx context.Context, container, zipFileName string) ([]models.ProcessEvent, error)
}

// EnvelopeQueryService serves the read side of the envelope API.
type EnvelopeQueryService struct {
	envelopes queryEnvelopeStore
	events    queryEventStore
	logger    *zap.Logger
}

// NewEnvelopeQueryService constructs the service.
func NewEnvelopeQueryService(envelopes queryEnvelopeStore, events queryEventStore, logger *zap.Logger) *EnvelopeQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvelopeQueryService{envelopes: envelopes, events: events, logger: logger}
}

// List returns envelopes matching the filter.
func (s *EnvelopeQueryService) List(ctx context.Context, filter models.EnvelopeFilter) ([]models.Envelope, error) {
	if filter.Status != "" && !validStatusFilter(filter.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.envelopes.List(ctx, filter)
}

// Get loads one envelope with its items.
func (s *EnvelopeQueryService) Get(ctx context.Context, id string) (*models.Envelope, error) {
	env, err := s.envelopes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load envelope: %w", err)
	}
	return env, nil
}

// History returns the processing event log of one envelope's zip file.
func (s *EnvelopeQueryService) History(ctx context.Context, id string) ([]models.ProcessEvent, error) {
	env, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.events.ListByZipFile(ctx, env.Container, env.ZipFileName)
}

func validStatusFilter(status models.Status) bool {
	switch status {
	case models.StatusCreated, models.StatusUploaded, models.StatusUploadFailure,
		models.StatusNotificationSent, models.StatusCompleted, models.StatusConsumed,
		models.StatusZipProcessingFailure:
		return true
	}
	return false
}
