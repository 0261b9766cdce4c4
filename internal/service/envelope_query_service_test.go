package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docuflow/scan-ingest/internal/models"
	appErrors "github.com/docuflow/scan-ingest/pkg/errors"
)

type queryEnvelopeStoreStub struct {
	envelopes  []models.Envelope
	byID       map[string]*models.Envelope
	lastFilter models.EnvelopeFilter
}

func (s *queryEnvelopeStoreStub) List(_ context.Context, filter models.EnvelopeFilter) ([]models.Envelope, error) {
	s.lastFilter = filter
	return s.envelopes, nil
}

func (s *queryEnvelopeStoreStub) GetByID(_ context.Context, id string) (*models.Envelope, error) {
	env, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return env, nil
}

type queryEventStoreStub struct {
	events        []models.ProcessEvent
	lastContainer string
	lastZipFile   string
}

func (s *queryEventStoreStub) ListByZipFile(_ context.Context, container, zipFileName string) ([]models.ProcessEvent, error) {
	s.lastContainer = container
	s.lastZipFile = zipFileName
	return s.events, nil
}

func TestQueryListPassesFilter(t *testing.T) {
	store := &queryEnvelopeStoreStub{envelopes: []models.Envelope{{ID: "env-1"}, {ID: "env-2"}}}
	svc := NewEnvelopeQueryService(store, &queryEventStoreStub{}, nil)

	got, err := svc.List(context.Background(), models.EnvelopeFilter{
		Container: "probate",
		Status:    models.StatusCompleted,
		Limit:     25,
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "probate", store.lastFilter.Container)
	require.Equal(t, models.StatusCompleted, store.lastFilter.Status)
}

func TestQueryListRejectsUnknownStatus(t *testing.T) {
	svc := NewEnvelopeQueryService(&queryEnvelopeStoreStub{}, &queryEventStoreStub{}, nil)

	_, err := svc.List(context.Background(), models.EnvelopeFilter{Status: models.Status("SHIPPED")})

	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestQueryGetNotFound(t *testing.T) {
	svc := NewEnvelopeQueryService(&queryEnvelopeStoreStub{}, &queryEventStoreStub{}, nil)

	_, err := svc.Get(context.Background(), "missing")

	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestQueryHistoryUsesEnvelopeIdentity(t *testing.T) {
	store := &queryEnvelopeStoreStub{byID: map[string]*models.Envelope{
		"env-1": {ID: "env-1", Container: "probate", ZipFileName: "1_01-08-2026-10-00-00.zip"},
	}}
	events := &queryEventStoreStub{events: []models.ProcessEvent{
		{Event: models.EventZipProcessingStarted},
		{Event: models.EventDocUploaded},
	}}
	svc := NewEnvelopeQueryService(store, events, nil)

	got, err := svc.History(context.Background(), "env-1")

	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "probate", events.lastContainer)
	require.Equal(t, "1_01-08-2026-10-00-00.zip", events.lastZipFile)
}
