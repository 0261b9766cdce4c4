package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docuflow/scan-ingest/internal/models"
)

type failureEventStoreStub struct {
	events []models.ProcessEvent
}

func (s *failureEventStoreStub) ListFailuresForDate(_ context.Context, _ time.Time) ([]models.ProcessEvent, error) {
	return s.events, nil
}

type reconcilerStub struct {
	discrepancies []models.Discrepancy
}

func (s *reconcilerStub) Reconcile(_ context.Context, _ time.Time, _ []models.ReportedZipFile) ([]models.Discrepancy, error) {
	return s.discrepancies, nil
}

func TestRejectedCSV(t *testing.T) {
	reason := "INVALID_ZIP_ARCHIVE: zip unreadable"
	events := &failureEventStoreStub{events: []models.ProcessEvent{
		{
			Container:   "probate",
			ZipFileName: "bad.zip",
			Event:       models.EventDocFailure,
			Reason:      &reason,
			CreatedAt:   time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC),
		},
	}}
	svc := NewReportService(events, &reconcilerStub{}, nil)

	out, err := svc.RejectedCSV(context.Background(), time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "container,zip_file_name,reason,rejected_at", lines[0])
	require.Equal(t, `probate,bad.zip,"INVALID_ZIP_ARCHIVE: zip unreadable",2024-10-01T09:00:00Z`, lines[1])
}

func TestRejectedCSVEmptyDay(t *testing.T) {
	svc := NewReportService(&failureEventStoreStub{}, &reconcilerStub{}, nil)
	out, err := svc.RejectedCSV(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, "container,zip_file_name,reason,rejected_at", strings.TrimSpace(string(out)))
}

func TestReconciliationPDFRenders(t *testing.T) {
	stated := "1, 2"
	actual := "1, 3"
	svc := NewReportService(&failureEventStoreStub{}, &reconcilerStub{discrepancies: []models.Discrepancy{
		{
			ZipFileName: "a.zip",
			Container:   "probate",
			Type:        models.DiscrepancyScannableDcns,
			Stated:      &stated,
			Actual:      &actual,
		},
	}}, nil)

	out, err := svc.ReconciliationPDF(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(out), "%PDF"))
}
