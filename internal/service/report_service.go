package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/pkg/export"
)

type failureEventStore interface {
	ListFailuresForDate(ctx context.Context, date time.Time) ([]models.ProcessEvent, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, date time.Time, reported []models.ReportedZipFile) ([]models.Discrepancy, error)
}

// ReportService renders operator-facing exports: the daily rejected-files CSV
// and the reconciliation discrepancy report.
type ReportService struct {
	events         failureEventStore
	reconciliation reconciler
	csv            *export.CSVExporter
	pdf            *export.PDFExporter
	logger         *zap.Logger
}

// NewReportService constructs the service.
func NewReportService(events failureEventStore, reconciliation reconciler, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		events:         events,
		reconciliation: reconciliation,
		csv:            export.NewCSVExporter(),
		pdf:            export.NewPDFExporter(),
		logger:         logger,
	}
}

// RejectedCSV renders the rejection events of one day as CSV.
func (s *ReportService) RejectedCSV(ctx context.Context, date time.Time) ([]byte, error) {
	events, err := s.events.ListFailuresForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load rejection events: %w", err)
	}

	data := export.Dataset{
		Headers: []string{"container", "zip_file_name", "reason", "rejected_at"},
	}
	for _, event := range events {
		reason := ""
		if event.Reason != nil {
			reason = *event.Reason
		}
		data.Rows = append(data.Rows, map[string]string{
			"container":     event.Container,
			"zip_file_name": event.ZipFileName,
			"reason":        reason,
			"rejected_at":   event.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return s.csv.Render(data)
}

// ReconciliationReport runs the reconciliation for a date against the
// reported inventory and returns the discrepancy list.
func (s *ReportService) ReconciliationReport(ctx context.Context, date time.Time, reported []models.ReportedZipFile) ([]models.Discrepancy, error) {
	return s.reconciliation.Reconcile(ctx, date, reported)
}

// ReconciliationPDF renders the discrepancy list as a landscape summary PDF.
func (s *ReportService) ReconciliationPDF(ctx context.Context, date time.Time, reported []models.ReportedZipFile) ([]byte, error) {
	discrepancies, err := s.reconciliation.Reconcile(ctx, date, reported)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Headers: []string{"container", "zip_file_name", "type", "stated", "actual"},
	}
	for _, d := range discrepancies {
		stated, actual := "", ""
		if d.Stated != nil {
			stated = *d.Stated
		}
		if d.Actual != nil {
			actual = *d.Actual
		}
		data.Rows = append(data.Rows, map[string]string{
			"container":     d.Container,
			"zip_file_name": d.ZipFileName,
			"type":          string(d.Type),
			"stated":        stated,
			"actual":        actual,
		})
	}
	title := fmt.Sprintf("Reconciliation report %s", date.Format("2006-01-02"))
	return s.pdf.Render(data, title)
}
