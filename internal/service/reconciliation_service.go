package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/models"
)

type receivedStore interface {
	FindReceivedForDate(ctx context.Context, date time.Time) ([]models.ReceivedZipFile, error)
}

// ReconciliationService compares the externally reported zip-file inventory
// for a date against what was actually persisted.
type ReconciliationService struct {
	envelopes receivedStore
	logger    *zap.Logger
}

// NewReconciliationService constructs the service.
func NewReconciliationService(envelopes receivedStore, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{envelopes: envelopes, logger: logger}
}

// Reconcile returns every discrepancy between the reported inventory and the
// envelopes received on the given date. Identities are (zipFileName,
// container); DCN comparison ignores order.
func (s *ReconciliationService) Reconcile(ctx context.Context, date time.Time, reported []models.ReportedZipFile) ([]models.Discrepancy, error) {
	received, err := s.envelopes.FindReceivedForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load received envelopes: %w", err)
	}

	receivedByKey := make(map[string]*models.ReceivedZipFile, len(received))
	for i := range received {
		receivedByKey[identityKey(received[i].Container, received[i].ZipFileName)] = &received[i]
	}

	var discrepancies []models.Discrepancy
	matched := make(map[string]bool, len(reported))
	for i := range reported {
		rep := &reported[i]
		key := identityKey(rep.Container, rep.ZipFileName)
		rec, ok := receivedByKey[key]
		if !ok {
			discrepancies = append(discrepancies, models.Discrepancy{
				ZipFileName: rep.ZipFileName,
				Container:   rep.Container,
				Type:        models.DiscrepancyReportedNotReceived,
			})
			continue
		}
		matched[key] = true
		discrepancies = append(discrepancies, compareDcns(rep, rec)...)
	}

	for i := range received {
		rec := &received[i]
		if !matched[identityKey(rec.Container, rec.ZipFileName)] {
			discrepancies = append(discrepancies, models.Discrepancy{
				ZipFileName: rec.ZipFileName,
				Container:   rec.Container,
				Type:        models.DiscrepancyReceivedNotReported,
			})
		}
	}

	s.logger.Info("reconciliation finished",
		zap.Time("date", date),
		zap.Int("reported", len(reported)),
		zap.Int("received", len(received)),
		zap.Int("discrepancies", len(discrepancies)))
	return discrepancies, nil
}

func compareDcns(rep *models.ReportedZipFile, rec *models.ReceivedZipFile) []models.Discrepancy {
	var discrepancies []models.Discrepancy
	if !sameDcnSet(rep.ScannableItemDcns, rec.ScannableItemDcns) {
		discrepancies = append(discrepancies, models.Discrepancy{
			ZipFileName: rep.ZipFileName,
			Container:   rep.Container,
			Type:        models.DiscrepancyScannableDcns,
			Stated:      describeDcns(rep.ScannableItemDcns),
			Actual:      describeDcns(rec.ScannableItemDcns),
		})
	}
	if !sameDcnSet(rep.PaymentDcns, rec.PaymentDcns) {
		discrepancies = append(discrepancies, models.Discrepancy{
			ZipFileName: rep.ZipFileName,
			Container:   rep.Container,
			Type:        models.DiscrepancyPaymentDcns,
			Stated:      describeDcns(rep.PaymentDcns),
			Actual:      describeDcns(rec.PaymentDcns),
		})
	}
	return discrepancies
}

// sameDcnSet compares order-insensitively; nil and empty compare equal.
func sameDcnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// describeDcns renders the DCN list for diagnostics, preserving the
// difference between a nil list (nothing stated) and an empty one.
func describeDcns(dcns []string) *string {
	var text string
	switch {
	case dcns == nil:
		text = "(none stated)"
	case len(dcns) == 0:
		text = "(empty)"
	default:
		sorted := append([]string(nil), dcns...)
		sort.Strings(sorted)
		text = strings.Join(sorted, ", ")
	}
	return &text
}

func identityKey(container, zipFileName string) string {
	return container + "|" + zipFileName
}
