package dto

import (
	"time"

	"github.com/docuflow/scan-ingest/internal/models"
)

// ReportDateRequest selects the day a report covers.
type ReportDateRequest struct {
	Date string `form:"date" binding:"required"`
}

// ParseDate interprets the date as a UTC calendar day.
func (r ReportDateRequest) ParseDate() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", r.Date, time.UTC)
}

// ReconciliationRequest carries the externally reported inventory for a date.
type ReconciliationRequest struct {
	Date     string                   `json:"date" binding:"required"`
	ZipFiles []models.ReportedZipFile `json:"zip_files"`
}

// ParseDate interprets the date as a UTC calendar day.
func (r ReconciliationRequest) ParseDate() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", r.Date, time.UTC)
}
