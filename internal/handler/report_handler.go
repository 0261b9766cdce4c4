package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docuflow/scan-ingest/internal/dto"
	"github.com/docuflow/scan-ingest/internal/models"
	appErrors "github.com/docuflow/scan-ingest/pkg/errors"
	"github.com/docuflow/scan-ingest/pkg/response"
)

type reportService interface {
	RejectedCSV(ctx context.Context, date time.Time) ([]byte, error)
	ReconciliationReport(ctx context.Context, date time.Time, reported []models.ReportedZipFile) ([]models.Discrepancy, error)
	ReconciliationPDF(ctx context.Context, date time.Time, reported []models.ReportedZipFile) ([]byte, error)
}

// ReportHandler serves operator report downloads.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Rejected godoc
// @Summary Download the rejected-files report for a date
// @Tags Reports
// @Produce text/csv
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {string} string "CSV payload"
// @Router /reports/rejected [get]
func (h *ReportHandler) Rejected(c *gin.Context) {
	var req dto.ReportDateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date is required"))
		return
	}
	date, err := req.ParseDate()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD"))
		return
	}

	payload, err := h.service.RejectedCSV(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("rejected-%s.csv", date.Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}

// Reconcile godoc
// @Summary Reconcile the reported inventory for a date
// @Description Compares the supplied inventory with the envelopes actually
// @Description received and returns every discrepancy. format=pdf renders a
// @Description summary document instead.
// @Tags Reports
// @Accept json
// @Produce json
// @Param format query string false "Output format (json or pdf)"
// @Param payload body dto.ReconciliationRequest true "Reported inventory"
// @Success 200 {object} response.Envelope
// @Router /reports/reconciliation [post]
func (h *ReportHandler) Reconcile(c *gin.Context) {
	var req dto.ReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reconciliation payload"))
		return
	}
	date, err := req.ParseDate()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD"))
		return
	}

	if c.Query("format") == "pdf" {
		payload, err := h.service.ReconciliationPDF(c.Request.Context(), date, req.ZipFiles)
		if err != nil {
			response.Error(c, err)
			return
		}
		filename := fmt.Sprintf("reconciliation-%s.pdf", date.Format("2006-01-02"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, "application/pdf", payload)
		return
	}

	discrepancies, err := h.service.ReconciliationReport(c.Request.Context(), date, req.ZipFiles)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"date":          date.Format("2006-01-02"),
		"discrepancies": discrepancies,
	}, nil)
}
