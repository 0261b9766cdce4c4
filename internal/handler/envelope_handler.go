package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docuflow/scan-ingest/internal/dto"
	"github.com/docuflow/scan-ingest/internal/models"
	appErrors "github.com/docuflow/scan-ingest/pkg/errors"
	"github.com/docuflow/scan-ingest/pkg/response"
)

type envelopeQueries interface {
	List(ctx context.Context, filter models.EnvelopeFilter) ([]models.Envelope, error)
	Get(ctx context.Context, id string) (*models.Envelope, error)
	History(ctx context.Context, id string) ([]models.ProcessEvent, error)
}

type envelopeCommands interface {
	UpdateStatusManually(ctx context.Context, envelopeID string, to models.Status) (*models.Envelope, error)
	Retrigger(ctx context.Context, envelopeID string) (*models.Envelope, error)
}

// EnvelopeHandler manages the envelope HTTP endpoints.
type EnvelopeHandler struct {
	queries  envelopeQueries
	commands envelopeCommands
}

// NewEnvelopeHandler constructs the handler.
func NewEnvelopeHandler(queries envelopeQueries, commands envelopeCommands) *EnvelopeHandler {
	return &EnvelopeHandler{queries: queries, commands: commands}
}

// List godoc
// @Summary List envelopes
// @Tags Envelopes
// @Produce json
// @Param container query string false "Container"
// @Param status query string false "Status"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /envelopes [get]
func (h *EnvelopeHandler) List(c *gin.Context) {
	var req dto.ListEnvelopesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	envelopes, err := h.queries.List(c.Request.Context(), req.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: req.Page, PageSize: req.PageSize, TotalCount: len(envelopes)}
	response.JSON(c, http.StatusOK, envelopes, pagination)
}

// Get godoc
// @Summary Get one envelope with its items
// @Tags Envelopes
// @Produce json
// @Param id path string true "Envelope id"
// @Success 200 {object} response.Envelope
// @Router /envelopes/{id} [get]
func (h *EnvelopeHandler) Get(c *gin.Context) {
	env, err := h.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, env, nil)
}

// History godoc
// @Summary Get the processing event log of an envelope
// @Tags Envelopes
// @Produce json
// @Param id path string true "Envelope id"
// @Success 200 {object} response.Envelope
// @Router /envelopes/{id}/events [get]
func (h *EnvelopeHandler) History(c *gin.Context) {
	events, err := h.queries.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// UpdateStatus godoc
// @Summary Update envelope status
// @Description The downstream case system marks an envelope CONSUMED once it
// @Description has finished with it. No other transition is accepted here.
// @Tags Envelopes
// @Accept json
// @Produce json
// @Param id path string true "Envelope id"
// @Param payload body dto.UpdateStatusRequest true "Requested status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /envelopes/{id}/status [put]
func (h *EnvelopeHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status is required"))
		return
	}
	env, err := h.commands.UpdateStatusManually(c.Request.Context(), c.Param("id"), models.Status(req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, env, nil)
}

// Retrigger godoc
// @Summary Retrigger envelope processing
// @Description Resets a completed or stale envelope back to UPLOADED so its
// @Description ready notification is published again.
// @Tags Envelopes
// @Produce json
// @Param id path string true "Envelope id"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /envelopes/{id}/retrigger [post]
func (h *EnvelopeHandler) Retrigger(c *gin.Context) {
	env, err := h.commands.Retrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, env, nil)
}
