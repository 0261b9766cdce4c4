package dto

import "github.com/docuflow/scan-ingest/internal/models"

// ListEnvelopesRequest narrows the envelope listing.
type ListEnvelopesRequest struct {
	Container string `form:"container"`
	Status    string `form:"status"`
	Page      int    `form:"page,default=1" binding:"omitempty,min=1"`
	PageSize  int    `form:"pageSize,default=50" binding:"omitempty,min=1,max=500"`
}

// Filter converts the request into the repository filter.
func (r ListEnvelopesRequest) Filter() models.EnvelopeFilter {
	page := r.Page
	if page < 1 {
		page = 1
	}
	pageSize := r.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	return models.EnvelopeFilter{
		Container: r.Container,
		Status:    models.Status(r.Status),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}
}

// UpdateStatusRequest carries a requested status change.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
