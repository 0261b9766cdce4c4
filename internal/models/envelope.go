package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Classification determines which validation and OCR rules apply to an envelope.
type Classification string

const (
	ClassificationNewApplication            Classification = "NEW_APPLICATION"
	ClassificationSupplementaryEvidence     Classification = "SUPPLEMENTARY_EVIDENCE"
	ClassificationSupplementaryEvidenceOcr  Classification = "SUPPLEMENTARY_EVIDENCE_WITH_OCR"
	ClassificationException                 Classification = "EXCEPTION"
)

// RequiresOcr reports whether envelopes of this classification must carry OCR data.
func (c Classification) RequiresOcr() bool {
	return c == ClassificationNewApplication || c == ClassificationSupplementaryEvidenceOcr
}

// Valid reports whether the classification is a known value.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationNewApplication, ClassificationSupplementaryEvidence,
		ClassificationSupplementaryEvidenceOcr, ClassificationException:
		return true
	}
	return false
}

// Status captures the envelope lifecycle state.
type Status string

const (
	StatusCreated              Status = "CREATED"
	StatusUploaded             Status = "UPLOADED"
	StatusUploadFailure        Status = "UPLOAD_FAILURE"
	StatusNotificationSent     Status = "NOTIFICATION_SENT"
	StatusCompleted            Status = "COMPLETED"
	StatusConsumed             Status = "CONSUMED"
	StatusZipProcessingFailure Status = "ZIP_PROCESSING_FAILURE"
)

// allowedTransitions is the authoritative lifecycle table. A missing entry or
// target means the transition is illegal.
var allowedTransitions = map[Status][]Status{
	StatusCreated:          {StatusUploaded, StatusUploadFailure},
	StatusUploadFailure:    {StatusUploaded, StatusUploadFailure},
	StatusUploaded:         {StatusNotificationSent},
	StatusNotificationSent: {StatusCompleted, StatusConsumed, StatusUploaded},
	StatusCompleted:        {StatusConsumed, StatusUploaded},
}

// AssertCanTransition fails when the lifecycle table does not permit moving
// from one status to another.
func AssertCanTransition(from, to Status) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ErrInvalidTransition marks a forbidden status change.
var ErrInvalidTransition = fmt.Errorf("invalid status change")

// CcdAction instructs the downstream case system how to treat the envelope.
type CcdAction string

const (
	CcdActionCaseCreation CcdAction = "CASE_CREATION"
	CcdActionExceptionRec CcdAction = "EXCEPTION_RECORD"
)

// Envelope is the aggregate root for one ingested zip file. The natural key
// is (container, zip_file_name); ID is the stored primary identity.
type Envelope struct {
	ID             string         `db:"id" json:"id"`
	Container      string         `db:"container" json:"container"`
	ZipFileName    string         `db:"zip_file_name" json:"zip_file_name"`
	Jurisdiction   string         `db:"jurisdiction" json:"jurisdiction"`
	PoBox          string         `db:"po_box" json:"po_box"`
	CaseNumber     *string        `db:"case_number" json:"case_number,omitempty"`
	CcdID          *string        `db:"ccd_id" json:"ccd_id,omitempty"`
	CcdAction      *CcdAction     `db:"ccd_action" json:"ccd_action,omitempty"`
	Classification Classification `db:"classification" json:"classification"`
	Status         Status         `db:"status" json:"status"`
	DeliveryDate   time.Time      `db:"delivery_date" json:"delivery_date"`
	OpeningDate    time.Time      `db:"opening_date" json:"opening_date"`
	ZipCreatedAt   *time.Time     `db:"zip_created_at" json:"zip_created_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	UploadFailures int            `db:"upload_failures" json:"upload_failures"`
	ZipDeleted     bool           `db:"zip_deleted" json:"zip_deleted"`

	ScannableItems    []ScannableItem    `json:"scannable_items"`
	NonScannableItems []NonScannableItem `json:"non_scannable_items"`
	Payments          []Payment          `json:"payments"`
}

// IsStale reports whether the envelope has waited longer than the given
// timeout for a downstream acknowledgement.
func (e *Envelope) IsStale(timeout time.Duration, now time.Time) bool {
	return e.Status == StatusNotificationSent && now.Sub(e.UpdatedAt) > timeout
}

// OcrField is one recognised metadata field extracted from a scanned form.
type OcrField struct {
	Name  string `json:"metadata_field_name"`
	Value string `json:"metadata_field_value"`
}

// OcrData is the ordered field list persisted as JSONB.
type OcrData []OcrField

// Value marshals OCR data for persistence.
func (d OcrData) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr data: %w", err)
	}
	return data, nil
}

// Scan unmarshals OCR data from its JSONB column.
func (d *OcrData) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected ocr data column type %T", src)
	}
	return json.Unmarshal(raw, d)
}

// StringList persists a slice of strings as a JSONB column.
type StringList []string

// Value marshals the list for persistence.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

// Scan unmarshals the list from its JSONB column.
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected string list column type %T", src)
	}
	return json.Unmarshal(raw, l)
}

// ScannableItem is one scanned document inside an envelope.
type ScannableItem struct {
	ID                    string     `db:"id" json:"id"`
	EnvelopeID            string     `db:"envelope_id" json:"-"`
	DocumentControlNumber string     `db:"document_control_number" json:"document_control_number"`
	FileName              string     `db:"file_name" json:"file_name"`
	DocumentType          string     `db:"document_type" json:"document_type"`
	DocumentSubtype       *string    `db:"document_subtype" json:"document_subtype,omitempty"`
	ScanningDate          *time.Time `db:"scanning_date" json:"scanning_date,omitempty"`
	OcrData               OcrData    `db:"ocr_data" json:"ocr_data,omitempty"`
	OcrWarnings           StringList `db:"ocr_warnings" json:"ocr_warnings,omitempty"`
	DocumentURL           *string    `db:"document_url" json:"document_url,omitempty"`
}

// HasOcrData reports whether any OCR field carries a non-empty value.
func (s *ScannableItem) HasOcrData() bool {
	for _, f := range s.OcrData {
		if f.Value != "" {
			return true
		}
	}
	return false
}

// NonScannableItem is a physical item delivered with the envelope that cannot
// be scanned (e.g. a cheque book or a USB stick).
type NonScannableItem struct {
	ID                    string  `db:"id" json:"id"`
	EnvelopeID            string  `db:"envelope_id" json:"-"`
	DocumentControlNumber string  `db:"document_control_number" json:"document_control_number"`
	ItemType              string  `db:"item_type" json:"item_type"`
	Notes                 *string `db:"notes" json:"notes,omitempty"`
}

// Payment is one payment instrument delivered with the envelope.
type Payment struct {
	ID                    string  `db:"id" json:"id"`
	EnvelopeID            string  `db:"envelope_id" json:"-"`
	DocumentControlNumber string  `db:"document_control_number" json:"document_control_number"`
	Method                string  `db:"method" json:"method"`
	Amount                *string `db:"amount" json:"amount,omitempty"`
	AccountNumber         *string `db:"account_number" json:"account_number,omitempty"`
	SortCode              *string `db:"sort_code" json:"sort_code,omitempty"`
}

// EnvelopeFilter narrows envelope listing queries.
type EnvelopeFilter struct {
	Container string
	Status    Status
	Limit     int
	Offset    int
}

// Pagination carries list metadata in API responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
