package models

// DiscrepancyType classifies one reconciliation finding.
type DiscrepancyType string

const (
	DiscrepancyReportedNotReceived DiscrepancyType = "REPORTED_BUT_NOT_RECEIVED"
	DiscrepancyReceivedNotReported DiscrepancyType = "RECEIVED_BUT_NOT_REPORTED"
	DiscrepancyScannableDcns       DiscrepancyType = "SCANNABLE_DOCUMENT_DCNS_MISMATCH"
	DiscrepancyPaymentDcns         DiscrepancyType = "PAYMENT_DCNS_MISMATCH"
)

// ReportedZipFile is one entry of the externally reported inventory for a date.
// A nil DCN slice means the report stated no value at all, as opposed to an
// explicitly empty list; comparison treats both as empty but diagnostics keep
// the distinction.
type ReportedZipFile struct {
	ZipFileName       string   `json:"zip_file_name"`
	Container         string   `json:"container"`
	ScannableItemDcns []string `json:"scannable_item_dcns"`
	PaymentDcns       []string `json:"payment_dcns"`
}

// ReceivedZipFile is the persisted counterpart built from envelopes and events,
// aggregated across duplicate raw rows sharing the same identity.
type ReceivedZipFile struct {
	ZipFileName       string
	Container         string
	ScannableItemDcns []string
	PaymentDcns       []string
}

// Discrepancy is one reconciliation finding for a (zipFileName, container)
// identity.
type Discrepancy struct {
	ZipFileName string          `json:"zip_file_name"`
	Container   string          `json:"container"`
	Type        DiscrepancyType `json:"type"`
	Stated      *string         `json:"stated,omitempty"`
	Actual      *string         `json:"actual,omitempty"`
}
