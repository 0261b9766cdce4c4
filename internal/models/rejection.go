package models

import "fmt"

// RejectionCode is the closed set of business-rule violation codes. Codes are
// stable: downstream consumers and reports dispatch on them.
type RejectionCode string

const (
	CodeInvalidZipArchive        RejectionCode = "INVALID_ZIP_ARCHIVE"
	CodeMetadataNotFound         RejectionCode = "METADATA_NOT_FOUND"
	CodeNonPdfFileFound          RejectionCode = "NON_PDF_FILE_FOUND"
	CodeNoPdfFileFound           RejectionCode = "NO_PDF_FILE_FOUND"
	CodeInvalidMetadataSchema    RejectionCode = "INVALID_METADATA_SCHEMA"
	CodeZipNameMismatch          RejectionCode = "ZIP_NAME_MISMATCH"
	CodeContainerMismatch        RejectionCode = "CONTAINER_JURISDICTION_POBOX_MISMATCH"
	CodeServiceDisabled          RejectionCode = "SERVICE_DISABLED"
	CodeOcrDataNotFound          RejectionCode = "OCR_DATA_NOT_FOUND"
	CodeFileNameIrregularities   RejectionCode = "FILE_NAME_IRREGULARITIES"
	CodeDuplicateDcns            RejectionCode = "DUPLICATE_DOCUMENT_CONTROL_NUMBERS"
	CodePaymentsDisabled         RejectionCode = "PAYMENTS_DISABLED"
	CodeDisallowedDocumentTypes  RejectionCode = "DISALLOWED_DOCUMENT_TYPES"
	CodeOcrValidationFailure     RejectionCode = "OCR_VALIDATION_FAILURE"
)

// RejectionKind separates policy violations, which are notified and moved to
// the rejected container, from content faults (corrupt archive, wrong file
// types), which are logged as DOC_FAILURE and left in place for inspection.
type RejectionKind int

const (
	KindRejection RejectionKind = iota
	KindContent
)

// RejectionError carries one classified validation failure. Message is safe
// for any audience; Detail may echo metadata content (including PII) and must
// only reach operator-facing surfaces.
type RejectionError struct {
	Code    RejectionCode
	Kind    RejectionKind
	Message string
	Detail  string
	Cause   error
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *RejectionError) Unwrap() error { return e.Cause }

// NewRejection builds a policy-violation rejection.
func NewRejection(code RejectionCode, message, detail string) *RejectionError {
	return &RejectionError{Code: code, Kind: KindRejection, Message: message, Detail: detail}
}

// NewContentError builds a content-fault rejection; the blob stays in place.
func NewContentError(code RejectionCode, message string, cause error) *RejectionError {
	return &RejectionError{Code: code, Kind: KindContent, Message: message, Cause: cause}
}
