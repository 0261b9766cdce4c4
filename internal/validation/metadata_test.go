package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docuflow/scan-ingest/internal/models"
)

const validMetadata = `{
	"envelope_classification": "SUPPLEMENTARY_EVIDENCE_WITH_OCR",
	"jurisdiction": "PROBATE",
	"po_box": "PO 1001",
	"zip_file_name": "probate_01-10-2024-10-00-00.zip",
	"delivery_date": "2024-10-01T08:00:00Z",
	"opening_date": "2024-10-01T09:30:00Z",
	"zip_file_createddate": "2024-10-01T07:45:00Z",
	"scannable_items": [
		{
			"document_control_number": "1111002",
			"file_name": "1111002.pdf",
			"document_type": "FORM",
			"scanning_date": "2024-10-01T09:45:00Z",
			"ocr_data": [
				{"metadata_field_name": "deceased_surname", "metadata_field_value": "Bloggs"}
			]
		},
		{
			"document_control_number": "1111006",
			"file_name": "1111006.pdf",
			"document_type": "OTHER"
		}
	],
	"payments": [
		{"document_control_number": "2222001", "method": "CHEQUE", "amount": "150.00"}
	]
}`

func newParser(t *testing.T) *MetadataParser {
	t.Helper()
	parser, err := NewMetadataParser()
	require.NoError(t, err)
	return parser
}

func TestParseValidMetadata(t *testing.T) {
	parser := newParser(t)

	env, err := parser.Parse([]byte(validMetadata))
	require.NoError(t, err)
	require.Equal(t, "probate_01-10-2024-10-00-00.zip", env.ZipFileName)
	require.Equal(t, models.ClassificationSupplementaryEvidenceOcr, env.Classification)
	require.Equal(t, "PROBATE", env.Jurisdiction)
	require.Len(t, env.ScannableItems, 2)
	require.Len(t, env.Payments, 1)
	require.NotNil(t, env.ZipCreatedAt)
	require.True(t, env.ScannableItems[0].HasOcrData())
	require.False(t, env.ScannableItems[1].HasOcrData())
	require.Equal(t, "2024-10-01T08:00:00Z", env.DeliveryDate.Format("2006-01-02T15:04:05Z"))
}

func TestParseCollectsAllSchemaViolations(t *testing.T) {
	parser := newParser(t)

	// Missing po_box and delivery_date, bad classification, bad zip name.
	doc := `{
		"envelope_classification": "SOMETHING_ELSE",
		"jurisdiction": "PROBATE",
		"zip_file_name": "nodate.zip",
		"opening_date": "2024-10-01T09:30:00Z",
		"scannable_items": []
	}`
	_, err := parser.Parse([]byte(doc))

	var rejection *models.RejectionError
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, models.CodeInvalidMetadataSchema, rejection.Code)
	require.Equal(t, models.KindRejection, rejection.Kind)
	require.Contains(t, rejection.Detail, "po_box")
	require.Contains(t, rejection.Detail, "delivery_date")
}

func TestParseRejectsDuplicatePayments(t *testing.T) {
	parser := newParser(t)

	doc := `{
		"envelope_classification": "EXCEPTION",
		"jurisdiction": "PROBATE",
		"po_box": "PO 1001",
		"zip_file_name": "probate_01-10-2024-10-00-00.zip",
		"delivery_date": "2024-10-01T08:00:00Z",
		"opening_date": "2024-10-01T09:30:00Z",
		"scannable_items": [
			{"document_control_number": "1", "file_name": "1.pdf", "document_type": "OTHER"}
		],
		"payments": [
			{"document_control_number": "2222001"},
			{"document_control_number": "2222001"}
		]
	}`
	_, err := parser.Parse([]byte(doc))

	var rejection *models.RejectionError
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, models.CodeInvalidMetadataSchema, rejection.Code)
}

func TestParseRejectsMalformedJson(t *testing.T) {
	parser := newParser(t)
	_, err := parser.Parse([]byte(`{not json`))

	var rejection *models.RejectionError
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, models.CodeInvalidMetadataSchema, rejection.Code)
}

func TestParseRejectsBadZipFileNamePattern(t *testing.T) {
	parser := newParser(t)

	doc := `{
		"envelope_classification": "EXCEPTION",
		"jurisdiction": "PROBATE",
		"po_box": "PO 1001",
		"zip_file_name": "no-timestamp.zip",
		"delivery_date": "2024-10-01T08:00:00Z",
		"opening_date": "2024-10-01T09:30:00Z",
		"scannable_items": [
			{"document_control_number": "1", "file_name": "1.pdf", "document_type": "OTHER"}
		]
	}`
	_, err := parser.Parse([]byte(doc))

	var rejection *models.RejectionError
	require.True(t, errors.As(err, &rejection))
	require.Contains(t, rejection.Detail, "zip_file_name")
}
