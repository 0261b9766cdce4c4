package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/docuflow/scan-ingest/internal/models"
)

//go:embed schema/envelope-metadata.json
var schemaFS embed.FS

const schemaURL = "https://docuflow.example/schemas/envelope-metadata.json"

// MetadataParser validates metadata documents against the published schema
// and maps them onto the envelope aggregate.
type MetadataParser struct {
	schema *jsonschema.Schema
}

// NewMetadataParser compiles the embedded schema.
func NewMetadataParser() (*MetadataParser, error) {
	raw, err := schemaFS.ReadFile("schema/envelope-metadata.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode embedded schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &MetadataParser{schema: schema}, nil
}

type itemMetadata struct {
	DocumentControlNumber string            `json:"document_control_number"`
	FileName              string            `json:"file_name"`
	DocumentType          string            `json:"document_type"`
	DocumentSubtype       *string           `json:"document_subtype"`
	ScanningDate          *string           `json:"scanning_date"`
	OcrData               []models.OcrField `json:"ocr_data"`
}

type nonScannableMetadata struct {
	DocumentControlNumber string  `json:"document_control_number"`
	ItemType              string  `json:"item_type"`
	Notes                 *string `json:"notes"`
}

type paymentMetadata struct {
	DocumentControlNumber string  `json:"document_control_number"`
	Method                string  `json:"method"`
	Amount                *string `json:"amount"`
	AccountNumber         *string `json:"account_number"`
	SortCode              *string `json:"sort_code"`
}

type envelopeMetadata struct {
	Classification string                 `json:"envelope_classification"`
	Jurisdiction   string                 `json:"jurisdiction"`
	PoBox          string                 `json:"po_box"`
	CaseNumber     *string                `json:"case_number"`
	ZipFileName    string                 `json:"zip_file_name"`
	DeliveryDate   string                 `json:"delivery_date"`
	OpeningDate    string                 `json:"opening_date"`
	ZipCreatedDate *string                `json:"zip_file_createddate"`
	ScannableItems []itemMetadata         `json:"scannable_items"`
	NonScannable   []nonScannableMetadata `json:"non_scannable_items"`
	Payments       []paymentMetadata      `json:"payments"`
}

// Parse validates the metadata document and returns an unpersisted envelope.
// Schema violations are collected into a single rejection listing every
// failure rather than stopping at the first.
func (p *MetadataParser) Parse(metadataBytes []byte) (*models.Envelope, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(metadataBytes))
	if err != nil {
		return nil, models.NewRejection(models.CodeInvalidMetadataSchema, "metadata file is not valid json", err.Error())
	}

	if err := p.schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			violations := collectViolations(ve)
			return nil, models.NewRejection(
				models.CodeInvalidMetadataSchema,
				fmt.Sprintf("metadata does not conform to the schema (%d violations)", len(violations)),
				strings.Join(violations, "; "),
			)
		}
		return nil, models.NewRejection(models.CodeInvalidMetadataSchema, "metadata schema validation failed", err.Error())
	}

	var meta envelopeMetadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return nil, models.NewRejection(models.CodeInvalidMetadataSchema, "metadata could not be decoded", err.Error())
	}
	return meta.toEnvelope()
}

func (m *envelopeMetadata) toEnvelope() (*models.Envelope, error) {
	deliveryDate, err := parseTimestamp(m.DeliveryDate)
	if err != nil {
		return nil, models.NewRejection(models.CodeInvalidMetadataSchema, "delivery_date is not a valid timestamp", err.Error())
	}
	openingDate, err := parseTimestamp(m.OpeningDate)
	if err != nil {
		return nil, models.NewRejection(models.CodeInvalidMetadataSchema, "opening_date is not a valid timestamp", err.Error())
	}

	env := &models.Envelope{
		ZipFileName:    m.ZipFileName,
		Jurisdiction:   m.Jurisdiction,
		PoBox:          m.PoBox,
		CaseNumber:     m.CaseNumber,
		Classification: models.Classification(m.Classification),
		DeliveryDate:   deliveryDate,
		OpeningDate:    openingDate,
	}
	if m.ZipCreatedDate != nil {
		created, err := parseTimestamp(*m.ZipCreatedDate)
		if err != nil {
			return nil, models.NewRejection(models.CodeInvalidMetadataSchema, "zip_file_createddate is not a valid timestamp", err.Error())
		}
		env.ZipCreatedAt = &created
	}

	for _, item := range m.ScannableItems {
		scannable := models.ScannableItem{
			DocumentControlNumber: item.DocumentControlNumber,
			FileName:              item.FileName,
			DocumentType:          item.DocumentType,
			DocumentSubtype:       item.DocumentSubtype,
			OcrData:               item.OcrData,
		}
		if item.ScanningDate != nil {
			scanned, err := parseTimestamp(*item.ScanningDate)
			if err != nil {
				return nil, models.NewRejection(models.CodeInvalidMetadataSchema,
					fmt.Sprintf("scanning_date of %s is not a valid timestamp", item.DocumentControlNumber), err.Error())
			}
			scannable.ScanningDate = &scanned
		}
		env.ScannableItems = append(env.ScannableItems, scannable)
	}

	for _, item := range m.NonScannable {
		env.NonScannableItems = append(env.NonScannableItems, models.NonScannableItem{
			DocumentControlNumber: item.DocumentControlNumber,
			ItemType:              item.ItemType,
			Notes:                 item.Notes,
		})
	}

	for _, payment := range m.Payments {
		env.Payments = append(env.Payments, models.Payment{
			DocumentControlNumber: payment.DocumentControlNumber,
			Method:                payment.Method,
			Amount:                payment.Amount,
			AccountNumber:         payment.AccountNumber,
			SortCode:              payment.SortCode,
		})
	}

	return env, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func collectViolations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{strings.TrimSpace(ve.Error())}
	}
	violations := make([]string, 0, len(ve.Causes))
	for _, cause := range ve.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
