// Package ocr submits recognised form fields to an external validation
// endpoint configured per jurisdiction.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docuflow/scan-ingest/internal/models"
)

// ValidationStatus is the outcome reported by the validation endpoint.
type ValidationStatus string

const (
	StatusSuccess  ValidationStatus = "SUCCESS"
	StatusWarnings ValidationStatus = "WARNINGS"
	StatusErrors   ValidationStatus = "ERRORS"
)

// ValidationResult carries the endpoint's verdict on one form's OCR fields.
type ValidationResult struct {
	Status   ValidationStatus `json:"status"`
	Warnings []string         `json:"warnings"`
	Errors   []string         `json:"errors"`
}

type validationRequest struct {
	FormTypeSubtype string           `json:"form_type_subtype"`
	Fields          []models.OcrField `json:"ocr_data_fields"`
}

// Client calls jurisdiction-specific OCR validation endpoints.
type Client struct {
	httpClient *http.Client
	authToken  string
}

// NewClient builds an OCR validation client.
func NewClient(timeout time.Duration, authToken string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		authToken:  authToken,
	}
}

// Validate submits the fields to the given endpoint. Transport failures are
// returned as errors so the caller can degrade to a stored warning instead of
// blocking ingestion.
func (c *Client) Validate(ctx context.Context, url, formTypeSubtype string, fields []models.OcrField) (*ValidationResult, error) {
	payload, err := json.Marshal(validationRequest{FormTypeSubtype: formTypeSubtype, Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("encode ocr validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ocr validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ocr validation: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr validation: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ocr validation response: %w", err)
	}
	return &result, nil
}
