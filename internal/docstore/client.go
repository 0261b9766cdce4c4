// Package docstore pushes extracted PDFs to the external document management
// store.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// File is one PDF to upload.
type File struct {
	Name    string
	Content []byte
}

// UploadResult pairs an uploaded file with its stored location.
type UploadResult struct {
	FileName string `json:"file_name"`
	URL      string `json:"url"`
}

// Client uploads document batches over HTTP multipart.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a document store client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload pushes all files in one request and returns their stored URLs. Any
// transport or server failure is returned as a single generic upload error;
// callers retry the whole batch.
func (c *Client) Upload(ctx context.Context, files []File) ([]UploadResult, error) {
	if len(files) == 0 {
		return nil, nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("prepare upload part %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("write upload part %s: %w", f.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalise upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload documents: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upload documents: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var results []UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return results, nil
}
