// Package validation covers everything between raw zip bytes and an envelope
// ready for persistence: archive extraction, metadata schema validation, and
// the business rules enforced per container.
package validation

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/docuflow/scan-ingest/internal/models"
)

// MetadataFileName is the well-known metadata entry inside every envelope zip.
const MetadataFileName = "metadata.json"

// ZipContent is the extracted payload of one envelope archive.
type ZipContent struct {
	Metadata []byte
	// PDFs maps entry name to raw content, in archive order.
	PDFs     map[string][]byte
	PDFNames []string
}

// Extract unpacks an envelope archive into its metadata document and PDF set.
// Content faults (corrupt archive, missing metadata, wrong entry types) come
// back as classified rejection errors.
func Extract(zipBytes []byte) (*ZipContent, error) {
	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, models.NewContentError(models.CodeInvalidZipArchive, "zip archive could not be opened", err)
	}

	content := &ZipContent{PDFs: make(map[string][]byte)}
	for _, entry := range reader.File {
		name := entry.Name
		data, err := readEntry(entry)
		if err != nil {
			return nil, models.NewContentError(models.CodeInvalidZipArchive, fmt.Sprintf("zip entry %s could not be read", name), err)
		}

		switch {
		case name == MetadataFileName:
			content.Metadata = data
		case strings.HasSuffix(strings.ToLower(name), ".pdf"):
			content.PDFs[name] = data
			content.PDFNames = append(content.PDFNames, name)
		default:
			return nil, models.NewContentError(models.CodeNonPdfFileFound, fmt.Sprintf("zip contains non-pdf entry %s", name), nil)
		}
	}

	if content.Metadata == nil {
		return nil, models.NewContentError(models.CodeMetadataNotFound, "zip does not contain a metadata file", nil)
	}
	if len(content.PDFs) == 0 {
		return nil, models.NewContentError(models.CodeNoPdfFileFound, "zip does not contain any pdf file", nil)
	}
	return content, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return io.ReadAll(rc)
}
