package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/pkg/config"
)

// CheckBusinessRules enforces the per-container policy on a schema-valid
// envelope. Rules run in a fixed order; the first violation wins, except that
// file-name irregularities are collected exhaustively before reporting.
func CheckBusinessRules(env *models.Envelope, container, blobName string, pdfNames []string, cfg *config.ContainerConfig) *models.RejectionError {
	if env.ZipFileName != blobName {
		return models.NewRejection(models.CodeZipNameMismatch,
			"zip file name in metadata does not match the blob name",
			fmt.Sprintf("metadata: %s, blob: %s", env.ZipFileName, blobName))
	}

	if cfg == nil || cfg.Name != container {
		return models.NewRejection(models.CodeContainerMismatch,
			fmt.Sprintf("container %s has no configuration", container), "")
	}
	if !strings.EqualFold(cfg.Jurisdiction, env.Jurisdiction) || !containsFold(cfg.PoBoxes, env.PoBox) {
		return models.NewRejection(models.CodeContainerMismatch,
			fmt.Sprintf("container %s is not configured for the envelope's jurisdiction and po box", container),
			fmt.Sprintf("jurisdiction: %s, po box: %s", env.Jurisdiction, env.PoBox))
	}

	if !cfg.Enabled {
		return models.NewRejection(models.CodeServiceDisabled,
			fmt.Sprintf("service for container %s is disabled", container), "")
	}

	if env.Classification.RequiresOcr() {
		if !hasOcrOfType(env, cfg.OcrDocumentType) {
			return models.NewRejection(models.CodeOcrDataNotFound,
				"no ocr data found for the designated form document type",
				fmt.Sprintf("required document type: %s", cfg.OcrDocumentType))
		}
	}

	if rejection := checkFileNames(env, pdfNames); rejection != nil {
		return rejection
	}

	if rejection := checkDcnUniqueness(env); rejection != nil {
		return rejection
	}

	if len(env.Payments) > 0 && !cfg.PaymentsEnabled {
		return models.NewRejection(models.CodePaymentsDisabled,
			fmt.Sprintf("payments are not enabled for container %s", container), "")
	}

	if rejection := checkDocumentTypes(env, cfg); rejection != nil {
		return rejection
	}

	return nil
}

// checkFileNames compares the declared scannable-item file names with the PDFs
// physically present. Duplicates, missing and undeclared files are all
// collected and reported together.
func checkFileNames(env *models.Envelope, pdfNames []string) *models.RejectionError {
	declared := make(map[string]int, len(env.ScannableItems))
	for _, item := range env.ScannableItems {
		declared[item.FileName]++
	}
	present := make(map[string]struct{}, len(pdfNames))
	for _, name := range pdfNames {
		present[name] = struct{}{}
	}

	var problems []string

	var duplicates []string
	for name, count := range declared {
		if count > 1 {
			duplicates = append(duplicates, name)
		}
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		problems = append(problems, "Duplicate file names: "+strings.Join(duplicates, ", "))
	}

	var missing []string
	for name := range declared {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		problems = append(problems, "Missing PDFs: "+strings.Join(missing, ", "))
	}

	var undeclared []string
	for name := range present {
		if _, ok := declared[name]; !ok {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		problems = append(problems, "Not declared PDFs: "+strings.Join(undeclared, ", "))
	}

	if len(problems) == 0 {
		return nil
	}
	return models.NewRejection(models.CodeFileNameIrregularities,
		"pdf files do not match the metadata declaration",
		strings.Join(problems, ". "))
}

func checkDcnUniqueness(env *models.Envelope) *models.RejectionError {
	seen := make(map[string]struct{}, len(env.ScannableItems))
	var duplicates []string
	for _, item := range env.ScannableItems {
		if _, ok := seen[item.DocumentControlNumber]; ok {
			duplicates = append(duplicates, item.DocumentControlNumber)
			continue
		}
		seen[item.DocumentControlNumber] = struct{}{}
	}
	if len(duplicates) == 0 {
		return nil
	}
	sort.Strings(duplicates)
	return models.NewRejection(models.CodeDuplicateDcns,
		"document control numbers are not unique across scannable items",
		"duplicates: "+strings.Join(duplicates, ", "))
}

func checkDocumentTypes(env *models.Envelope, cfg *config.ContainerConfig) *models.RejectionError {
	// Supplementary evidence must not smuggle in a primary application form.
	if env.Classification == models.ClassificationSupplementaryEvidence && cfg.OcrDocumentType != "" {
		for _, item := range env.ScannableItems {
			if strings.EqualFold(item.DocumentType, cfg.OcrDocumentType) {
				return models.NewRejection(models.CodeDisallowedDocumentTypes,
					"supplementary evidence envelopes may not contain the primary application form",
					fmt.Sprintf("document type: %s, dcn: %s", item.DocumentType, item.DocumentControlNumber))
			}
		}
	}

	if len(cfg.AllowedDocumentTypes) == 0 {
		return nil
	}
	var disallowed []string
	for _, item := range env.ScannableItems {
		if !containsFold(cfg.AllowedDocumentTypes, item.DocumentType) {
			disallowed = append(disallowed, item.DocumentType)
		}
	}
	if len(disallowed) == 0 {
		return nil
	}
	sort.Strings(disallowed)
	return models.NewRejection(models.CodeDisallowedDocumentTypes,
		"envelope contains document types not permitted for this jurisdiction",
		"disallowed: "+strings.Join(disallowed, ", "))
}

func hasOcrOfType(env *models.Envelope, documentType string) bool {
	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if strings.EqualFold(item.DocumentType, documentType) && item.HasOcrData() {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if strings.EqualFold(candidate, needle) {
			return true
		}
	}
	return false
}
