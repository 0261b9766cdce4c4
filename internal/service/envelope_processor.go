package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/lease"
	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/internal/ocr"
	"github.com/docuflow/scan-ingest/internal/repository"
	"github.com/docuflow/scan-ingest/internal/validation"
	"github.com/docuflow/scan-ingest/pkg/config"
	appErrors "github.com/docuflow/scan-ingest/pkg/errors"
)

type envelopeStore interface {
	Create(ctx context.Context, env *models.Envelope) error
	GetByID(ctx context.Context, id string) (*models.Envelope, error)
	FindByContainerAndFileName(ctx context.Context, container, zipFileName string) (*models.Envelope, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status) error
}

type processorEventLog interface {
	Append(ctx context.Context, event *models.ProcessEvent) error
}

type processorBlobStore interface {
	ListBlobs(ctx context.Context, container string) ([]string, error)
	Read(ctx context.Context, container, name string) ([]byte, error)
}

type leaseRunner interface {
	WithLease(ctx context.Context, container, name string, releaseAfter bool, onAcquired func(token string) error, onNotAcquired func(reason lease.NotAcquiredReason)) error
}

type metadataParser interface {
	Parse(metadataBytes []byte) (*models.Envelope, error)
}

type ocrValidator interface {
	Validate(ctx context.Context, url, formTypeSubtype string, fields []models.OcrField) (*ocr.ValidationResult, error)
}

type blobRejecter interface {
	HandleInvalidBlob(ctx context.Context, container, zipFileName string, env *models.Envelope, rejection *models.RejectionError) error
}

type processorMetrics interface {
	EnvelopeProcessed(container string)
	EnvelopeRejected(container, code string)
	LeaseContention(container string)
}

// EnvelopeProcessor drives ingestion: it scans the configured containers,
// validates each new zip file under an exclusive lease and persists the
// resulting envelope aggregate.
type EnvelopeProcessor struct {
	envelopes  envelopeStore
	events     processorEventLog
	blobs      processorBlobStore
	leases     leaseRunner
	parser     metadataParser
	ocr        ocrValidator
	rejections blobRejecter
	containers []config.ContainerConfig
	metrics    processorMetrics
	logger     *zap.Logger

	staleTimeout time.Duration
	now          func() time.Time
}

// EnvelopeProcessorOption configures the processor.
type EnvelopeProcessorOption func(*EnvelopeProcessor)

// WithProcessorMetrics attaches ingestion metrics.
func WithProcessorMetrics(m processorMetrics) EnvelopeProcessorOption {
	return func(p *EnvelopeProcessor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithProcessorClock overrides the wall clock, used by staleness checks.
func WithProcessorClock(now func() time.Time) EnvelopeProcessorOption {
	return func(p *EnvelopeProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

type nopProcessorMetrics struct{}

func (nopProcessorMetrics) EnvelopeProcessed(string)        {}
func (nopProcessorMetrics) EnvelopeRejected(string, string) {}
func (nopProcessorMetrics) LeaseContention(string)          {}

// NewEnvelopeProcessor constructs the processor.
func NewEnvelopeProcessor(
	envelopes envelopeStore,
	events processorEventLog,
	blobs processorBlobStore,
	leases leaseRunner,
	parser metadataParser,
	ocrClient ocrValidator,
	rejections blobRejecter,
	containers []config.ContainerConfig,
	staleTimeout time.Duration,
	logger *zap.Logger,
	opts ...EnvelopeProcessorOption,
) *EnvelopeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &EnvelopeProcessor{
		envelopes:    envelopes,
		events:       events,
		blobs:        blobs,
		leases:       leases,
		parser:       parser,
		ocr:          ocrClient,
		rejections:   rejections,
		containers:   containers,
		metrics:      nopProcessorMetrics{},
		logger:       logger,
		staleTimeout: staleTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ScanContainers walks every configured container and processes each zip blob
// under a lease. A failing blob never stops the scan.
func (p *EnvelopeProcessor) ScanContainers(ctx context.Context) error {
	for i := range p.containers {
		container := p.containers[i]
		blobs, err := p.blobs.ListBlobs(ctx, container.Name)
		if err != nil {
			p.logger.Error("list blobs failed", zap.String("container", container.Name), zap.Error(err))
			continue
		}
		for _, name := range blobs {
			if !strings.HasSuffix(strings.ToLower(name), ".zip") {
				continue
			}
			p.processUnderLease(ctx, &container, name)
		}
	}
	return ctx.Err()
}

func (p *EnvelopeProcessor) processUnderLease(ctx context.Context, cfg *config.ContainerConfig, blobName string) {
	err := p.leases.WithLease(ctx, cfg.Name, blobName, true,
		func(string) error {
			return p.processBlob(ctx, cfg, blobName)
		},
		func(reason lease.NotAcquiredReason) {
			p.metrics.LeaseContention(cfg.Name)
			p.logger.Debug("blob skipped, lease not acquired",
				zap.String("container", cfg.Name),
				zap.String("zipFileName", blobName),
				zap.String("reason", string(reason)))
		})
	if err != nil {
		p.logger.Error("blob processing failed",
			zap.String("container", cfg.Name),
			zap.String("zipFileName", blobName),
			zap.Error(err))
	}
}

func (p *EnvelopeProcessor) processBlob(ctx context.Context, cfg *config.ContainerConfig, blobName string) error {
	placeholderExists := false
	existing, err := p.envelopes.FindByContainerAndFileName(ctx, cfg.Name, blobName)
	switch {
	case err == nil && existing.Status != models.StatusZipProcessingFailure:
		// Already ingested; the blob waits for the later pipeline stages.
		p.logger.Debug("envelope already exists, skipping",
			zap.String("container", cfg.Name),
			zap.String("zipFileName", blobName),
			zap.String("status", string(existing.Status)))
		return nil
	case err == nil:
		placeholderExists = true
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("idempotency lookup: %w", err)
	}

	data, err := p.blobs.Read(ctx, cfg.Name, blobName)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	content, err := validation.Extract(data)
	if err != nil {
		return p.handleValidationFailure(ctx, cfg.Name, blobName, nil, placeholderExists, err)
	}

	env, err := p.parser.Parse(content.Metadata)
	if err != nil {
		return p.handleValidationFailure(ctx, cfg.Name, blobName, nil, placeholderExists, err)
	}

	if rejection := p.validateOcr(ctx, cfg, env); rejection != nil {
		return p.handleValidationFailure(ctx, cfg.Name, blobName, env, placeholderExists, rejection)
	}

	// The zip-name rule compares the metadata's declared name with the blob
	// name, so the envelope keeps the parsed value until the rules pass.
	if rejection := validation.CheckBusinessRules(env, cfg.Name, blobName, content.PDFNames, cfg); rejection != nil {
		return p.handleValidationFailure(ctx, cfg.Name, blobName, env, placeholderExists, rejection)
	}

	env.Container = cfg.Name
	env.ZipFileName = blobName
	env.Status = models.StatusCreated

	if err := p.envelopes.Create(ctx, env); err != nil {
		return fmt.Errorf("persist envelope: %w", err)
	}
	if err := p.events.Append(ctx, &models.ProcessEvent{
		Container:   cfg.Name,
		ZipFileName: blobName,
		Event:       models.EventZipProcessingStarted,
	}); err != nil {
		return fmt.Errorf("record processing started event: %w", err)
	}

	p.metrics.EnvelopeProcessed(cfg.Name)
	p.logger.Info("envelope created",
		zap.String("container", cfg.Name),
		zap.String("zipFileName", blobName),
		zap.String("envelopeId", env.ID),
		zap.String("classification", string(env.Classification)))
	return nil
}

// validateOcr runs the per-jurisdiction OCR field validation for envelopes
// that must carry OCR data. Transport failures degrade to a stored warning so
// an outage of the validation endpoint never blocks ingestion; an explicit
// ERRORS verdict rejects the envelope.
func (p *EnvelopeProcessor) validateOcr(ctx context.Context, cfg *config.ContainerConfig, env *models.Envelope) *models.RejectionError {
	if !env.Classification.RequiresOcr() || cfg.OcrValidationURL == "" {
		return nil
	}
	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if !strings.EqualFold(item.DocumentType, cfg.OcrDocumentType) || !item.HasOcrData() {
			continue
		}
		formTypeSubtype := item.DocumentType
		if item.DocumentSubtype != nil && *item.DocumentSubtype != "" {
			formTypeSubtype = *item.DocumentSubtype
		}
		result, err := p.ocr.Validate(ctx, cfg.OcrValidationURL, formTypeSubtype, item.OcrData)
		if err != nil {
			item.OcrWarnings = append(item.OcrWarnings, "OCR validation was not performed")
			p.logger.Warn("ocr validation unavailable",
				zap.String("container", cfg.Name),
				zap.String("zipFileName", env.ZipFileName),
				zap.Error(err))
			continue
		}
		switch result.Status {
		case ocr.StatusErrors:
			return models.NewRejection(models.CodeOcrValidationFailure,
				"OCR fields failed validation",
				strings.Join(result.Errors, "; "))
		case ocr.StatusWarnings:
			item.OcrWarnings = append(item.OcrWarnings, result.Warnings...)
		}
	}
	return nil
}

// handleValidationFailure dispositions the blob and records a placeholder
// envelope so the failure is auditable. Reprocessing a corrected re-delivery
// of the same file name stays possible because placeholder envelopes do not
// short-circuit the idempotency check; a blob that keeps failing reuses its
// existing placeholder instead of inserting a new row per scan pass.
func (p *EnvelopeProcessor) handleValidationFailure(ctx context.Context, container, blobName string, env *models.Envelope, placeholderExists bool, cause error) error {
	var rejection *models.RejectionError
	if !errors.As(cause, &rejection) {
		return cause
	}

	if err := p.rejections.HandleInvalidBlob(ctx, container, blobName, env, rejection); err != nil {
		return err
	}

	if !placeholderExists {
		placeholder := &models.Envelope{
			Container:    container,
			ZipFileName:  blobName,
			Status:       models.StatusZipProcessingFailure,
			DeliveryDate: p.now().UTC(),
			OpeningDate:  p.now().UTC(),
		}
		if err := p.envelopes.Create(ctx, placeholder); err != nil && !errors.Is(err, repository.ErrDuplicateEnvelope) {
			p.logger.Warn("placeholder envelope not recorded",
				zap.String("container", container),
				zap.String("zipFileName", blobName),
				zap.Error(err))
		}
	}

	p.metrics.EnvelopeRejected(container, string(rejection.Code))
	p.logger.Warn("blob rejected",
		zap.String("container", container),
		zap.String("zipFileName", blobName),
		zap.String("code", string(rejection.Code)),
		zap.String("message", rejection.Message))
	return nil
}

// Retrigger resets an envelope to UPLOADED so the pipeline re-publishes it.
// Only envelopes that finished (COMPLETED) or whose notification went stale,
// and that were never picked up downstream, may be retriggered.
func (p *EnvelopeProcessor) Retrigger(ctx context.Context, envelopeID string) (*models.Envelope, error) {
	env, err := p.envelopes.GetByID(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load envelope: %w", err)
	}

	if env.CcdID != nil && *env.CcdID != "" {
		return nil, appErrors.ErrProcessedInCcd
	}
	stale := env.IsStale(p.staleTimeout, p.now())
	if env.Status != models.StatusCompleted && !stale {
		return nil, appErrors.ErrNotCompletedOrStale
	}

	if err := p.envelopes.UpdateStatus(ctx, env.ID, env.Status, models.StatusUploaded); err != nil {
		return nil, fmt.Errorf("reset envelope status: %w", err)
	}
	if err := p.events.Append(ctx, &models.ProcessEvent{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		Event:       models.EventManualRetriggerProcessing,
	}); err != nil {
		return nil, fmt.Errorf("record retrigger event: %w", err)
	}

	env.Status = models.StatusUploaded
	p.logger.Info("envelope retriggered",
		zap.String("envelopeId", env.ID),
		zap.String("zipFileName", env.ZipFileName))
	return env, nil
}

// UpdateStatusManually applies an operator- or downstream-requested status
// change. Only the CONSUMED transition is accepted over the API.
func (p *EnvelopeProcessor) UpdateStatusManually(ctx context.Context, envelopeID string, to models.Status) (*models.Envelope, error) {
	if to != models.StatusConsumed {
		return nil, appErrors.ErrInvalidStatusChange
	}
	env, err := p.envelopes.GetByID(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load envelope: %w", err)
	}
	if err := models.AssertCanTransition(env.Status, to); err != nil {
		return nil, appErrors.ErrInvalidStatusChange
	}
	if err := p.envelopes.UpdateStatus(ctx, env.ID, env.Status, to); err != nil {
		return nil, fmt.Errorf("update envelope status: %w", err)
	}
	if err := p.events.Append(ctx, &models.ProcessEvent{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		Event:       models.EventManualStatusChange,
	}); err != nil {
		return nil, fmt.Errorf("record status change event: %w", err)
	}
	env.Status = to
	return env, nil
}
