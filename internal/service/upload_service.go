package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/docstore"
	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/internal/validation"
)

type uploadEnvelopeStore interface {
	FindReadyForUpload(ctx context.Context, cutoff time.Time, maxRetries int) ([]models.Envelope, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status) error
	RecordUploadFailure(ctx context.Context, id string) error
	SetDocumentURL(ctx context.Context, envelopeID, fileName, url string) error
}

type uploadBlobStore interface {
	Read(ctx context.Context, container, name string) ([]byte, error)
}

type documentUploader interface {
	Upload(ctx context.Context, files []docstore.File) ([]docstore.UploadResult, error)
}

type uploadMetrics interface {
	UploadRetried(container string)
}

type nopUploadMetrics struct{}

func (nopUploadMetrics) UploadRetried(string) {}

// UploadService pushes the PDFs of validated envelopes into the document
// store. Envelopes stay at CREATED or UPLOAD_FAILURE until a push succeeds;
// each failed attempt increments a bounded retry counter.
type UploadService struct {
	envelopes  uploadEnvelopeStore
	events     processorEventLog
	blobs      uploadBlobStore
	docs       documentUploader
	cooldown   time.Duration
	maxRetries int
	batchSize  int
	metrics    uploadMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// UploadServiceOption configures the service.
type UploadServiceOption func(*UploadService)

// WithUploadMetrics attaches retry metrics.
func WithUploadMetrics(m uploadMetrics) UploadServiceOption {
	return func(s *UploadService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithUploadClock overrides the wall clock.
func WithUploadClock(now func() time.Time) UploadServiceOption {
	return func(s *UploadService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewUploadService constructs the service.
func NewUploadService(
	envelopes uploadEnvelopeStore,
	events processorEventLog,
	blobs uploadBlobStore,
	docs documentUploader,
	cooldown time.Duration,
	maxRetries, batchSize int,
	logger *zap.Logger,
	opts ...UploadServiceOption,
) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	s := &UploadService{
		envelopes:  envelopes,
		events:     events,
		blobs:      blobs,
		docs:       docs,
		cooldown:   cooldown,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		metrics:    nopUploadMetrics{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessReadyEnvelopes uploads every envelope past its cool-down and under
// the retry limit. One envelope's failure is isolated: it is marked
// UPLOAD_FAILURE and the run continues with the rest.
func (s *UploadService) ProcessReadyEnvelopes(ctx context.Context) error {
	cutoff := s.now().Add(-s.cooldown)
	envelopes, err := s.envelopes.FindReadyForUpload(ctx, cutoff, s.maxRetries)
	if err != nil {
		return fmt.Errorf("select envelopes for upload: %w", err)
	}

	for i := range envelopes {
		env := &envelopes[i]
		if err := s.uploadEnvelope(ctx, env); err != nil {
			s.recordFailure(ctx, env, err)
			continue
		}
		if err := s.envelopes.UpdateStatus(ctx, env.ID, env.Status, models.StatusUploaded); err != nil {
			s.logger.Error("status update after upload failed",
				zap.String("envelopeId", env.ID), zap.Error(err))
			continue
		}
		if err := s.events.Append(ctx, &models.ProcessEvent{
			Container:   env.Container,
			ZipFileName: env.ZipFileName,
			Event:       models.EventDocUploaded,
		}); err != nil {
			s.logger.Error("upload event not recorded",
				zap.String("envelopeId", env.ID), zap.Error(err))
		}
		s.logger.Info("envelope uploaded",
			zap.String("envelopeId", env.ID),
			zap.String("zipFileName", env.ZipFileName),
			zap.Int("documents", len(env.ScannableItems)))
	}
	return nil
}

// uploadEnvelope re-reads the blob, extracts its PDFs (the envelope was
// already validated at ingestion) and pushes them in bounded batches.
func (s *UploadService) uploadEnvelope(ctx context.Context, env *models.Envelope) error {
	data, err := s.blobs.Read(ctx, env.Container, env.ZipFileName)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	content, err := validation.Extract(data)
	if err != nil {
		return fmt.Errorf("re-extract blob: %w", err)
	}

	files := make([]docstore.File, 0, len(content.PDFNames))
	for _, name := range content.PDFNames {
		files = append(files, docstore.File{Name: name, Content: content.PDFs[name]})
	}

	for start := 0; start < len(files); start += s.batchSize {
		end := start + s.batchSize
		if end > len(files) {
			end = len(files)
		}
		results, err := s.docs.Upload(ctx, files[start:end])
		if err != nil {
			return fmt.Errorf("upload batch: %w", err)
		}
		for _, result := range results {
			if err := s.envelopes.SetDocumentURL(ctx, env.ID, result.FileName, result.URL); err != nil {
				return fmt.Errorf("record document url: %w", err)
			}
		}
	}
	return nil
}

func (s *UploadService) recordFailure(ctx context.Context, env *models.Envelope, cause error) {
	s.metrics.UploadRetried(env.Container)
	s.logger.Warn("envelope upload failed",
		zap.String("envelopeId", env.ID),
		zap.String("zipFileName", env.ZipFileName),
		zap.Int("failures", env.UploadFailures+1),
		zap.Error(cause))

	if err := s.envelopes.RecordUploadFailure(ctx, env.ID); err != nil {
		s.logger.Error("upload failure not recorded",
			zap.String("envelopeId", env.ID), zap.Error(err))
		return
	}
	reason := cause.Error()
	if err := s.events.Append(ctx, &models.ProcessEvent{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		Event:       models.EventDocUploadFailure,
		Reason:      &reason,
	}); err != nil {
		s.logger.Error("upload failure event not recorded",
			zap.String("envelopeId", env.ID), zap.Error(err))
	}
}
