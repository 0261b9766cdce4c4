package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/lease"
	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/internal/queue"
)

type notificationEnvelopeStore interface {
	FindByStatus(ctx context.Context, status models.Status) ([]models.Envelope, error)
	GetByID(ctx context.Context, id string) (*models.Envelope, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status) error
	UpdateCcd(ctx context.Context, id, ccdID string, action models.CcdAction) error
	ClearOcrData(ctx context.Context, envelopeID string) error
	MarkZipDeleted(ctx context.Context, id string) error
}

type notificationBlobStore interface {
	Delete(ctx context.Context, container, name string) error
}

type ackQueue interface {
	Receive(ctx context.Context) (*queue.ReceivedMessage, error)
	Complete(ctx context.Context, lockToken string) error
	DeadLetter(ctx context.Context, lockToken, reason, description string) error
}

type notificationMetrics interface {
	NotificationSent(container string)
	EnvelopeCompleted(container string)
}

type nopNotificationMetrics struct{}

func (nopNotificationMetrics) NotificationSent(string)  {}
func (nopNotificationMetrics) EnvelopeCompleted(string) {}

// readyNotification tells the downstream case system an envelope's documents
// are available in the document store.
type readyNotification struct {
	EnvelopeID     string                  `json:"envelope_id"`
	Container      string                  `json:"container"`
	ZipFileName    string                  `json:"zip_file_name"`
	Jurisdiction   string                  `json:"jurisdiction"`
	PoBox          string                  `json:"po_box"`
	Classification models.Classification   `json:"classification"`
	CaseNumber     *string                 `json:"case_number,omitempty"`
	DeliveryDate   time.Time               `json:"delivery_date"`
	OpeningDate    time.Time               `json:"opening_date"`
	Documents      []readyDocument         `json:"documents"`
	Payments       []models.Payment        `json:"payments,omitempty"`
}

type readyDocument struct {
	DocumentControlNumber string           `json:"document_control_number"`
	FileName              string           `json:"file_name"`
	DocumentType          string           `json:"document_type"`
	DocumentURL           *string          `json:"document_url,omitempty"`
	OcrData               models.OcrData   `json:"ocr_data,omitempty"`
	OcrWarnings           models.StringList `json:"ocr_warnings,omitempty"`
}

// acknowledgement is the downstream reply consumed from the processed queue.
// Unknown fields are ignored so downstream payload additions do not break us.
type acknowledgement struct {
	EnvelopeID string           `json:"envelope_id"`
	CcdCaseID  string           `json:"ccd_case_id"`
	CcdAction  models.CcdAction `json:"ccd_action"`
}

// NotificationService publishes ready notifications for uploaded envelopes
// and consumes downstream acknowledgements to finalise them.
type NotificationService struct {
	envelopes notificationEnvelopeStore
	events    processorEventLog
	blobs     notificationBlobStore
	leases    leaseRunner
	ready     errorNotifier
	acks      ackQueue
	metrics   notificationMetrics
	logger    *zap.Logger
}

// NotificationServiceOption configures the service.
type NotificationServiceOption func(*NotificationService)

// WithNotificationMetrics attaches queue metrics.
func WithNotificationMetrics(m notificationMetrics) NotificationServiceOption {
	return func(s *NotificationService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewNotificationService constructs the service.
func NewNotificationService(
	envelopes notificationEnvelopeStore,
	events processorEventLog,
	blobs notificationBlobStore,
	leases leaseRunner,
	ready errorNotifier,
	acks ackQueue,
	logger *zap.Logger,
	opts ...NotificationServiceOption,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		envelopes: envelopes,
		events:    events,
		blobs:     blobs,
		leases:    leases,
		ready:     ready,
		acks:      acks,
		metrics:   nopNotificationMetrics{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublishReady sends one ready notification per UPLOADED envelope and moves
// it to NOTIFICATION_SENT. A failed send is logged and retried next run.
func (s *NotificationService) PublishReady(ctx context.Context) error {
	envelopes, err := s.envelopes.FindByStatus(ctx, models.StatusUploaded)
	if err != nil {
		return fmt.Errorf("select uploaded envelopes: %w", err)
	}

	for i := range envelopes {
		// Reload with children: the status listing is shallow.
		env, err := s.envelopes.GetByID(ctx, envelopes[i].ID)
		if err != nil {
			s.logger.Error("envelope reload failed",
				zap.String("envelopeId", envelopes[i].ID), zap.Error(err))
			continue
		}
		if err := s.publishOne(ctx, env); err != nil {
			s.logger.Error("ready notification failed",
				zap.String("envelopeId", env.ID),
				zap.String("zipFileName", env.ZipFileName),
				zap.Error(err))
		}
	}
	return nil
}

func (s *NotificationService) publishOne(ctx context.Context, env *models.Envelope) error {
	payload := readyNotification{
		EnvelopeID:     env.ID,
		Container:      env.Container,
		ZipFileName:    env.ZipFileName,
		Jurisdiction:   env.Jurisdiction,
		PoBox:          env.PoBox,
		Classification: env.Classification,
		CaseNumber:     env.CaseNumber,
		DeliveryDate:   env.DeliveryDate,
		OpeningDate:    env.OpeningDate,
		Payments:       env.Payments,
	}
	for _, item := range env.ScannableItems {
		payload.Documents = append(payload.Documents, readyDocument{
			DocumentControlNumber: item.DocumentControlNumber,
			FileName:              item.FileName,
			DocumentType:          item.DocumentType,
			DocumentURL:           item.DocumentURL,
			OcrData:               item.OcrData,
			OcrWarnings:           item.OcrWarnings,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ready notification: %w", err)
	}

	msg := queue.Message{ID: env.Container + "_" + env.ZipFileName, Body: body}
	if err := s.ready.Send(ctx, msg); err != nil {
		return fmt.Errorf("send ready notification: %w", err)
	}

	if err := s.envelopes.UpdateStatus(ctx, env.ID, models.StatusUploaded, models.StatusNotificationSent); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if err := s.events.Append(ctx, &models.ProcessEvent{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		Event:       models.EventDocProcessedNotification,
	}); err != nil {
		return fmt.Errorf("record notification event: %w", err)
	}
	s.metrics.NotificationSent(env.Container)
	return nil
}

// ConsumeAcknowledgements drains up to batchSize acknowledgement messages.
// Malformed messages and unknown envelopes are dead-lettered; transient
// finalisation failures leave the message locked for redelivery.
func (s *NotificationService) ConsumeAcknowledgements(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 10
	}
	for i := 0; i < batchSize; i++ {
		msg, err := s.acks.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive acknowledgement: %w", err)
		}
		if msg == nil {
			return nil
		}
		s.handleAcknowledgement(ctx, msg)
	}
	return nil
}

func (s *NotificationService) handleAcknowledgement(ctx context.Context, msg *queue.ReceivedMessage) {
	var ack acknowledgement
	if err := json.Unmarshal(msg.Body, &ack); err != nil || ack.EnvelopeID == "" {
		description := "missing envelope_id"
		if err != nil {
			description = err.Error()
		}
		s.deadLetter(ctx, msg, "MALFORMED_MESSAGE", description)
		return
	}

	env, err := s.envelopes.GetByID(ctx, ack.EnvelopeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.deadLetter(ctx, msg, "ENVELOPE_NOT_FOUND", ack.EnvelopeID)
			return
		}
		// Transient lookup failure: leave the message for redelivery.
		s.logger.Error("acknowledgement lookup failed",
			zap.String("envelopeId", ack.EnvelopeID), zap.Error(err))
		return
	}

	if env.Status == models.StatusCompleted || env.Status == models.StatusConsumed {
		// Redelivered acknowledgement for an already finalised envelope.
		s.complete(ctx, msg)
		return
	}

	if err := s.finalize(ctx, env, &ack); err != nil {
		s.logger.Error("envelope finalisation failed",
			zap.String("envelopeId", env.ID),
			zap.String("zipFileName", env.ZipFileName),
			zap.Error(err))
		return
	}
	s.complete(ctx, msg)
}

func (s *NotificationService) finalize(ctx context.Context, env *models.Envelope, ack *acknowledgement) error {
	if ack.CcdCaseID != "" {
		if err := s.envelopes.UpdateCcd(ctx, env.ID, ack.CcdCaseID, ack.CcdAction); err != nil {
			return fmt.Errorf("record ccd reference: %w", err)
		}
	}
	if err := s.envelopes.ClearOcrData(ctx, env.ID); err != nil {
		return fmt.Errorf("clear ocr data: %w", err)
	}
	if err := s.envelopes.UpdateStatus(ctx, env.ID, env.Status, models.StatusCompleted); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := s.events.Append(ctx, &models.ProcessEvent{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		Event:       models.EventCompleted,
	}); err != nil {
		return fmt.Errorf("record completed event: %w", err)
	}

	s.deleteBlob(ctx, env)
	s.metrics.EnvelopeCompleted(env.Container)
	s.logger.Info("envelope completed",
		zap.String("envelopeId", env.ID),
		zap.String("zipFileName", env.ZipFileName),
		zap.String("ccdCaseId", ack.CcdCaseID))
	return nil
}

// deleteBlob removes the original zip under a lease. Deletion failure is not
// fatal: the envelope is already finalised and the orphaned blob is skipped
// by future scans through the idempotency check.
func (s *NotificationService) deleteBlob(ctx context.Context, env *models.Envelope) {
	err := s.leases.WithLease(ctx, env.Container, env.ZipFileName, false,
		func(string) error {
			if err := s.blobs.Delete(ctx, env.Container, env.ZipFileName); err != nil {
				return err
			}
			return s.envelopes.MarkZipDeleted(ctx, env.ID)
		},
		func(reason lease.NotAcquiredReason) {
			s.logger.Warn("blob deletion skipped, lease not acquired",
				zap.String("container", env.Container),
				zap.String("zipFileName", env.ZipFileName),
				zap.String("reason", string(reason)))
		})
	if err != nil {
		s.logger.Error("blob deletion failed",
			zap.String("container", env.Container),
			zap.String("zipFileName", env.ZipFileName),
			zap.Error(err))
	}
}

func (s *NotificationService) complete(ctx context.Context, msg *queue.ReceivedMessage) {
	if err := s.acks.Complete(ctx, msg.LockToken); err != nil {
		s.logger.Error("acknowledgement completion failed",
			zap.String("messageId", msg.ID), zap.Error(err))
	}
}

func (s *NotificationService) deadLetter(ctx context.Context, msg *queue.ReceivedMessage, reason, description string) {
	s.logger.Warn("acknowledgement dead-lettered",
		zap.String("messageId", msg.ID),
		zap.String("reason", reason),
		zap.String("description", description))
	if err := s.acks.DeadLetter(ctx, msg.LockToken, reason, description); err != nil {
		s.logger.Error("dead-letter failed", zap.String("messageId", msg.ID), zap.Error(err))
	}
}
