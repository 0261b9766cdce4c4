package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/internal/queue"
)

// ErrEnvelopeRejecting signals that a rejected blob could not be fully
// dispositioned. The blob stays in the input container for a later retry.
var ErrEnvelopeRejecting = errors.New("envelope rejection could not be completed")

type rejectionEventLog interface {
	Append(ctx context.Context, event *models.ProcessEvent) error
}

type rejectionBlobMover interface {
	Move(ctx context.Context, srcContainer, name, dstContainer string) error
}

type errorNotifier interface {
	Send(ctx context.Context, msg queue.Message) error
}

// rejectionNotification is the payload published for operators when a blob is
// rejected. Rejection detail may carry personal data and is deliberately not
// part of this payload. PO box and DCNs are present only when the metadata
// parsed far enough to know them.
type rejectionNotification struct {
	ZipFileName            string   `json:"zip_file_name"`
	Container              string   `json:"container"`
	ErrorCode              string   `json:"error_code"`
	ErrorDescription       string   `json:"error_description"`
	PoBox                  string   `json:"po_box,omitempty"`
	DocumentControlNumbers []string `json:"document_control_numbers,omitempty"`
}

// RejectionService dispositions blobs that failed validation: policy
// rejections are notified and quarantined, content failures are logged and
// left in place for the supplier to replace.
type RejectionService struct {
	events            rejectionEventLog
	blobs             rejectionBlobMover
	notifier          errorNotifier
	rejectedContainer string
	logger            *zap.Logger
}

// NewRejectionService constructs the service.
func NewRejectionService(events rejectionEventLog, blobs rejectionBlobMover, notifier errorNotifier, rejectedContainer string, logger *zap.Logger) *RejectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RejectionService{
		events:            events,
		blobs:             blobs,
		notifier:          notifier,
		rejectedContainer: rejectedContainer,
		logger:            logger,
	}
}

// HandleInvalidBlob records a DOC_FAILURE event and, for policy rejections,
// notifies operators and moves the blob to the rejected container. The
// notification is sent before the move: if the send fails the blob stays put
// so the next scan retries the whole disposition. env is nil when the blob
// failed before its metadata could be parsed.
func (s *RejectionService) HandleInvalidBlob(ctx context.Context, container, zipFileName string, env *models.Envelope, rejection *models.RejectionError) error {
	reason := fmt.Sprintf("%s: %s", rejection.Code, rejection.Message)
	if err := s.events.Append(ctx, &models.ProcessEvent{
		Container:   container,
		ZipFileName: zipFileName,
		Event:       models.EventDocFailure,
		Reason:      &reason,
	}); err != nil {
		return fmt.Errorf("%w: record failure event: %v", ErrEnvelopeRejecting, err)
	}

	if rejection.Kind == models.KindContent {
		// Content failures (unreadable zip, missing metadata) leave the blob
		// in place so the supplier can re-deliver a corrected file.
		s.logger.Warn("blob left in place after content failure",
			zap.String("container", container),
			zap.String("zipFileName", zipFileName),
			zap.String("code", string(rejection.Code)))
		return nil
	}

	notification := rejectionNotification{
		ZipFileName:      zipFileName,
		Container:        container,
		ErrorCode:        string(rejection.Code),
		ErrorDescription: rejection.Message,
	}
	if env != nil {
		notification.PoBox = env.PoBox
		for _, item := range env.ScannableItems {
			notification.DocumentControlNumbers = append(notification.DocumentControlNumbers, item.DocumentControlNumber)
		}
		for _, payment := range env.Payments {
			notification.DocumentControlNumbers = append(notification.DocumentControlNumbers, payment.DocumentControlNumber)
		}
	}
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("%w: marshal notification: %v", ErrEnvelopeRejecting, err)
	}

	// Deterministic message id: a blob rejected twice dedups on the queue.
	msg := queue.Message{ID: container + "_" + zipFileName, Body: body}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: send rejection notification: %v", ErrEnvelopeRejecting, err)
	}

	if err := s.blobs.Move(ctx, container, zipFileName, s.rejectedContainer); err != nil {
		return fmt.Errorf("%w: move blob to rejected container: %v", ErrEnvelopeRejecting, err)
	}

	s.logger.Info("rejected blob quarantined",
		zap.String("container", container),
		zap.String("zipFileName", zipFileName),
		zap.String("code", string(rejection.Code)))
	return nil
}
