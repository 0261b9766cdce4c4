package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docuflow/scan-ingest/internal/models"
	"github.com/docuflow/scan-ingest/internal/queue"
)

type rejEventLogStub struct {
	events []models.ProcessEvent
	err    error
}

func (s *rejEventLogStub) Append(_ context.Context, event *models.ProcessEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *event)
	return nil
}

type rejBlobMoverStub struct {
	moves []string
	err   error
}

func (s *rejBlobMoverStub) Move(_ context.Context, srcContainer, name, dstContainer string) error {
	if s.err != nil {
		return s.err
	}
	s.moves = append(s.moves, srcContainer+"/"+name+" -> "+dstContainer)
	return nil
}

type rejNotifierStub struct {
	sent []queue.Message
	err  error
}

func (s *rejNotifierStub) Send(_ context.Context, msg queue.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestHandleInvalidBlobRejectionNotifiesAndMoves(t *testing.T) {
	events := &rejEventLogStub{}
	mover := &rejBlobMoverStub{}
	notifier := &rejNotifierStub{}
	svc := NewRejectionService(events, mover, notifier, "rejected", nil)

	rejection := models.NewRejection(models.CodeZipNameMismatch, "name mismatch", "metadata: a, blob: b")
	err := svc.HandleInvalidBlob(context.Background(), "probate", "bad.zip", nil, rejection)
	require.NoError(t, err)

	require.Len(t, events.events, 1)
	require.Equal(t, models.EventDocFailure, events.events[0].Event)
	require.Contains(t, *events.events[0].Reason, "ZIP_NAME_MISMATCH")

	require.Len(t, notifier.sent, 1)
	require.Equal(t, "probate_bad.zip", notifier.sent[0].ID)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(notifier.sent[0].Body, &payload))
	require.Equal(t, "ZIP_NAME_MISMATCH", payload["error_code"])
	require.Equal(t, "name mismatch", payload["error_description"])
	// Rejection detail may carry personal data and stays out of the payload.
	require.NotContains(t, string(notifier.sent[0].Body), "metadata: a")
	// The metadata never parsed, so there is no PO box or DCN to report.
	require.NotContains(t, string(notifier.sent[0].Body), "po_box")
	require.NotContains(t, string(notifier.sent[0].Body), "document_control_numbers")

	require.Equal(t, []string{"probate/bad.zip -> rejected"}, mover.moves)
}

func TestHandleInvalidBlobNotificationCarriesPoBoxAndDcns(t *testing.T) {
	events := &rejEventLogStub{}
	mover := &rejBlobMoverStub{}
	notifier := &rejNotifierStub{}
	svc := NewRejectionService(events, mover, notifier, "rejected", nil)

	env := &models.Envelope{
		PoBox: "12625",
		ScannableItems: []models.ScannableItem{
			{DocumentControlNumber: "1111001010"},
			{DocumentControlNumber: "1111001011"},
		},
		Payments: []models.Payment{
			{DocumentControlNumber: "2222001010"},
		},
	}
	rejection := models.NewRejection(models.CodePaymentsDisabled, "payments are not enabled", "")
	require.NoError(t, svc.HandleInvalidBlob(context.Background(), "probate", "bad.zip", env, rejection))

	require.Len(t, notifier.sent, 1)
	var payload struct {
		PoBox                  string   `json:"po_box"`
		DocumentControlNumbers []string `json:"document_control_numbers"`
	}
	require.NoError(t, json.Unmarshal(notifier.sent[0].Body, &payload))
	require.Equal(t, "12625", payload.PoBox)
	require.Equal(t, []string{"1111001010", "1111001011", "2222001010"}, payload.DocumentControlNumbers)
}

func TestHandleInvalidBlobContentFailureLeavesBlob(t *testing.T) {
	events := &rejEventLogStub{}
	mover := &rejBlobMoverStub{}
	notifier := &rejNotifierStub{}
	svc := NewRejectionService(events, mover, notifier, "rejected", nil)

	failure := models.NewContentError(models.CodeInvalidZipArchive, "zip unreadable", errors.New("bad header"))
	require.NoError(t, svc.HandleInvalidBlob(context.Background(), "probate", "bad.zip", nil, failure))

	require.Len(t, events.events, 1)
	require.Empty(t, notifier.sent)
	require.Empty(t, mover.moves)
}

func TestHandleInvalidBlobNotifyFailureAbortsMove(t *testing.T) {
	events := &rejEventLogStub{}
	mover := &rejBlobMoverStub{}
	notifier := &rejNotifierStub{err: errors.New("queue down")}
	svc := NewRejectionService(events, mover, notifier, "rejected", nil)

	rejection := models.NewRejection(models.CodeServiceDisabled, "service disabled", "")
	err := svc.HandleInvalidBlob(context.Background(), "probate", "bad.zip", nil, rejection)
	require.ErrorIs(t, err, ErrEnvelopeRejecting)
	require.Empty(t, mover.moves)
}

func TestHandleInvalidBlobMoveFailureSurfaces(t *testing.T) {
	events := &rejEventLogStub{}
	mover := &rejBlobMoverStub{err: errors.New("store down")}
	notifier := &rejNotifierStub{}
	svc := NewRejectionService(events, mover, notifier, "rejected", nil)

	rejection := models.NewRejection(models.CodeServiceDisabled, "service disabled", "")
	err := svc.HandleInvalidBlob(context.Background(), "probate", "bad.zip", nil, rejection)
	require.ErrorIs(t, err, ErrEnvelopeRejecting)
	require.Len(t, notifier.sent, 1)
}
