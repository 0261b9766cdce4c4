package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docuflow/scan-ingest/internal/docstore"
	"github.com/docuflow/scan-ingest/internal/models"
)

type upEnvelopeStoreStub struct {
	ready        []models.Envelope
	statusMoves  map[string]models.Status
	failures     []string
	documentURLs map[string]string
}

func newUpEnvelopeStoreStub(ready ...models.Envelope) *upEnvelopeStoreStub {
	return &upEnvelopeStoreStub{
		ready:        ready,
		statusMoves:  make(map[string]models.Status),
		documentURLs: make(map[string]string),
	}
}

func (s *upEnvelopeStoreStub) FindReadyForUpload(_ context.Context, _ time.Time, _ int) ([]models.Envelope, error) {
	return s.ready, nil
}

func (s *upEnvelopeStoreStub) UpdateStatus(_ context.Context, id string, _, to models.Status) error {
	s.statusMoves[id] = to
	return nil
}

func (s *upEnvelopeStoreStub) RecordUploadFailure(_ context.Context, id string) error {
	s.failures = append(s.failures, id)
	return nil
}

func (s *upEnvelopeStoreStub) SetDocumentURL(_ context.Context, envelopeID, fileName, url string) error {
	s.documentURLs[envelopeID+"/"+fileName] = url
	return nil
}

type upBlobStoreStub struct {
	blobs map[string][]byte
}

func (s *upBlobStoreStub) Read(_ context.Context, _, name string) ([]byte, error) {
	data, ok := s.blobs[name]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

type upDocStoreStub struct {
	batches [][]docstore.File
	err     error
}

func (s *upDocStoreStub) Upload(_ context.Context, files []docstore.File) ([]docstore.UploadResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, files)
	results := make([]docstore.UploadResult, 0, len(files))
	for _, f := range files {
		results = append(results, docstore.UploadResult{FileName: f.Name, URL: "http://docs.local/" + f.Name})
	}
	return results, nil
}

func readyEnvelope(id, zipName string) models.Envelope {
	return models.Envelope{
		ID:          id,
		Container:   "probate",
		ZipFileName: zipName,
		Status:      models.StatusCreated,
		ScannableItems: []models.ScannableItem{
			{DocumentControlNumber: "1111002", FileName: "1111002.pdf", DocumentType: "FORM"},
		},
	}
}

func TestProcessReadyEnvelopesUploads(t *testing.T) {
	zipName := "probate_01-10-2024-10-00-00.zip"
	envelopes := newUpEnvelopeStoreStub(readyEnvelope("env-1", zipName))
	events := &procEventLogStub{}
	blobs := &upBlobStoreStub{blobs: map[string][]byte{zipName: buildProcessorZip(t, "1111002.pdf")}}
	docs := &upDocStoreStub{}

	svc := NewUploadService(envelopes, events, blobs, docs, time.Minute, 5, 10, nil)
	require.NoError(t, svc.ProcessReadyEnvelopes(context.Background()))

	require.Equal(t, models.StatusUploaded, envelopes.statusMoves["env-1"])
	require.Equal(t, "http://docs.local/1111002.pdf", envelopes.documentURLs["env-1/1111002.pdf"])
	require.Equal(t, []models.EventType{models.EventDocUploaded}, events.types())
	require.Empty(t, envelopes.failures)
}

func TestProcessReadyEnvelopesBatches(t *testing.T) {
	zipName := "probate_01-10-2024-10-00-00.zip"
	env := readyEnvelope("env-1", zipName)
	envelopes := newUpEnvelopeStoreStub(env)
	blobs := &upBlobStoreStub{blobs: map[string][]byte{
		zipName: buildProcessorZip(t, "a.pdf", "b.pdf", "c.pdf"),
	}}
	docs := &upDocStoreStub{}

	svc := NewUploadService(envelopes, &procEventLogStub{}, blobs, docs, time.Minute, 5, 2, nil)
	require.NoError(t, svc.ProcessReadyEnvelopes(context.Background()))

	require.Len(t, docs.batches, 2)
	require.Len(t, docs.batches[0], 2)
	require.Len(t, docs.batches[1], 1)
}

func TestProcessReadyEnvelopesIsolatesFailures(t *testing.T) {
	goodZip := "probate_01-10-2024-10-00-00.zip"
	badZip := "probate_02-10-2024-10-00-00.zip"
	envelopes := newUpEnvelopeStoreStub(
		readyEnvelope("env-bad", badZip),
		readyEnvelope("env-good", goodZip),
	)
	events := &procEventLogStub{}
	// env-bad's blob is missing; env-good's is present.
	blobs := &upBlobStoreStub{blobs: map[string][]byte{goodZip: buildProcessorZip(t, "1111002.pdf")}}
	docs := &upDocStoreStub{}

	svc := NewUploadService(envelopes, events, blobs, docs, time.Minute, 5, 10, nil)
	require.NoError(t, svc.ProcessReadyEnvelopes(context.Background()))

	require.Equal(t, []string{"env-bad"}, envelopes.failures)
	require.Equal(t, models.StatusUploaded, envelopes.statusMoves["env-good"])
	require.Equal(t, []models.EventType{models.EventDocUploadFailure, models.EventDocUploaded}, events.types())
}

func TestProcessReadyEnvelopesUploadErrorRecordsFailure(t *testing.T) {
	zipName := "probate_01-10-2024-10-00-00.zip"
	envelopes := newUpEnvelopeStoreStub(readyEnvelope("env-1", zipName))
	events := &procEventLogStub{}
	blobs := &upBlobStoreStub{blobs: map[string][]byte{zipName: buildProcessorZip(t, "1111002.pdf")}}
	docs := &upDocStoreStub{err: errors.New("document store unavailable")}

	svc := NewUploadService(envelopes, events, blobs, docs, time.Minute, 5, 10, nil)
	require.NoError(t, svc.ProcessReadyEnvelopes(context.Background()))

	require.Equal(t, []string{"env-1"}, envelopes.failures)
	require.Empty(t, envelopes.statusMoves)
	require.Len(t, events.events, 1)
	require.Equal(t, models.EventDocUploadFailure, events.events[0].Event)
	require.Contains(t, *events.events[0].Reason, "document store unavailable")
}
