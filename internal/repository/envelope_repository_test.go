package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/scan-ingest/internal/models"
)

func newEnvelopeRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func envelopeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "container", "zip_file_name", "jurisdiction", "po_box", "case_number", "ccd_id", "ccd_action",
		"classification", "status", "delivery_date", "opening_date", "zip_created_at", "created_at", "updated_at",
		"upload_failures", "zip_deleted",
	})
}

func scannableRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "envelope_id", "document_control_number", "file_name", "document_type",
		"document_subtype", "scanning_date", "ocr_data", "ocr_warnings", "document_url",
	})
}

func nonScannableRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "envelope_id", "document_control_number", "item_type", "notes"})
}

func paymentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "envelope_id", "document_control_number", "method", "amount", "account_number", "sort_code",
	})
}

func expectChildLoads(mock sqlmock.Sqlmock, scannable, nonScannable, payments *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, envelope_id, document_control_number, file_name")).
		WillReturnRows(scannable)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, envelope_id, document_control_number, item_type")).
		WillReturnRows(nonScannable)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, envelope_id, document_control_number, method")).
		WillReturnRows(payments)
}

func TestEnvelopeRepositoryCreateWithChildren(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO envelopes")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scannable_items")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO non_scannable_items")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	env := &models.Envelope{
		Container:      "probate",
		ZipFileName:    "probate_01-10-2024-10-00-00.zip",
		Jurisdiction:   "PROBATE",
		PoBox:          "12345",
		Classification: models.ClassificationNewApplication,
		Status:         models.StatusCreated,
		DeliveryDate:   time.Now().UTC(),
		OpeningDate:    time.Now().UTC(),
		ScannableItems: []models.ScannableItem{
			{DocumentControlNumber: "1111002", FileName: "1111002.pdf", DocumentType: "FORM"},
		},
		NonScannableItems: []models.NonScannableItem{
			{DocumentControlNumber: "1111003", ItemType: "CHEQUE_BOOK"},
		},
		Payments: []models.Payment{
			{DocumentControlNumber: "1111004", Method: "CHEQUE"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), env))
	require.NotEmpty(t, env.ID)
	require.Equal(t, env.ID, env.ScannableItems[0].EnvelopeID)
	require.Equal(t, env.ID, env.Payments[0].EnvelopeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO envelopes")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Envelope{
		Container:   "probate",
		ZipFileName: "probate_01-10-2024-10-00-00.zip",
		Status:      models.StatusCreated,
	})
	require.ErrorIs(t, err, ErrDuplicateEnvelope)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryFindByContainerAndFileName(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, container, zip_file_name")).
		WithArgs("probate", "probate_01-10-2024-10-00-00.zip").
		WillReturnRows(envelopeRows().AddRow(
			"env-1", "probate", "probate_01-10-2024-10-00-00.zip", "PROBATE", "12345", nil, nil, nil,
			"NEW_APPLICATION", "CREATED", now, now, nil, now, now, 0, false,
		))
	expectChildLoads(mock,
		scannableRows().AddRow(
			"item-1", "env-1", "1111002", "1111002.pdf", "FORM", nil, nil,
			[]byte(`[{"metadata_field_name":"deceased_surname","metadata_field_value":"Smith"}]`), nil, nil,
		),
		nonScannableRows(),
		paymentRows().AddRow("pay-1", "env-1", "1111004", "CHEQUE", nil, nil, nil),
	)

	env, err := repo.FindByContainerAndFileName(context.Background(), "probate", "probate_01-10-2024-10-00-00.zip")
	require.NoError(t, err)
	require.Equal(t, "env-1", env.ID)
	require.Len(t, env.ScannableItems, 1)
	require.Equal(t, "deceased_surname", env.ScannableItems[0].OcrData[0].Name)
	require.Len(t, env.Payments, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryFindByContainerAndFileNameNotFound(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, container, zip_file_name")).
		WithArgs("probate", "missing.zip").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByContainerAndFileName(context.Background(), "probate", "missing.zip")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE envelopes SET status")).
		WithArgs("env-1", string(models.StatusCreated), string(models.StatusUploaded), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "env-1", models.StatusCreated, models.StatusUploaded))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryUpdateStatusConflict(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE envelopes SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "env-1", models.StatusCreated, models.StatusUploaded)
	require.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryRecordUploadFailure(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("upload_failures = upload_failures + 1")).
		WithArgs("env-1", string(models.StatusUploadFailure), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordUploadFailure(context.Background(), "env-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryFindReadyForUpload(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, container, zip_file_name")).
		WithArgs(string(models.StatusCreated), string(models.StatusUploadFailure), sqlmock.AnyArg(), 5).
		WillReturnRows(envelopeRows().AddRow(
			"env-1", "probate", "probate_01-10-2024-10-00-00.zip", "PROBATE", "12345", nil, nil, nil,
			"NEW_APPLICATION", "UPLOAD_FAILURE", now, now, nil, now, now, 2, false,
		))
	expectChildLoads(mock,
		scannableRows().AddRow("item-1", "env-1", "1111002", "1111002.pdf", "FORM", nil, nil, nil, nil, nil),
		nonScannableRows(),
		paymentRows(),
	)

	envelopes, err := repo.FindReadyForUpload(context.Background(), now, 5)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	require.Equal(t, 2, envelopes[0].UploadFailures)
	require.Len(t, envelopes[0].ScannableItems, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryFindReceivedForDateAggregates(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, container, zip_file_name FROM envelopes")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "container", "zip_file_name"}).
			AddRow("env-1", "probate", "a.zip").
			AddRow("env-2", "probate", "a.zip").
			AddRow("env-3", "probate", "b.zip"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM scannable_items WHERE envelope_id IN")).
		WillReturnRows(sqlmock.NewRows([]string{"envelope_id", "document_control_number"}).
			AddRow("env-1", "1111002").
			AddRow("env-2", "1111006").
			AddRow("env-3", "2222001"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE envelope_id IN")).
		WillReturnRows(sqlmock.NewRows([]string{"envelope_id", "document_control_number"}).
			AddRow("env-1", "3333001"))

	received, err := repo.FindReceivedForDate(context.Background(), time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, received, 2)
	require.Equal(t, "a.zip", received[0].ZipFileName)
	require.ElementsMatch(t, []string{"1111002", "1111006"}, received[0].ScannableItemDcns)
	require.Equal(t, []string{"3333001"}, received[0].PaymentDcns)
	require.Equal(t, "b.zip", received[1].ZipFileName)
	require.Equal(t, []string{"2222001"}, received[1].ScannableItemDcns)
	require.Empty(t, received[1].PaymentDcns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnvelopeRepositoryFindReceivedForDateEmpty(t *testing.T) {
	db, mock, cleanup := newEnvelopeRepoMock(t)
	defer cleanup()

	repo := NewEnvelopeRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, container, zip_file_name FROM envelopes")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "container", "zip_file_name"}))

	received, err := repo.FindReceivedForDate(context.Background(), time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Empty(t, received)
	require.NoError(t, mock.ExpectationsWereMet())
}
