package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/docuflow/scan-ingest/internal/models"
)

// ErrDuplicateEnvelope signals that an envelope for the same
// (container, zip_file_name) already exists.
var ErrDuplicateEnvelope = errors.New("envelope already exists for container and zip file name")

// ErrStatusConflict signals that a conditional status update matched no row,
// either because the envelope vanished or its status moved concurrently.
var ErrStatusConflict = errors.New("envelope status changed concurrently")

const envelopeColumns = `id, container, zip_file_name, jurisdiction, po_box, case_number, ccd_id, ccd_action,
       classification, status, delivery_date, opening_date, zip_created_at, created_at, updated_at,
       upload_failures, zip_deleted`

// EnvelopeRepository persists the envelope aggregate with its child
// collections loaded eagerly.
type EnvelopeRepository struct {
	db *sqlx.DB
}

// NewEnvelopeRepository constructs the repository.
func NewEnvelopeRepository(db *sqlx.DB) *EnvelopeRepository {
	return &EnvelopeRepository{db: db}
}

// Create stores the envelope and all its items in one transaction. A unique
// violation on (container, zip_file_name) maps to ErrDuplicateEnvelope so the
// caller's idempotency check stays race-free under concurrent workers.
func (r *EnvelopeRepository) Create(ctx context.Context, env *models.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	env.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin envelope transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO envelopes
	(id, container, zip_file_name, jurisdiction, po_box, case_number, ccd_id, ccd_action,
	 classification, status, delivery_date, opening_date, zip_created_at, created_at, updated_at,
	 upload_failures, zip_deleted)
	VALUES (:id, :container, :zip_file_name, :jurisdiction, :po_box, :case_number, :ccd_id, :ccd_action,
	 :classification, :status, :delivery_date, :opening_date, :zip_created_at, :created_at, :updated_at,
	 :upload_failures, :zip_deleted)`
	if _, err := tx.NamedExecContext(ctx, query, env); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEnvelope
		}
		return fmt.Errorf("create envelope: %w", err)
	}

	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.EnvelopeID = env.ID
		const itemQuery = `INSERT INTO scannable_items
		(id, envelope_id, document_control_number, file_name, document_type, document_subtype,
		 scanning_date, ocr_data, ocr_warnings, document_url)
		VALUES (:id, :envelope_id, :document_control_number, :file_name, :document_type, :document_subtype,
		 :scanning_date, :ocr_data, :ocr_warnings, :document_url)`
		if _, err := tx.NamedExecContext(ctx, itemQuery, item); err != nil {
			return fmt.Errorf("create scannable item %s: %w", item.DocumentControlNumber, err)
		}
	}

	for i := range env.NonScannableItems {
		item := &env.NonScannableItems[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.EnvelopeID = env.ID
		const itemQuery = `INSERT INTO non_scannable_items
		(id, envelope_id, document_control_number, item_type, notes)
		VALUES (:id, :envelope_id, :document_control_number, :item_type, :notes)`
		if _, err := tx.NamedExecContext(ctx, itemQuery, item); err != nil {
			return fmt.Errorf("create non-scannable item %s: %w", item.DocumentControlNumber, err)
		}
	}

	for i := range env.Payments {
		payment := &env.Payments[i]
		if payment.ID == "" {
			payment.ID = uuid.NewString()
		}
		payment.EnvelopeID = env.ID
		const paymentQuery = `INSERT INTO payments
		(id, envelope_id, document_control_number, method, amount, account_number, sort_code)
		VALUES (:id, :envelope_id, :document_control_number, :method, :amount, :account_number, :sort_code)`
		if _, err := tx.NamedExecContext(ctx, paymentQuery, payment); err != nil {
			return fmt.Errorf("create payment %s: %w", payment.DocumentControlNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit envelope: %w", err)
	}
	return nil
}

// GetByID loads one envelope with all child collections.
func (r *EnvelopeRepository) GetByID(ctx context.Context, id string) (*models.Envelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM envelopes WHERE id = $1`, envelopeColumns)
	var env models.Envelope
	if err := r.db.GetContext(ctx, &env, query, id); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// FindByContainerAndFileName resolves the envelope for the natural key, or
// sql.ErrNoRows when no envelope was ever created for that blob. This is the
// idempotency lookup run before any validation work.
func (r *EnvelopeRepository) FindByContainerAndFileName(ctx context.Context, container, zipFileName string) (*models.Envelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM envelopes WHERE container = $1 AND zip_file_name = $2
	ORDER BY created_at DESC LIMIT 1`, envelopeColumns)
	var env models.Envelope
	if err := r.db.GetContext(ctx, &env, query, container, zipFileName); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// List returns envelopes matching the filter, children not loaded.
func (r *EnvelopeRepository) List(ctx context.Context, filter models.EnvelopeFilter) ([]models.Envelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM envelopes`, envelopeColumns)
	args := make([]interface{}, 0, 2)
	conditions := ""

	if filter.Container != "" {
		args = append(args, filter.Container)
		conditions = fmt.Sprintf(" WHERE container = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		if conditions == "" {
			conditions = fmt.Sprintf(" WHERE status = $%d", len(args))
		} else {
			conditions += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}
	query += conditions + " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	var envelopes []models.Envelope
	if err := r.db.SelectContext(ctx, &envelopes, query, args...); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	return envelopes, nil
}

// FindReadyForUpload selects envelopes awaiting a document store push: status
// CREATED or UPLOAD_FAILURE, past the cool-down and under the retry limit.
// Children are loaded because the upload records per-item document URLs.
func (r *EnvelopeRepository) FindReadyForUpload(ctx context.Context, cutoff time.Time, maxRetries int) ([]models.Envelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM envelopes
	WHERE status IN ($1, $2) AND created_at <= $3 AND upload_failures < $4
	ORDER BY container, created_at`, envelopeColumns)
	var envelopes []models.Envelope
	if err := r.db.SelectContext(ctx, &envelopes, query,
		models.StatusCreated, models.StatusUploadFailure, cutoff, maxRetries); err != nil {
		return nil, fmt.Errorf("find envelopes ready for upload: %w", err)
	}
	for i := range envelopes {
		if err := r.loadChildren(ctx, &envelopes[i]); err != nil {
			return nil, err
		}
	}
	return envelopes, nil
}

// FindByStatus returns envelopes in one status, oldest first, children not
// loaded.
func (r *EnvelopeRepository) FindByStatus(ctx context.Context, status models.Status) ([]models.Envelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM envelopes WHERE status = $1 ORDER BY updated_at`, envelopeColumns)
	var envelopes []models.Envelope
	if err := r.db.SelectContext(ctx, &envelopes, query, status); err != nil {
		return nil, fmt.Errorf("find envelopes by status: %w", err)
	}
	return envelopes, nil
}

// UpdateStatus moves the envelope from one status to another as a single
// conditional write. ErrStatusConflict means another worker got there first.
func (r *EnvelopeRepository) UpdateStatus(ctx context.Context, id string, from, to models.Status) error {
	const query = `UPDATE envelopes SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update envelope status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check status update rows: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// RecordUploadFailure increments the failure counter and parks the envelope
// at UPLOAD_FAILURE for the next scheduled retry pass.
func (r *EnvelopeRepository) RecordUploadFailure(ctx context.Context, id string) error {
	const query = `UPDATE envelopes SET status = $2, upload_failures = upload_failures + 1, updated_at = $3
	WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.StatusUploadFailure, time.Now().UTC()); err != nil {
		return fmt.Errorf("record upload failure: %w", err)
	}
	return nil
}

// UpdateCcd records the downstream case reference on the envelope.
func (r *EnvelopeRepository) UpdateCcd(ctx context.Context, id, ccdID string, action models.CcdAction) error {
	const query = `UPDATE envelopes SET ccd_id = $2, ccd_action = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ccdID, action, time.Now().UTC()); err != nil {
		return fmt.Errorf("update envelope ccd reference: %w", err)
	}
	return nil
}

// SetDocumentURL stores the document store location for one scannable item.
func (r *EnvelopeRepository) SetDocumentURL(ctx context.Context, envelopeID, fileName, url string) error {
	const query = `UPDATE scannable_items SET document_url = $3 WHERE envelope_id = $1 AND file_name = $2`
	if _, err := r.db.ExecContext(ctx, query, envelopeID, fileName, url); err != nil {
		return fmt.Errorf("set document url for %s: %w", fileName, err)
	}
	return nil
}

// ClearOcrData strips the now-redundant OCR payload once the envelope is
// finalised downstream.
func (r *EnvelopeRepository) ClearOcrData(ctx context.Context, envelopeID string) error {
	const query = `UPDATE scannable_items SET ocr_data = NULL WHERE envelope_id = $1`
	if _, err := r.db.ExecContext(ctx, query, envelopeID); err != nil {
		return fmt.Errorf("clear ocr data: %w", err)
	}
	return nil
}

// MarkZipDeleted flags that the original blob has been removed from the
// input container.
func (r *EnvelopeRepository) MarkZipDeleted(ctx context.Context, id string) error {
	const query = `UPDATE envelopes SET zip_deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark zip deleted: %w", err)
	}
	return nil
}

// FindReceivedForDate aggregates the envelopes created on one day into
// reconciliation comparison units keyed by (zip_file_name, container).
func (r *EnvelopeRepository) FindReceivedForDate(ctx context.Context, date time.Time) ([]models.ReceivedZipFile, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	type receivedRow struct {
		ID          string `db:"id"`
		Container   string `db:"container"`
		ZipFileName string `db:"zip_file_name"`
	}
	const query = `SELECT id, container, zip_file_name FROM envelopes
	WHERE created_at >= $1 AND created_at < $2 ORDER BY container, zip_file_name`
	var rows []receivedRow
	if err := r.db.SelectContext(ctx, &rows, query, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("find received envelopes for date: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	scannableDcns, err := r.dcnsByEnvelope(ctx, "scannable_items", ids)
	if err != nil {
		return nil, err
	}
	paymentDcns, err := r.dcnsByEnvelope(ctx, "payments", ids)
	if err != nil {
		return nil, err
	}

	// Aggregate duplicate rows sharing the same identity.
	byIdentity := make(map[string]*models.ReceivedZipFile)
	var order []string
	for _, row := range rows {
		key := row.Container + "|" + row.ZipFileName
		unit, ok := byIdentity[key]
		if !ok {
			unit = &models.ReceivedZipFile{ZipFileName: row.ZipFileName, Container: row.Container}
			byIdentity[key] = unit
			order = append(order, key)
		}
		unit.ScannableItemDcns = append(unit.ScannableItemDcns, scannableDcns[row.ID]...)
		unit.PaymentDcns = append(unit.PaymentDcns, paymentDcns[row.ID]...)
	}

	received := make([]models.ReceivedZipFile, 0, len(order))
	for _, key := range order {
		received = append(received, *byIdentity[key])
	}
	return received, nil
}

func (r *EnvelopeRepository) dcnsByEnvelope(ctx context.Context, table string, envelopeIDs []string) (map[string][]string, error) {
	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT envelope_id, document_control_number FROM %s WHERE envelope_id IN (?)`, table),
		envelopeIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("build dcn query for %s: %w", table, err)
	}
	query = r.db.Rebind(query)

	type dcnRow struct {
		EnvelopeID            string `db:"envelope_id"`
		DocumentControlNumber string `db:"document_control_number"`
	}
	var rows []dcnRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load dcns from %s: %w", table, err)
	}
	result := make(map[string][]string, len(rows))
	for _, row := range rows {
		result[row.EnvelopeID] = append(result[row.EnvelopeID], row.DocumentControlNumber)
	}
	return result, nil
}

func (r *EnvelopeRepository) loadChildren(ctx context.Context, env *models.Envelope) error {
	const scannableQuery = `SELECT id, envelope_id, document_control_number, file_name, document_type,
	document_subtype, scanning_date, ocr_data, ocr_warnings, document_url
	FROM scannable_items WHERE envelope_id = $1 ORDER BY document_control_number`
	if err := r.db.SelectContext(ctx, &env.ScannableItems, scannableQuery, env.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load scannable items: %w", err)
	}

	const nonScannableQuery = `SELECT id, envelope_id, document_control_number, item_type, notes
	FROM non_scannable_items WHERE envelope_id = $1 ORDER BY document_control_number`
	if err := r.db.SelectContext(ctx, &env.NonScannableItems, nonScannableQuery, env.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load non-scannable items: %w", err)
	}

	const paymentQuery = `SELECT id, envelope_id, document_control_number, method, amount, account_number, sort_code
	FROM payments WHERE envelope_id = $1 ORDER BY document_control_number`
	if err := r.db.SelectContext(ctx, &env.Payments, paymentQuery, env.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load payments: %w", err)
	}
	return nil
}
