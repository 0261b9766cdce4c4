package models

import "time"

// EventType categorises one entry of the append-only processing log.
type EventType string

const (
	EventZipProcessingStarted      EventType = "ZIPFILE_PROCESSING_STARTED"
	EventDocUploaded               EventType = "DOC_UPLOADED"
	EventDocUploadFailure          EventType = "DOC_UPLOAD_FAILURE"
	EventDocProcessedNotification  EventType = "DOC_PROCESSED_NOTIFICATION_SENT"
	EventDocFailure                EventType = "DOC_FAILURE"
	EventCompleted                 EventType = "COMPLETED"
	EventConsumed                  EventType = "CONSUMED"
	EventManualRetriggerProcessing EventType = "MANUAL_RETRIGGER_PROCESSING"
	EventManualStatusChange        EventType = "MANUAL_STATUS_CHANGE"
)

// ProcessEvent is an immutable log entry recorded at every significant
// transition of a zip file's processing. Rows are never updated or deleted.
type ProcessEvent struct {
	ID          string    `db:"id" json:"id"`
	Container   string    `db:"container" json:"container"`
	ZipFileName string    `db:"zip_file_name" json:"zip_file_name"`
	Event       EventType `db:"event" json:"event"`
	Reason      *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
