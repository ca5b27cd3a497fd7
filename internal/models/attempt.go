package models

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is the persisted summary of one finished submission. File bytes and
// interval data are never stored.
type Attempt struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      uuid.UUID  `json:"session_id"`
	FileName       string     `json:"file_name"`
	FileSize       int64      `json:"file_size"`
	State          string     `json:"state"`
	FailureKind    *string    `json:"failure_kind,omitempty"`
	FailureMessage *string    `json:"failure_message,omitempty"`
	IntervalCount  int        `json:"interval_count"`
	ResultURL      *string    `json:"result_url,omitempty"`
	ArchiveURL     *string    `json:"archive_url,omitempty"`
	ArchiveKey     *string    `json:"archive_key,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
