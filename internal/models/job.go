package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a backup job.
type JobState string

const (
	JobStateRunning  JobState = "running"
	JobStateComplete JobState = "complete"
	JobStateFailed   JobState = "failed"
)

// Terminal returns true once the state will no longer change.
func (s JobState) Terminal() bool {
	return s == JobStateComplete || s == JobStateFailed
}

// ResultState is the outcome of one device within one job.
type ResultState string

const (
	ResultSuccess ResultState = "success"
	ResultFailed  ResultState = "failed"
	ResultSkipped ResultState = "skipped"
)

// BackupJob tracks one backup run over a set of devices.
type BackupJob struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TriggeredAt time.Time  `json:"triggered_at" db:"triggered_at"`
	TriggeredBy string     `json:"triggered_by" db:"triggered_by"`
	State       JobState   `json:"state" db:"state"`
	Total       int        `json:"total" db:"total"`
	Completed   int        `json:"completed" db:"completed"`
	Failed      int        `json:"failed" db:"failed"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// BackupResult records one device's outcome within one job.
// Exactly one row exists per (job, device).
type BackupResult struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	JobID       uuid.UUID   `json:"job_id" db:"job_id"`
	DeviceID    uuid.UUID   `json:"device_id" db:"device_id"`
	State       ResultState `json:"state" db:"state"`
	ContentHash string      `json:"content_hash,omitempty" db:"content_hash"`
	CommitID    string      `json:"commit_id,omitempty" db:"commit_id"`
	Error       string      `json:"error,omitempty" db:"error_message"`
	DurationMS  int64       `json:"duration_ms" db:"duration_ms"`
	BackedUpAt  time.Time   `json:"backed_up_at" db:"backed_up_at"`
}
