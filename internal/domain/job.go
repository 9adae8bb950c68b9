package domain

import "time"

// JobStatus is the lifecycle state of a tracked job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job status record field names.
const (
	FieldStatus           = "status"
	FieldPercentage       = "percentage"
	FieldProcessedRecords = "processedRecords"
	FieldTotalRecords     = "totalRecords"
	FieldFileName         = "fileName"
	FieldURL              = "url"
	FieldError            = "error"
	FieldEnqueuedAt       = "enqueuedAt"
	FieldCompletedAt      = "completedAt"
	FieldFailedAt         = "failedAt"
	FieldType             = "type"
)

// Job is the queue payload of a background export.
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Params     Params    `json:"params"`
	LangCode   string    `json:"langCode,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queued is returned to callers whose export was put on the queue.
type Queued struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}
