// Package evaluation holds the domain model for candidate evaluation jobs:
// the job state machine, document references, and the structured results
// produced by the AI evaluation steps.
package evaluation

import "time"

// Status represents the current state of an evaluation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if the status string is a known Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job in this status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Transitions are one-directional: a job never re-enters queued, and terminal
// states accept nothing.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job is one evaluation request covering a CV and a project report against
// a job title. Result and ErrorMessage are mutually exclusive: exactly one is
// set once the job reaches a terminal state.
type Job struct {
	ID               int64     `json:"id"`
	JobTitle         string    `json:"job_title"`
	CVDocumentID     int64     `json:"cv_document_id"`
	ReportDocumentID int64     `json:"report_document_id"`
	Status           Status    `json:"status"`
	Result           *Result   `json:"result,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DocType classifies an uploaded document.
type DocType string

const (
	DocTypeCV     DocType = "cv"
	DocTypeReport DocType = "report"
	DocTypeSystem DocType = "system"
)

// Document is an uploaded file reference. Immutable after creation; the
// pipeline only reads it.
type Document struct {
	ID        int64     `json:"id"`
	DocType   DocType   `json:"doc_type"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}
