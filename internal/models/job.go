package models

import (
	"time"
)

// JobStatus is the lifecycle state of an ingestion job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScopeType names the kind of owner an ingestion is attributed to
type ScopeType string

const (
	ScopeCase    ScopeType = "case"
	ScopeProject ScopeType = "project"
)

// Valid reports whether the scope type is known
func (s ScopeType) Valid() bool {
	return s == ScopeCase || s == ScopeProject
}

// FailureReason distinguishes how a failed job ended
type FailureReason string

const (
	FailureNone      FailureReason = ""
	FailureFatal     FailureReason = "fatal"
	FailureCancelled FailureReason = "cancelled"
)

// ArchiveJob tracks one ingestion of one archive into one scope
type ArchiveJob struct {
	ID                    uint          `gorm:"primaryKey" json:"id"`
	SourceLocation        string        `gorm:"not null;size:1024;index" json:"source_location"`
	ScopeType             ScopeType     `gorm:"not null;size:20;index:idx_job_scope" json:"scope_type"`
	ScopeID               uint          `gorm:"not null;index:idx_job_scope" json:"scope_id"`
	Status                JobStatus     `gorm:"not null;size:20;index;default:pending" json:"status"`
	TotalEmails           int           `gorm:"default:0" json:"total_emails"`
	ProcessedEmails       int           `gorm:"default:0" json:"processed_emails"`
	AttachmentCount       int           `gorm:"default:0" json:"attachment_count"`
	UniqueAttachmentCount int           `gorm:"default:0" json:"unique_attachment_count"`
	ThreadCount           int           `gorm:"default:0" json:"thread_count"`
	NodeErrorCount        int           `gorm:"default:0" json:"node_error_count"`
	CancelRequested       bool          `gorm:"default:false" json:"cancel_requested"`
	FailureReason         FailureReason `gorm:"size:20" json:"failure_reason,omitempty"`
	LastError             string        `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt             *time.Time    `json:"started_at,omitempty"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`
	CreatedAt             time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Errors []JobError `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"errors,omitempty"`
}

// TableName returns the table name for ArchiveJob
func (ArchiveJob) TableName() string {
	return "archive_jobs"
}

// IsTerminal reports whether the job has completed or failed
func (j *ArchiveJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// JobError is one non-fatal error accumulated while a job ran
type JobError struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	JobID           uint      `gorm:"not null;index" json:"job_id"`
	Kind            string    `gorm:"not null;size:20" json:"kind"`
	FolderPath      string    `gorm:"size:1024" json:"folder_path"`
	MessageOffset   int       `json:"message_offset"`
	AttachmentIndex *int      `json:"attachment_index,omitempty"`
	Message         string    `gorm:"type:text" json:"message"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for JobError
func (JobError) TableName() string {
	return "job_errors"
}

// JobStatusView is the lightweight status shape exposed to callers
type JobStatusView struct {
	JobID     uint       `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Processed int        `json:"processed"`
	Total     int        `json:"total"`
	Errors    []JobError `json:"errors"`
}

// JobResult is the final statistics of a terminal job
type JobResult struct {
	JobID                uint          `json:"job_id"`
	Status               JobStatus     `json:"status"`
	FailureReason        FailureReason `json:"failure_reason,omitempty"`
	MessagesProcessed    int           `json:"messages_processed"`
	AttachmentsProcessed int           `json:"attachments_processed"`
	UniqueAttachments    int           `json:"unique_attachments"`
	ThreadsIdentified    int           `json:"threads_identified"`
	NodeErrors           int           `json:"node_errors"`
	Errors               []JobError    `json:"errors"`
	StartedAt            *time.Time    `json:"started_at,omitempty"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
}
