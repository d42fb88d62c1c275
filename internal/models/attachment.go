package models

import (
	"time"
)

// AttachmentRecord represents one attachment occurrence on an email.
// Records sharing a ContentHash within a job share a BlobKey.
type AttachmentRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	JobID            uint      `gorm:"not null;index:idx_attachment_hash" json:"job_id"`
	EmailID          uint      `gorm:"not null;index" json:"email_id"`
	Position         int       `gorm:"not null" json:"position"`
	Filename         string    `gorm:"size:255" json:"filename"`
	OriginalFilename string    `gorm:"size:1024" json:"original_filename,omitempty"`
	ContentType      string    `gorm:"size:255" json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	ContentHash      string    `gorm:"size:64;index:idx_attachment_hash" json:"content_hash"`
	BlobKey          string    `gorm:"size:512" json:"blob_key"`
	IsDuplicate      bool      `gorm:"default:false" json:"is_duplicate"`
	IsInline         bool      `gorm:"default:false" json:"is_inline"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Email EmailRecord `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for AttachmentRecord
func (AttachmentRecord) TableName() string {
	return "attachment_records"
}
