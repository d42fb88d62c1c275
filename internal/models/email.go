package models

import (
	"time"
)

// Importance is the normalized priority of a message
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceNormal Importance = "normal"
	ImportanceLow    Importance = "low"
)

// BodyFormat records which body variant was kept
type BodyFormat string

const (
	BodyFormatHTML        BodyFormat = "html"
	BodyFormatText        BodyFormat = "text"
	BodyFormatPlaceholder BodyFormat = "placeholder"
)

// Participant is a sender or recipient. Address is empty when the
// original entry could not be parsed; Name then holds the raw text.
type Participant struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// EmailRecord is the normalized evidence record of one archived message.
// Only ThreadRootID may change after creation.
type EmailRecord struct {
	ID    uint `gorm:"primaryKey" json:"id"`
	JobID uint `gorm:"not null;uniqueIndex:idx_email_source,priority:1" json:"job_id"`

	// Linkage
	MessageID         string   `gorm:"size:998;index" json:"message_id,omitempty"`
	InReplyTo         string   `gorm:"size:998" json:"in_reply_to,omitempty"`
	References        []string `gorm:"serializer:json" json:"references,omitempty"`
	ConversationIndex string   `gorm:"size:512;index" json:"conversation_index,omitempty"`
	ThreadRootID      string   `gorm:"size:1024;index" json:"thread_root_id,omitempty"`

	// Forensic location
	SourceFolderPath    string `gorm:"not null;size:1024;uniqueIndex:idx_email_source,priority:2" json:"source_folder_path"`
	SourceMessageOffset int    `gorm:"not null;uniqueIndex:idx_email_source,priority:3" json:"source_message_offset"`

	// Participants
	Sender Participant   `gorm:"serializer:json" json:"sender"`
	To     []Participant `gorm:"column:to_recipients;serializer:json" json:"to"`
	Cc     []Participant `gorm:"column:cc_recipients;serializer:json" json:"cc"`
	Bcc    []Participant `gorm:"column:bcc_recipients;serializer:json" json:"bcc"`

	Subject    string     `gorm:"type:text" json:"subject,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`

	// Body is the full body when inline, or a strict prefix when BodyBlobKey is set
	Body          string     `gorm:"type:text" json:"body"`
	BodyFormat    BodyFormat `gorm:"size:20" json:"body_format"`
	BodyBlobKey   string     `gorm:"size:512" json:"body_blob_key,omitempty"`
	BodySizeBytes int64      `json:"body_size_bytes"`
	Snippet       string     `gorm:"size:255" json:"snippet,omitempty"`
	RawHeaders    []byte     `json:"raw_headers,omitempty"`
	RawSizeBytes  int64      `json:"raw_size_bytes"`

	HasAttachments        bool       `gorm:"default:false" json:"has_attachments"`
	Importance            Importance `gorm:"size:10;default:normal" json:"importance"`
	MatchedStakeholderIDs []uint     `gorm:"serializer:json" json:"matched_stakeholder_ids"`
	MatchedKeywordIDs     []uint     `gorm:"serializer:json" json:"matched_keyword_ids"`
	ExtractionNotes       []string   `gorm:"serializer:json" json:"extraction_notes,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Attachments []AttachmentRecord `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// TableName returns the table name for EmailRecord
func (EmailRecord) TableName() string {
	return "email_records"
}

// IsOffloaded reports whether the full body lives in the blob store
func (e *EmailRecord) IsOffloaded() bool {
	return e.BodyBlobKey != ""
}

// ThreadLink is the subset of an EmailRecord the threading pass reads
type ThreadLink struct {
	ID                  uint
	MessageID           string
	InReplyTo           string
	References          []string `gorm:"serializer:json"`
	ConversationIndex   string
	SourceFolderPath    string
	SourceMessageOffset int
}
