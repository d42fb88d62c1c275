// Package index hands persisted evidence records to a full-text index.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// Indexer receives every record once it is durable
type Indexer interface {
	Index(ctx context.Context, rec *models.EmailRecord) error
}

// Nop discards every record
type Nop struct{}

// Index does nothing
func (Nop) Index(ctx context.Context, rec *models.EmailRecord) error { return nil }

// Document is the indexable projection of a record
type Document struct {
	RecordID     uint       `json:"record_id"`
	JobID        uint       `json:"job_id"`
	MessageID    string     `json:"message_id,omitempty"`
	Folder       string     `json:"folder"`
	Offset       int        `json:"offset"`
	From         string     `json:"from"`
	To           []string   `json:"to,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Body         string     `json:"body"`
	Truncated    bool       `json:"body_truncated,omitempty"`
	BodyBlobKey  string     `json:"body_blob_key,omitempty"`
	Stakeholders []uint     `json:"stakeholders,omitempty"`
	Keywords     []uint     `json:"keywords,omitempty"`
}

// NewDocument projects a record. Offloaded bodies carry the excerpt and
// the blob key so the indexer can fetch the rest.
func NewDocument(rec *models.EmailRecord) Document {
	to := make([]string, 0, len(rec.To))
	for _, p := range rec.To {
		if p.Address != "" {
			to = append(to, p.Address)
		} else {
			to = append(to, p.Name)
		}
	}
	return Document{
		RecordID:     rec.ID,
		JobID:        rec.JobID,
		MessageID:    rec.MessageID,
		Folder:       rec.SourceFolderPath,
		Offset:       rec.SourceMessageOffset,
		From:         rec.Sender.Address,
		To:           to,
		Subject:      rec.Subject,
		SentAt:       rec.SentAt,
		Body:         rec.Body,
		Truncated:    rec.IsOffloaded(),
		BodyBlobKey:  rec.BodyBlobKey,
		Stakeholders: rec.MatchedStakeholderIDs,
		Keywords:     rec.MatchedKeywordIDs,
	}
}

// JSONLines writes one document per line, for bulk loaders that tail a file
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines writes documents to w
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Index appends the record's document
func (j *JSONLines) Index(ctx context.Context, rec *models.EmailRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == 0 {
		return fmt.Errorf("record %s#%d is not persisted", rec.SourceFolderPath, rec.SourceMessageOffset)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(NewDocument(rec)); err != nil {
		return fmt.Errorf("failed to write index document: %w", err)
	}
	return nil
}
