// Package normalize converts archived messages into evidence records.
//
// Every field is extracted on a best-effort basis: a header that is
// missing or unparseable leaves the field empty and adds an extraction
// note to the record, it never rejects the message.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/archive"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
)

// DefaultInlineBodyLimit is the largest body stored inline, in bytes
const DefaultInlineBodyLimit = 10240

// Normalizer builds EmailRecords and offloads oversized bodies
type Normalizer struct {
	blobs       storage.BlobStore
	inlineLimit int
	logger      *slog.Logger
}

// New creates a Normalizer. blobs must already be scoped to the job.
func New(blobs storage.BlobStore, inlineLimit int, logger *slog.Logger) *Normalizer {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineBodyLimit
	}
	return &Normalizer{
		blobs:       blobs,
		inlineLimit: inlineLimit,
		logger:      logger,
	}
}

// Normalize builds the record for the message at folder#offset.
//
// The returned record is always usable. A non-nil error is a storage
// IngestError reporting that an oversized body could not be offloaded;
// the record then keeps only the excerpt and says so in its notes.
func (n *Normalizer) Normalize(ctx context.Context, jobID uint, folder string, offset int, msg archive.Message) (*models.EmailRecord, error) {
	var diag notes

	rec := &models.EmailRecord{
		JobID:               jobID,
		SourceFolderPath:    folder,
		SourceMessageOffset: offset,
		RawHeaders:          []byte(msg.RawHeaders()),
		RawSizeBytes:        msg.Size(),
		Importance:          mapImportance(msg.Priority()),
	}

	msg = newCleanMessage(msg, &diag)

	rec.MessageID = take(&diag, "message_id", parseMessageID(msg.Header("Message-Id")))
	rec.InReplyTo = take(&diag, "in_reply_to", parseMessageID(msg.Header("In-Reply-To")))
	rec.References = take(&diag, "references", parseReferences(strings.Join(msg.HeaderValues("References"), " ")))
	rec.ConversationIndex = take(&diag, "conversation_index", parseConversationIndex(msg.Header("Thread-Index")))

	rec.Sender = take(&diag, "sender", parseSender(msg.HeaderValues("From"), msg.HeaderValues("Sender")))
	rec.To = take(&diag, "to", parseParticipants(msg.HeaderValues("To")))
	rec.Cc = take(&diag, "cc", parseParticipants(msg.HeaderValues("Cc")))
	rec.Bcc = take(&diag, "bcc", parseParticipants(msg.HeaderValues("Bcc")))

	rec.Subject = strings.TrimSpace(msg.DecodedHeader("Subject"))

	if sent := parseDate(msg.Header("Date")); sent.OK {
		rec.SentAt = timePtr(sent.Value)
	} else {
		diag.record("sent_at", sent.Diag)
	}
	if received := parseReceived(msg.HeaderValues("Received")); received.OK {
		rec.ReceivedAt = timePtr(received.Value)
	} else {
		diag.record("received_at", received.Diag)
	}

	rec.HasAttachments = msg.AttachmentCount() > 0

	text, html := msg.TextBody(), msg.HTMLBody()
	body, format := chooseBody(html, text, func() string {
		return placeholderBody(msg.DecodedHeader("From"), msg.DecodedHeader("To"), rec.Subject, msg.Header("Date"))
	})
	rec.BodyFormat = format
	rec.BodySizeBytes = int64(len(body))
	rec.Snippet = generateSnippet(text, html)

	var offloadErr error
	if len(body) > n.inlineLimit {
		rec.Body = excerpt(body, n.inlineLimit)
		key := bodyBlobKey(n.identity(rec), body)
		if err := n.blobs.Put(ctx, key, strings.NewReader(body), bodyContentType(format)); err != nil {
			diag.record("body", "offload failed, only the excerpt was kept")
			offloadErr = apperrors.NewStorageError(folder, offset, fmt.Errorf("offload body: %w", err))
			if n.logger != nil {
				n.logger.Warn("body offload failed",
					"job_id", jobID,
					"folder", folder,
					"offset", offset,
					"size", len(body),
					"error", err,
				)
			}
		} else {
			rec.BodyBlobKey = key
		}
	} else {
		rec.Body = body
	}

	rec.ExtractionNotes = diag
	return rec, offloadErr
}

func (n *Normalizer) identity(rec *models.EmailRecord) string {
	if rec.MessageID != "" {
		return rec.MessageID
	}
	return rec.SourceFolderPath + "#" + strconv.Itoa(rec.SourceMessageOffset)
}

func bodyContentType(format models.BodyFormat) string {
	if format == models.BodyFormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func timePtr(t time.Time) *time.Time {
	return &t
}
