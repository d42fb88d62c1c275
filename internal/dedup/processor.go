package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/welldanyogia/evidence-ingest/internal/archive"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel reads and uploads per message
const DefaultConcurrency = 4

const defaultContentType = "application/octet-stream"

// Result is the outcome of processing the attachments of one message
type Result struct {
	// Records are in attachment order; failed attachments have no record
	Records []models.AttachmentRecord
	Errors  []*apperrors.IngestError
	// Uploaded counts payloads written to blob storage by this call
	Uploaded int
}

// Processor hashes, deduplicates and uploads attachments
type Processor struct {
	blobs       storage.BlobStore
	store       *Store
	concurrency int
	audit       *logger.AuditLogger
	logger      *slog.Logger
}

// NewProcessor creates a Processor. blobs must already be scoped to the job.
func NewProcessor(blobs storage.BlobStore, store *Store, concurrency int, audit *logger.AuditLogger, logger *slog.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Processor{
		blobs:       blobs,
		store:       store,
		concurrency: concurrency,
		audit:       audit,
		logger:      logger,
	}
}

// item tracks one attachment through the pipeline
type item struct {
	index    int
	att      archive.Attachment
	content  []byte
	hash     string
	err      error
	record   models.AttachmentRecord
	upload   bool
	uploaded bool
}

// Process handles the attachments of the message at folder#offset.
// Payloads are read and hashed in parallel, claimed in attachment order so
// duplicate flags are deterministic, then newly claimed payloads are uploaded
// in parallel. Only context cancellation is returned as an error.
func (p *Processor) Process(ctx context.Context, jobID uint, folder string, offset int, attachments []archive.Attachment) (*Result, error) {
	items := make([]*item, len(attachments))
	for i, a := range attachments {
		items[i] = &item{index: i, att: a}
	}

	if err := p.hashAll(ctx, items); err != nil {
		return nil, err
	}

	for _, it := range items {
		if it.err != nil {
			continue
		}
		p.claim(jobID, it)
	}

	if err := p.uploadAll(ctx, items); err != nil {
		return nil, err
	}

	res := &Result{}
	failedClaims := make(map[string]bool)
	for _, it := range items {
		if it.upload && !it.uploaded {
			failedClaims[it.hash] = true
		}
	}

	for _, it := range items {
		if it.err == nil && it.record.IsDuplicate && failedClaims[it.hash] {
			it.err = fmt.Errorf("identical payload failed to upload")
		}

		if it.err != nil {
			res.Errors = append(res.Errors, apperrors.NewAttachmentError(folder, offset, it.index, it.err))
			p.audit.AttachmentFailed(jobID, folder, offset, it.index, it.err.Error())
			continue
		}
		if it.uploaded {
			res.Uploaded++
		}
		res.Records = append(res.Records, it.record)
	}

	return res, nil
}

func (p *Processor) hashAll(ctx context.Context, items []*item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it.content, it.err = readAll(it.att)
			if it.err == nil {
				sum := sha256.Sum256(it.content)
				it.hash = hex.EncodeToString(sum[:])
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) claim(jobID uint, it *item) {
	name := p.filename(it.att.Filename(), it.hash)
	contentType := it.att.ContentType()
	if contentType == "" {
		contentType = defaultContentType
	}

	key, claimed := p.store.Claim(it.hash, BlobKey(it.hash, name))
	it.upload = claimed
	it.record = models.AttachmentRecord{
		JobID:            jobID,
		Position:         it.index,
		Filename:         name,
		OriginalFilename: storableName(it.att.Filename()),
		ContentType:      contentType,
		SizeBytes:        int64(len(it.content)),
		ContentHash:      it.hash,
		BlobKey:          key,
		IsDuplicate:      !claimed,
		IsInline:         it.att.Inline(),
	}
}

func (p *Processor) uploadAll(ctx context.Context, items []*item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, it := range items {
		if !it.upload {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := p.blobs.Put(gctx, it.record.BlobKey, bytes.NewReader(it.content), it.record.ContentType)
			if err != nil {
				p.store.Release(it.hash)
				it.err = fmt.Errorf("upload: %w", err)
				if p.logger != nil {
					p.logger.Warn("attachment upload failed",
						"key", it.record.BlobKey,
						"size", len(it.content),
						"error", err,
					)
				}
				return nil
			}
			it.uploaded = true
			return nil
		})
	}
	return g.Wait()
}

// filename sanitizes the original name, generating one from the hash when nothing usable remains
func (p *Processor) filename(original, hash string) string {
	name := validator.SanitizeFilename(original)
	if name == "" {
		name = GeneratedName(hash)
	}
	if original != "" && name != original {
		p.audit.FilenameSanitized(original, name)
	}
	return name
}

// storableName keeps the original filename readable as database text
func storableName(original string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(original, "\x00", ""), "\uFFFD")
}

// BlobKey derives the storage key of a payload
func BlobKey(hash, filename string) string {
	return fmt.Sprintf("attachments/%s/%s_%s", hash[:2], hash[:16], filename)
}

// GeneratedName is the stable fallback name for an attachment without a usable filename
func GeneratedName(hash string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(hash))
	return "attachment-" + id.String()[:8]
}

func readAll(a archive.Attachment) ([]byte, error) {
	rc, err := a.Open()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return content, nil
}
