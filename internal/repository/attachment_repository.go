package repository

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"gorm.io/gorm"
)

// AttachmentRepository defines the interface for attachment data access
type AttachmentRepository interface {
	GetByID(ctx context.Context, id uint) (*models.AttachmentRecord, error)
	ListByEmail(ctx context.Context, emailID uint) ([]models.AttachmentRecord, error)
	ListByHash(ctx context.Context, jobID uint, hash string) ([]models.AttachmentRecord, error)
	CountByJob(ctx context.Context, jobID uint) (total int64, unique int64, err error)
	OpenContent(ctx context.Context, id uint) (*models.AttachmentRecord, io.ReadCloser, error)
}

// attachmentRepository implements AttachmentRepository using GORM
type attachmentRepository struct {
	db    *gorm.DB
	blobs storage.BlobStore
}

// NewAttachmentRepository creates a new AttachmentRepository instance.
// blobs is the unscoped store; payloads are read from their job namespace.
func NewAttachmentRepository(db *gorm.DB, blobs storage.BlobStore) AttachmentRepository {
	return &attachmentRepository{
		db:    db,
		blobs: blobs,
	}
}

// GetByID retrieves an attachment by its ID
func (r *attachmentRepository) GetByID(ctx context.Context, id uint) (*models.AttachmentRecord, error) {
	var attachment models.AttachmentRecord
	result := r.db.WithContext(ctx).First(&attachment, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attachment by ID: %w", result.Error)
	}
	return &attachment, nil
}

// ListByEmail retrieves the attachments of a record in message order
func (r *attachmentRepository) ListByEmail(ctx context.Context, emailID uint) ([]models.AttachmentRecord, error) {
	var attachments []models.AttachmentRecord
	result := r.db.WithContext(ctx).Where("email_id = ?", emailID).Order("position ASC").Find(&attachments)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", result.Error)
	}
	return attachments, nil
}

// ListByHash retrieves every occurrence of one payload within a job
func (r *attachmentRepository) ListByHash(ctx context.Context, jobID uint, hash string) ([]models.AttachmentRecord, error) {
	var attachments []models.AttachmentRecord
	result := r.db.WithContext(ctx).
		Where("job_id = ? AND content_hash = ?", jobID, hash).
		Order("id ASC").
		Find(&attachments)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list attachments by hash: %w", result.Error)
	}
	return attachments, nil
}

// CountByJob counts attachment occurrences and distinct payloads of a job
func (r *attachmentRepository) CountByJob(ctx context.Context, jobID uint) (int64, int64, error) {
	var total, unique int64
	if err := r.db.WithContext(ctx).Model(&models.AttachmentRecord{}).Where("job_id = ?", jobID).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count attachments: %w", err)
	}
	err := r.db.WithContext(ctx).Model(&models.AttachmentRecord{}).
		Where("job_id = ?", jobID).
		Distinct("content_hash").
		Count(&unique).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count unique attachments: %w", err)
	}
	return total, unique, nil
}

// OpenContent opens the stored payload of an attachment
func (r *attachmentRepository) OpenContent(ctx context.Context, id uint) (*models.AttachmentRecord, io.ReadCloser, error) {
	attachment, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r.blobs == nil {
		return nil, nil, fmt.Errorf("failed to open attachment: no blob store configured")
	}

	rc, err := storage.Scoped(r.blobs, storage.JobNamespace(attachment.JobID)).Get(ctx, attachment.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return attachment, rc, nil
}
