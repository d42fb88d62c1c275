package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/welldanyogia/evidence-ingest/internal/models"
	"gorm.io/gorm"
)

// EmailRepository defines the interface for evidence record data access
type EmailRepository interface {
	Create(ctx context.Context, record *models.EmailRecord) error
	CreateBatch(ctx context.Context, records []*models.EmailRecord) error
	GetByID(ctx context.Context, id uint) (*models.EmailRecord, error)
	GetBySource(ctx context.Context, jobID uint, folder string, offset int) (*models.EmailRecord, error)
	ListByJob(ctx context.Context, jobID uint, limit, offset int) ([]models.EmailRecord, int64, error)
	CountByJob(ctx context.Context, jobID uint) (int64, error)
	ListThreadLinks(ctx context.Context, jobID uint) ([]models.ThreadLink, error)
	UpdateThreadRoots(ctx context.Context, jobID uint, roots map[uint]string) error
	CountThreads(ctx context.Context, jobID uint) (int64, error)
}

// emailRepository implements EmailRepository using GORM
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new EmailRepository instance
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

// Create creates one record with its attachments in a transaction
func (r *emailRepository) Create(ctx context.Context, record *models.EmailRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("failed to create email record: %w", ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to create email record: %w", err)
		}
		return nil
	})
	if err != nil {
		resetKeys(record)
	}
	return err
}

// CreateBatch creates every record and its attachments atomically.
// Either the whole batch is stored or none of it is.
func (r *emailRepository) CreateBatch(ctx context.Context, records []*models.EmailRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("failed to create email record %s#%d: %w", rec.SourceFolderPath, rec.SourceMessageOffset, err)
			}
		}
		return nil
	})
	if err != nil {
		// Rolled back rows keep their assigned keys in memory
		for _, rec := range records {
			resetKeys(rec)
		}
	}
	return err
}

func resetKeys(rec *models.EmailRecord) {
	rec.ID = 0
	for i := range rec.Attachments {
		rec.Attachments[i].ID = 0
		rec.Attachments[i].EmailID = 0
	}
}

func orderedAttachments(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// GetByID retrieves a record with preloaded attachments
func (r *emailRepository) GetByID(ctx context.Context, id uint) (*models.EmailRecord, error) {
	var record models.EmailRecord
	result := r.db.WithContext(ctx).Preload("Attachments", orderedAttachments).First(&record, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email record by ID: %w", result.Error)
	}
	return &record, nil
}

// GetBySource retrieves a record by its forensic location, with
// attachments in message order
func (r *emailRepository) GetBySource(ctx context.Context, jobID uint, folder string, offset int) (*models.EmailRecord, error) {
	var record models.EmailRecord
	result := r.db.WithContext(ctx).
		Preload("Attachments", orderedAttachments).
		Where("job_id = ? AND source_folder_path = ? AND source_message_offset = ?", jobID, folder, offset).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email record by source: %w", result.Error)
	}
	return &record, nil
}

// ListByJob retrieves records of a job in archive order
func (r *emailRepository) ListByJob(ctx context.Context, jobID uint, limit, offset int) ([]models.EmailRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.EmailRecord{}).Where("job_id = ?", jobID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count email records: %w", err)
	}

	var records []models.EmailRecord
	result := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("source_folder_path ASC, source_message_offset ASC").
		Limit(limit).
		Offset(offset).
		Find(&records)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list email records: %w", result.Error)
	}
	return records, total, nil
}

// CountByJob counts the records of a job
func (r *emailRepository) CountByJob(ctx context.Context, jobID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.EmailRecord{}).Where("job_id = ?", jobID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count email records: %w", err)
	}
	return count, nil
}

// ListThreadLinks reads the linkage fields of every record of a job
func (r *emailRepository) ListThreadLinks(ctx context.Context, jobID uint) ([]models.ThreadLink, error) {
	var links []models.ThreadLink
	result := r.db.WithContext(ctx).
		Model(&models.EmailRecord{}).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&links)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list thread links: %w", result.Error)
	}
	return links, nil
}

// UpdateThreadRoots backfills thread roots in one transaction
func (r *emailRepository) UpdateThreadRoots(ctx context.Context, jobID uint, roots map[uint]string) error {
	byRoot := make(map[string][]uint)
	for id, root := range roots {
		byRoot[root] = append(byRoot[root], id)
	}
	rootIDs := make([]string, 0, len(byRoot))
	for root := range byRoot {
		rootIDs = append(rootIDs, root)
	}
	sort.Strings(rootIDs)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, root := range rootIDs {
			ids := byRoot[root]
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for start := 0; start < len(ids); start += 500 {
				end := min(start+500, len(ids))
				err := tx.Model(&models.EmailRecord{}).
					Where("job_id = ? AND id IN ?", jobID, ids[start:end]).
					Update("thread_root_id", root).Error
				if err != nil {
					return fmt.Errorf("failed to update thread roots: %w", err)
				}
			}
		}
		return nil
	})
}

// CountThreads counts distinct thread roots of a job
func (r *emailRepository) CountThreads(ctx context.Context, jobID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.EmailRecord{}).
		Where("job_id = ? AND thread_root_id <> ''", jobID).
		Distinct("thread_root_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count threads: %w", err)
	}
	return count, nil
}
