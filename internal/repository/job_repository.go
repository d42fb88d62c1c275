package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/models"
	"gorm.io/gorm"
)

// JobCounters are the progress and statistics columns of a job
type JobCounters struct {
	Total             int
	Processed         int
	Attachments       int
	UniqueAttachments int
	Threads           int
	NodeErrors        int
}

func (c JobCounters) columns() map[string]interface{} {
	return map[string]interface{}{
		"total_emails":            c.Total,
		"processed_emails":        c.Processed,
		"attachment_count":        c.Attachments,
		"unique_attachment_count": c.UniqueAttachments,
		"thread_count":            c.Threads,
		"node_error_count":        c.NodeErrors,
	}
}

// JobRepository defines the interface for ingestion job data access
type JobRepository interface {
	Create(ctx context.Context, job *models.ArchiveJob) error
	GetByID(ctx context.Context, id uint) (*models.ArchiveJob, error)
	FindActiveBySource(ctx context.Context, source string) (*models.ArchiveJob, error)
	MarkProcessing(ctx context.Context, id uint, at time.Time) error
	UpdateProgress(ctx context.Context, id uint, counters JobCounters) error
	MarkCompleted(ctx context.Context, id uint, counters JobCounters, at time.Time) error
	MarkFailed(ctx context.Context, id uint, reason models.FailureReason, message string, counters JobCounters, at time.Time) error
	SetThreadCount(ctx context.Context, id uint, threads int) error
	RequestCancel(ctx context.Context, id uint) error
	IsCancelRequested(ctx context.Context, id uint) (bool, error)
	FailInterrupted(ctx context.Context, at time.Time) (int64, error)
	AddErrors(ctx context.Context, errs []models.JobError) error
	ListErrors(ctx context.Context, jobID uint, limit, offset int) ([]models.JobError, int64, error)
}

// jobRepository implements JobRepository using GORM
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository instance
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create creates a new pending job
func (r *jobRepository) Create(ctx context.Context, job *models.ArchiveJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	result := r.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to create job: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a job by its ID
func (r *jobRepository) GetByID(ctx context.Context, id uint) (*models.ArchiveJob, error) {
	var job models.ArchiveJob
	result := r.db.WithContext(ctx).First(&job, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job by ID: %w", result.Error)
	}
	return &job, nil
}

// FindActiveBySource returns the pending or processing job reading source
func (r *jobRepository) FindActiveBySource(ctx context.Context, source string) (*models.ArchiveJob, error) {
	var job models.ArchiveJob
	result := r.db.WithContext(ctx).
		Where("source_location = ? AND status IN ?", source, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Order("id ASC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find active job: %w", result.Error)
	}
	return &job, nil
}

// MarkProcessing moves a pending job to processing and records the start time
func (r *jobRepository) MarkProcessing(ctx context.Context, id uint, at time.Time) error {
	return r.transition(ctx, id, []models.JobStatus{models.JobStatusPending}, map[string]interface{}{
		"status":     models.JobStatusProcessing,
		"started_at": at,
	})
}

// UpdateProgress stores counters of a processing job
func (r *jobRepository) UpdateProgress(ctx context.Context, id uint, counters JobCounters) error {
	result := r.db.WithContext(ctx).Model(&models.ArchiveJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		Updates(counters.columns())
	if result.Error != nil {
		return fmt.Errorf("failed to update job progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkCompleted moves a processing job to completed
func (r *jobRepository) MarkCompleted(ctx context.Context, id uint, counters JobCounters, at time.Time) error {
	updates := counters.columns()
	updates["status"] = models.JobStatusCompleted
	updates["completed_at"] = at
	return r.transition(ctx, id, []models.JobStatus{models.JobStatusProcessing}, updates)
}

// MarkFailed moves a pending or processing job to failed
func (r *jobRepository) MarkFailed(ctx context.Context, id uint, reason models.FailureReason, message string, counters JobCounters, at time.Time) error {
	updates := counters.columns()
	updates["status"] = models.JobStatusFailed
	updates["failure_reason"] = reason
	updates["last_error"] = message
	updates["completed_at"] = at
	return r.transition(ctx, id, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}, updates)
}

func (r *jobRepository) transition(ctx context.Context, id uint, from []models.JobStatus, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.ArchiveJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// SetThreadCount stores the result of a threading pass
func (r *jobRepository) SetThreadCount(ctx context.Context, id uint, threads int) error {
	result := r.db.WithContext(ctx).Model(&models.ArchiveJob{}).Where("id = ?", id).Update("thread_count", threads)
	if result.Error != nil {
		return fmt.Errorf("failed to update thread count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancel flags a non-terminal job for cancellation
func (r *jobRepository) RequestCancel(ctx context.Context, id uint) error {
	return r.transition(ctx, id, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}, map[string]interface{}{
		"cancel_requested": true,
	})
}

// IsCancelRequested reports whether cancellation was requested
func (r *jobRepository) IsCancelRequested(ctx context.Context, id uint) (bool, error) {
	var job models.ArchiveJob
	result := r.db.WithContext(ctx).Select("id", "cancel_requested").First(&job, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", result.Error)
	}
	return job.CancelRequested, nil
}

// FailInterrupted fails every job left processing by a previous process
func (r *jobRepository) FailInterrupted(ctx context.Context, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.ArchiveJob{}).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":         models.JobStatusFailed,
			"failure_reason": models.FailureFatal,
			"last_error":     "interrupted by restart",
			"completed_at":   at,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to fail interrupted jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// AddErrors appends non-fatal errors to a job
func (r *jobRepository) AddErrors(ctx context.Context, errs []models.JobError) error {
	if len(errs) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).CreateInBatches(errs, 100)
	if result.Error != nil {
		return fmt.Errorf("failed to record job errors: %w", result.Error)
	}
	return nil
}

// ListErrors retrieves a page of job errors in the order they occurred
func (r *jobRepository) ListErrors(ctx context.Context, jobID uint, limit, offset int) ([]models.JobError, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.JobError{}).Where("job_id = ?", jobID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count job errors: %w", err)
	}

	var errs []models.JobError
	result := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&errs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list job errors: %w", result.Error)
	}
	return errs, total, nil
}
