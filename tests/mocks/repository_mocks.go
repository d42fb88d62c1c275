package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
)

// MockJobRepository implements repository.JobRepository
type MockJobRepository struct {
	mock.Mock
}

// Create creates a new job
func (m *MockJobRepository) Create(ctx context.Context, job *models.ArchiveJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// GetByID retrieves a job by its ID
func (m *MockJobRepository) GetByID(ctx context.Context, id uint) (*models.ArchiveJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ArchiveJob), args.Error(1)
}

// FindActiveBySource returns the active job for a source
func (m *MockJobRepository) FindActiveBySource(ctx context.Context, source string) (*models.ArchiveJob, error) {
	args := m.Called(ctx, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ArchiveJob), args.Error(1)
}

// MarkProcessing moves a job to processing
func (m *MockJobRepository) MarkProcessing(ctx context.Context, id uint, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// UpdateProgress stores job counters
func (m *MockJobRepository) UpdateProgress(ctx context.Context, id uint, counters repository.JobCounters) error {
	args := m.Called(ctx, id, counters)
	return args.Error(0)
}

// MarkCompleted moves a job to completed
func (m *MockJobRepository) MarkCompleted(ctx context.Context, id uint, counters repository.JobCounters, at time.Time) error {
	args := m.Called(ctx, id, counters, at)
	return args.Error(0)
}

// MarkFailed moves a job to failed
func (m *MockJobRepository) MarkFailed(ctx context.Context, id uint, reason models.FailureReason, message string, counters repository.JobCounters, at time.Time) error {
	args := m.Called(ctx, id, reason, message, counters, at)
	return args.Error(0)
}

// SetThreadCount stores a thread count
func (m *MockJobRepository) SetThreadCount(ctx context.Context, id uint, threads int) error {
	args := m.Called(ctx, id, threads)
	return args.Error(0)
}

// RequestCancel flags a job for cancellation
func (m *MockJobRepository) RequestCancel(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// IsCancelRequested reports the cancellation flag
func (m *MockJobRepository) IsCancelRequested(ctx context.Context, id uint) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// FailInterrupted fails jobs left running
func (m *MockJobRepository) FailInterrupted(ctx context.Context, at time.Time) (int64, error) {
	args := m.Called(ctx, at)
	return args.Get(0).(int64), args.Error(1)
}

// AddErrors appends job errors
func (m *MockJobRepository) AddErrors(ctx context.Context, errs []models.JobError) error {
	args := m.Called(ctx, errs)
	return args.Error(0)
}

// ListErrors retrieves a page of job errors
func (m *MockJobRepository) ListErrors(ctx context.Context, jobID uint, limit, offset int) ([]models.JobError, int64, error) {
	args := m.Called(ctx, jobID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.JobError), args.Get(1).(int64), args.Error(2)
}

// MockEmailRepository implements repository.EmailRepository
type MockEmailRepository struct {
	mock.Mock
}

// Create creates one record
func (m *MockEmailRepository) Create(ctx context.Context, record *models.EmailRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// CreateBatch creates records atomically
func (m *MockEmailRepository) CreateBatch(ctx context.Context, records []*models.EmailRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

// GetByID retrieves a record by its ID
func (m *MockEmailRepository) GetByID(ctx context.Context, id uint) (*models.EmailRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailRecord), args.Error(1)
}

// GetBySource retrieves a record by its forensic location
func (m *MockEmailRepository) GetBySource(ctx context.Context, jobID uint, folder string, offset int) (*models.EmailRecord, error) {
	args := m.Called(ctx, jobID, folder, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailRecord), args.Error(1)
}

// ListByJob retrieves a page of records
func (m *MockEmailRepository) ListByJob(ctx context.Context, jobID uint, limit, offset int) ([]models.EmailRecord, int64, error) {
	args := m.Called(ctx, jobID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.EmailRecord), args.Get(1).(int64), args.Error(2)
}

// CountByJob counts records of a job
func (m *MockEmailRepository) CountByJob(ctx context.Context, jobID uint) (int64, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(int64), args.Error(1)
}

// ListThreadLinks reads linkage fields
func (m *MockEmailRepository) ListThreadLinks(ctx context.Context, jobID uint) ([]models.ThreadLink, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ThreadLink), args.Error(1)
}

// UpdateThreadRoots stores thread roots
func (m *MockEmailRepository) UpdateThreadRoots(ctx context.Context, jobID uint, roots map[uint]string) error {
	args := m.Called(ctx, jobID, roots)
	return args.Error(0)
}

// CountThreads counts distinct roots
func (m *MockEmailRepository) CountThreads(ctx context.Context, jobID uint) (int64, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(int64), args.Error(1)
}

// MockAttachmentRepository implements repository.AttachmentRepository
type MockAttachmentRepository struct {
	mock.Mock
}

// GetByID retrieves an attachment by its ID
func (m *MockAttachmentRepository) GetByID(ctx context.Context, id uint) (*models.AttachmentRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AttachmentRecord), args.Error(1)
}

// ListByEmail retrieves the attachments of a record
func (m *MockAttachmentRepository) ListByEmail(ctx context.Context, emailID uint) ([]models.AttachmentRecord, error) {
	args := m.Called(ctx, emailID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AttachmentRecord), args.Error(1)
}

// ListByHash retrieves every occurrence of a payload
func (m *MockAttachmentRepository) ListByHash(ctx context.Context, jobID uint, hash string) ([]models.AttachmentRecord, error) {
	args := m.Called(ctx, jobID, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AttachmentRecord), args.Error(1)
}

// CountByJob counts attachment occurrences and payloads
func (m *MockAttachmentRepository) CountByJob(ctx context.Context, jobID uint) (int64, int64, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

// OpenContent opens an attachment payload
func (m *MockAttachmentRepository) OpenContent(ctx context.Context, id uint) (*models.AttachmentRecord, io.ReadCloser, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.AttachmentRecord), args.Get(1).(io.ReadCloser), args.Error(2)
}
