// Package ingest runs archive ingestion jobs end to end: working copy,
// traversal, normalization, attachment deduplication, tagging, batched
// persistence and the threading pass.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/index"
	"github.com/welldanyogia/evidence-ingest/internal/lock"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
	"github.com/welldanyogia/evidence-ingest/internal/websocket"
)

// MaxStatusErrors caps the error list returned with a status poll.
// The full list is available page by page.
const MaxStatusErrors = 100

// StartRequest asks for one archive to be ingested into one scope
type StartRequest struct {
	Source    string           `json:"source" validate:"required,max=1024"`
	ScopeType models.ScopeType `json:"scope_type" validate:"required,oneof=case project"`
	ScopeID   uint             `json:"scope_id" validate:"required,gt=0"`
}

// JobService is the exposed interface of the engine
type JobService interface {
	StartJob(ctx context.Context, req StartRequest) (uint, error)
	GetJobStatus(ctx context.Context, jobID uint) (*models.JobStatusView, error)
	GetJobResult(ctx context.Context, jobID uint) (*models.JobResult, error)
	CancelJob(ctx context.Context, jobID uint) error
	Rethread(ctx context.Context, jobID uint) (int, error)
}

// ProgressPublisher receives progress once per batch
type ProgressPublisher interface {
	BroadcastProgress(payload *websocket.ProgressPayload)
}

// Notifier is told about every terminal job
type Notifier interface {
	JobFinished(ctx context.Context, result *models.JobResult) error
}

// Reporter receives fatal job errors
type Reporter interface {
	ReportFatal(jobID uint, source string, err error)
}

// ServiceConfig holds the collaborators of a Service. Jobs, Emails,
// Attachments, Blobs and Dictionaries are required.
type ServiceConfig struct {
	Jobs         repository.JobRepository
	Emails       repository.EmailRepository
	Attachments  repository.AttachmentRepository
	Blobs        storage.BlobStore
	Dictionaries tagging.Source
	Locker       lock.Locker
	Indexer      index.Indexer
	Progress     ProgressPublisher
	Notifier     Notifier
	Reporter     Reporter
	Options      Options
	Audit        *logger.AuditLogger
	Logger       *slog.Logger
}

// Service implements JobService
type Service struct {
	jobs         repository.JobRepository
	emails       repository.EmailRepository
	attachments  repository.AttachmentRepository
	blobs        storage.BlobStore
	dictionaries tagging.Source
	locker       lock.Locker
	indexer      index.Indexer
	progress     ProgressPublisher
	notifier     Notifier
	reporter     Reporter
	opts         Options
	audit        *logger.AuditLogger
	logger       *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewService creates a Service
func NewService(cfg *ServiceConfig) *Service {
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Service{
		jobs:         cfg.Jobs,
		emails:       cfg.Emails,
		attachments:  cfg.Attachments,
		blobs:        cfg.Blobs,
		dictionaries: cfg.Dictionaries,
		locker:       cfg.Locker,
		indexer:      cfg.Indexer,
		progress:     cfg.Progress,
		notifier:     cfg.Notifier,
		reporter:     cfg.Reporter,
		opts:         cfg.Options.withDefaults(),
		audit:        cfg.Audit,
		logger:       cfg.Logger,
		baseCtx:      baseCtx,
		stop:         stop,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.indexer == nil {
		s.indexer = index.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Submit validates the request, takes the source lock and creates a
// pending job. The caller must run the job with RunJob, which releases
// the lock.
func (s *Service) Submit(ctx context.Context, req StartRequest) (*models.ArchiveJob, error) {
	if err := validator.ValidateSourceLocation(req.Source); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidInput, fmt.Sprintf("invalid source: %v", err), apperrors.CodeInvalidInput)
	}
	if !req.ScopeType.Valid() || req.ScopeID == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidInput, "scope_type must be case or project and scope_id must be set", apperrors.CodeInvalidInput)
	}

	key := lock.SourceKey(req.Source)
	ok, err := s.locker.TryAcquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lock source: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrJobAlreadyRunning
	}

	job, err := s.createJob(ctx, req)
	if err != nil {
		s.releaseLock(key)
		return nil, err
	}
	return job, nil
}

func (s *Service) createJob(ctx context.Context, req StartRequest) (*models.ArchiveJob, error) {
	// The lock may be process-local; the database sees every process
	if _, err := s.jobs.FindActiveBySource(ctx, req.Source); err == nil {
		return nil, apperrors.ErrJobAlreadyRunning
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	job := &models.ArchiveJob{
		SourceLocation: req.Source,
		ScopeType:      req.ScopeType,
		ScopeID:        req.ScopeID,
		Status:         models.JobStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.String("source", job.SourceLocation),
		slog.String("scope_type", string(job.ScopeType)),
		slog.Uint64("scope_id", uint64(job.ScopeID)),
	)
	return job, nil
}

// StartJob submits the request and runs the job in the background
func (s *Service) StartJob(ctx context.Context, req StartRequest) (uint, error) {
	job, err := s.Submit(ctx, req)
	if err != nil {
		return 0, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunJob(s.baseCtx, job); err != nil {
			s.logger.Error("job failed",
				slog.Uint64("job_id", uint64(job.ID)),
				slog.Any("error", err),
			)
		}
	}()
	return job.ID, nil
}

// GetJobStatus returns the coarse status, progress and recent errors
func (s *Service) GetJobStatus(ctx context.Context, jobID uint) (*models.JobStatusView, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	errs, _, err := s.jobs.ListErrors(ctx, jobID, MaxStatusErrors, 0)
	if err != nil {
		return nil, err
	}
	if errs == nil {
		errs = []models.JobError{}
	}
	return &models.JobStatusView{
		JobID:     job.ID,
		Status:    job.Status,
		Processed: job.ProcessedEmails,
		Total:     job.TotalEmails,
		Errors:    errs,
	}, nil
}

// GetJobResult returns the final statistics of a terminal job
func (s *Service) GetJobResult(ctx context.Context, jobID uint) (*models.JobResult, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsTerminal() {
		return nil, apperrors.ErrJobNotTerminal
	}
	errs, _, err := s.jobs.ListErrors(ctx, jobID, -1, 0)
	if err != nil {
		return nil, err
	}
	return resultOf(job, errs), nil
}

func resultOf(job *models.ArchiveJob, errs []models.JobError) *models.JobResult {
	if errs == nil {
		errs = []models.JobError{}
	}
	return &models.JobResult{
		JobID:                job.ID,
		Status:               job.Status,
		FailureReason:        job.FailureReason,
		MessagesProcessed:    job.ProcessedEmails,
		AttachmentsProcessed: job.AttachmentCount,
		UniqueAttachments:    job.UniqueAttachmentCount,
		ThreadsIdentified:    job.ThreadCount,
		NodeErrors:           job.NodeErrorCount,
		Errors:               errs,
		StartedAt:            job.StartedAt,
		CompletedAt:          job.CompletedAt,
	}
}

// CancelJob flags a pending or processing job. The runner stops at the
// next batch boundary.
func (s *Service) CancelJob(ctx context.Context, jobID uint) error {
	err := s.jobs.RequestCancel(ctx, jobID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.ErrJobNotFound
	case errors.Is(err, repository.ErrInvalidTransition):
		return apperrors.NewAppError(apperrors.ErrInvalidInput, "job already finished", apperrors.CodeInvalidInput)
	case err != nil:
		return err
	}
	s.audit.Event("job_cancel_requested", map[string]string{"job_id": fmt.Sprint(jobID)})
	return nil
}

// Rethread re-runs the threading pass over the persisted records of a
// terminal job. Running it twice yields the same roots.
func (s *Service) Rethread(ctx context.Context, jobID uint) (int, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if !job.IsTerminal() {
		return 0, apperrors.ErrJobNotTerminal
	}
	threads, err := s.thread(ctx, job.ID)
	if err != nil {
		return 0, err
	}
	if err := s.jobs.SetThreadCount(ctx, job.ID, threads); err != nil {
		return 0, err
	}
	return threads, nil
}

// RecoverInterrupted fails jobs a previous process left running
func (s *Service) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.jobs.FailInterrupted(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("failed jobs interrupted by restart", slog.Int64("count", n))
	}
	return n, nil
}

// Shutdown cancels running jobs and waits for them to record their state
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) getJob(ctx context.Context, jobID uint) (*models.ArchiveJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Service) releaseLock(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Release(ctx, key); err != nil && !errors.Is(err, lock.ErrNotHeld) {
		s.logger.Warn("failed to release source lock", slog.Any("error", err))
	}
}
