package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/welldanyogia/evidence-ingest/internal/archive"
	"github.com/welldanyogia/evidence-ingest/internal/dedup"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/lock"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/normalize"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
	"github.com/welldanyogia/evidence-ingest/internal/threading"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
	"github.com/welldanyogia/evidence-ingest/internal/websocket"
)

// run is the state of one job while it executes. It is owned by a
// single goroutine.
type run struct {
	ctx  context.Context
	svc  *Service
	job  *models.ArchiveJob
	log  *slog.Logger
	norm *normalize.Normalizer
	att  *dedup.Processor
	tags *tagging.Matcher

	folderTotals map[string]int
	folderSeen   map[string]int

	batch    []*models.EmailRecord
	errs     []models.JobError
	counters repository.JobCounters
}

// RunJob drives a pending job to a terminal state and returns its result.
// The error is the fatal cause for failed jobs. The source lock taken by
// Submit is always released, and so is the working copy.
func (s *Service) RunJob(ctx context.Context, job *models.ArchiveJob) (*models.JobResult, error) {
	defer s.releaseLock(lock.SourceKey(job.SourceLocation))

	r := &run{
		ctx:          ctx,
		svc:          s,
		job:          job,
		log:          s.logger.With(slog.Uint64("job_id", uint64(job.ID))),
		folderTotals: make(map[string]int),
		folderSeen:   make(map[string]int),
	}

	if err := s.jobs.MarkProcessing(ctx, job.ID, s.now()); err != nil {
		failErr := s.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, models.FailureFatal, err.Error(), repository.JobCounters{}, s.now())
		if failErr != nil && !errors.Is(failErr, repository.ErrInvalidTransition) {
			r.log.Error("failed to record terminal state", slog.Any("error", failErr))
		}
		return nil, fmt.Errorf("failed to start job: %w", err)
	}
	s.audit.JobTransition(job.ID, string(models.JobStatusPending), string(models.JobStatusProcessing), "")
	r.log.Info("job started", slog.String("source", job.SourceLocation))

	runErr := r.execute(ctx)
	return r.finish(ctx, runErr)
}

func (r *run) execute(ctx context.Context) error {
	s := r.svc

	wc, err := s.copySource(ctx, r.job.SourceLocation)
	if err != nil {
		return err
	}
	defer s.release(wc)
	s.audit.Event("working_copy", map[string]string{
		"job_id": fmt.Sprint(r.job.ID),
		"source": r.job.SourceLocation,
		"sha256": wc.SHA256,
		"size":   fmt.Sprint(wc.Size),
	})

	reader, err := archive.Open(wc.Path, archive.Options{
		MaxMessageSize: s.opts.MaxMessageSize,
		SourceName:     r.job.SourceLocation,
		Logger:         r.log,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := r.prescan(ctx, reader); err != nil {
		return err
	}

	dict, err := s.dictionaries.Load(ctx, r.job.ScopeType, r.job.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to load tag dictionaries: %w", err)
	}
	r.tags = tagging.NewMatcher(dict, s.audit)

	blobs := &retryingStore{BlobStore: storage.Scoped(s.blobs, storage.JobNamespace(r.job.ID)), svc: s}
	r.norm = normalize.New(blobs, s.opts.InlineBodyLimit, r.log)
	r.att = dedup.NewProcessor(blobs, dedup.NewStore(), s.opts.AttachmentWorkers, s.audit, r.log)

	if err := r.checkCancelled(ctx); err != nil {
		return err
	}
	if err := reader.Walk(ctx, r.visit); err != nil {
		return err
	}
	if err := r.flush(ctx); err != nil {
		return err
	}

	threads, err := s.thread(ctx, r.job.ID)
	if err != nil {
		return err
	}
	r.counters.Threads = threads

	total, unique, err := s.attachments.CountByJob(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	r.counters.Attachments = int(total)
	r.counters.UniqueAttachments = int(unique)
	return nil
}

// prescan records the job total before traversal
func (r *run) prescan(ctx context.Context, reader archive.Reader) error {
	folders, err := reader.Folders(ctx)
	if err != nil {
		return err
	}
	total, failed := archive.Summary(folders)
	for _, f := range folders {
		r.folderTotals[f.Path] += f.MessageCount
	}
	r.counters.Total = total
	r.log.Info("archive scanned",
		slog.Int("folders", len(folders)),
		slog.Int("messages", total),
		slog.Int("unreadable_folders", failed),
	)
	return r.svc.jobs.UpdateProgress(ctx, r.job.ID, r.counters)
}

// visit handles one walk entry
func (r *run) visit(e archive.Entry) error {
	ctx := r.ctx
	if e.Err != nil {
		r.nodeError(e)
		return nil
	}
	r.folderSeen[e.FolderPath]++

	rec, err := r.norm.Normalize(ctx, r.job.ID, e.FolderPath, e.Offset, e.Message)
	if err != nil {
		r.addError(err)
	}

	res, err := r.att.Process(ctx, r.job.ID, e.FolderPath, e.Offset, e.Message.Attachments())
	if err != nil {
		return err
	}
	for _, ie := range res.Errors {
		r.addError(ie)
	}
	rec.Attachments = res.Records
	r.counters.Attachments += len(res.Records)
	r.counters.UniqueAttachments += res.Uploaded

	r.tags.Apply(rec)

	r.batch = append(r.batch, rec)
	if len(r.batch) >= r.svc.opts.BatchSize {
		return r.flush(ctx)
	}
	return nil
}

// nodeError records an unreadable message or folder. A folder-level
// failure accounts for every message the pre-scan counted but the walk
// never reached.
func (r *run) nodeError(e archive.Entry) {
	ie := apperrors.GetIngestError(e.Err)
	if ie == nil {
		ie = apperrors.NewNodeError(e.FolderPath, e.Offset, e.Err)
	}
	r.addError(ie)
	r.svc.audit.NodeSkipped(r.job.ID, e.FolderPath, e.Offset, e.Err.Error())

	if e.Offset >= 0 {
		r.folderSeen[e.FolderPath]++
		r.counters.NodeErrors++
		return
	}
	remaining := r.folderTotals[e.FolderPath] - r.folderSeen[e.FolderPath]
	if remaining > 0 {
		r.folderSeen[e.FolderPath] += remaining
		r.counters.NodeErrors += remaining
	}
}

// maxErrorMessage bounds the stored text of one job error
const maxErrorMessage = 2000

func (r *run) addError(err error) {
	ie := apperrors.GetIngestError(err)
	if ie == nil {
		r.log.Warn("unlocated ingestion error", slog.Any("error", err))
		return
	}
	je := models.JobError{
		JobID:         r.job.ID,
		Kind:          string(ie.Kind),
		FolderPath:    ie.FolderPath,
		MessageOffset: ie.Offset,
		Message:       validator.SanitizeString(ie.Error(), maxErrorMessage),
	}
	if ie.AttachmentIndex != apperrors.NoAttachment {
		idx := ie.AttachmentIndex
		je.AttachmentIndex = &idx
	}
	r.errs = append(r.errs, je)
}

// flush persists the pending batch, the accumulated errors and the
// progress counters, then honours a cancellation request
func (r *run) flush(ctx context.Context) error {
	s := r.svc
	batch := r.batch
	r.batch = nil

	persisted, err := r.persist(ctx, batch)
	if err != nil {
		return err
	}
	r.counters.Processed += len(persisted)

	for _, rec := range persisted {
		if err := s.indexer.Index(ctx, rec); err != nil {
			r.addError(apperrors.NewIndexError(rec.SourceFolderPath, rec.SourceMessageOffset, err))
		}
	}

	if len(r.errs) > 0 {
		errs := r.errs
		if err := s.retry(ctx, func() error { return s.jobs.AddErrors(ctx, errs) }); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
		}
		r.errs = nil
	}

	if err := s.retry(ctx, func() error { return s.jobs.UpdateProgress(ctx, r.job.ID, r.counters) }); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	r.publish(models.JobStatusProcessing)

	return r.checkCancelled(ctx)
}

// persist writes a batch atomically, falling back to one record at a
// time. A record that cannot be written counts as a node error. It fails
// only when nothing could be written and the store itself no longer
// answers; records the store rejects do not end the job.
func (r *run) persist(ctx context.Context, batch []*models.EmailRecord) ([]*models.EmailRecord, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	s := r.svc

	batchErr := s.retry(ctx, func() error { return s.emails.CreateBatch(ctx, batch) })
	if batchErr == nil {
		return batch, nil
	}
	r.log.Warn("batch write failed, writing records one by one",
		slog.Int("records", len(batch)),
		slog.Any("error", batchErr),
	)

	persisted := make([]*models.EmailRecord, 0, len(batch))
	unavailable := false
	var lastErr error
	for _, rec := range batch {
		err := s.retry(ctx, func() error { return s.emails.Create(ctx, rec) })
		if err == nil {
			persisted = append(persisted, rec)
			continue
		}
		if errors.Is(err, context.Canceled) {
			return persisted, err
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			unavailable = true
		}
		lastErr = err
		r.counters.NodeErrors++
		r.addError(apperrors.NewStorageError(rec.SourceFolderPath, rec.SourceMessageOffset, err))
	}

	if len(persisted) == 0 && unavailable {
		if err := s.retry(ctx, func() error {
			_, err := s.emails.CountByJob(ctx, r.job.ID)
			return err
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, errors.Join(lastErr, err))
		}
	}
	return persisted, nil
}

func (r *run) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
	}
	requested, err := r.svc.jobs.IsCancelRequested(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	if requested {
		return apperrors.ErrCancelled
	}
	return nil
}

// finish records the terminal state. Writes use a context that survives
// cancellation of the job's own context.
func (r *run) finish(ctx context.Context, runErr error) (*models.JobResult, error) {
	s := r.svc
	ctx = context.WithoutCancel(ctx)

	// Whatever was read before a failure is kept
	if runErr != nil && len(r.batch) > 0 && !errors.Is(runErr, apperrors.ErrStorageUnavailable) {
		if persisted, err := r.persist(ctx, r.batch); err == nil {
			r.counters.Processed += len(persisted)
		}
		r.batch = nil
	}
	if len(r.errs) > 0 {
		if err := s.jobs.AddErrors(ctx, r.errs); err != nil {
			r.log.Error("failed to record job errors", slog.Any("error", err))
		}
		r.errs = nil
	}

	now := s.now()
	status := models.JobStatusCompleted
	reason := models.FailureNone
	var writeErr error
	switch {
	case runErr == nil:
		writeErr = s.jobs.MarkCompleted(ctx, r.job.ID, r.counters, now)
	case errors.Is(runErr, apperrors.ErrCancelled) || errors.Is(runErr, context.Canceled):
		status, reason = models.JobStatusFailed, models.FailureCancelled
		writeErr = s.jobs.MarkFailed(ctx, r.job.ID, reason, "cancelled by request", r.counters, now)
	default:
		status, reason = models.JobStatusFailed, models.FailureFatal
		writeErr = s.jobs.MarkFailed(ctx, r.job.ID, reason, runErr.Error(), r.counters, now)
		if s.reporter != nil {
			s.reporter.ReportFatal(r.job.ID, r.job.SourceLocation, runErr)
		}
	}
	if writeErr != nil {
		r.log.Error("failed to record terminal state", slog.Any("error", writeErr))
	}
	s.audit.JobTransition(r.job.ID, string(models.JobStatusProcessing), string(status), string(reason))
	r.publish(status)

	result := r.result(ctx, status, reason)
	r.log.Info("job finished",
		slog.String("status", string(status)),
		slog.String("reason", string(reason)),
		slog.Int("messages", result.MessagesProcessed),
		slog.Int("attachments", result.AttachmentsProcessed),
		slog.Int("unique_attachments", result.UniqueAttachments),
		slog.Int("threads", result.ThreadsIdentified),
		slog.Int("node_errors", result.NodeErrors),
		slog.Int("errors", len(result.Errors)),
	)
	if s.notifier != nil {
		if err := s.notifier.JobFinished(ctx, result); err != nil {
			r.log.Warn("job notification failed", slog.Any("error", err))
		}
	}

	if runErr != nil && status == models.JobStatusFailed && reason == models.FailureFatal {
		return result, runErr
	}
	return result, nil
}

// result reads back the stored job so counts and errors match what a
// later GetJobResult returns
func (r *run) result(ctx context.Context, status models.JobStatus, reason models.FailureReason) *models.JobResult {
	if res, err := r.svc.GetJobResult(ctx, r.job.ID); err == nil {
		return res
	}
	job := *r.job
	job.Status = status
	job.FailureReason = reason
	job.ProcessedEmails = r.counters.Processed
	job.AttachmentCount = r.counters.Attachments
	job.UniqueAttachmentCount = r.counters.UniqueAttachments
	job.ThreadCount = r.counters.Threads
	job.NodeErrorCount = r.counters.NodeErrors
	return resultOf(&job, nil)
}

func (r *run) publish(status models.JobStatus) {
	if r.svc.progress == nil {
		return
	}
	r.svc.progress.BroadcastProgress(&websocket.ProgressPayload{
		JobID:      r.job.ID,
		Status:     string(status),
		Processed:  r.counters.Processed,
		Total:      r.counters.Total,
		NodeErrors: r.counters.NodeErrors,
		Terminal:   status.IsTerminal(),
	})
}

// thread resolves and stores thread roots for every record of a job
func (s *Service) thread(ctx context.Context, jobID uint) (int, error) {
	links, err := s.emails.ListThreadLinks(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	res := threading.Resolve(links)
	for _, c := range res.Cycles {
		s.audit.ThreadingCycle(c.Members, c.Root)
	}
	if err := s.retry(ctx, func() error { return s.emails.UpdateThreadRoots(ctx, jobID, res.Roots) }); err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	s.logger.Info("threads resolved",
		slog.Uint64("job_id", uint64(jobID)),
		slog.Int("records", len(links)),
		slog.Int("threads", res.Threads),
		slog.Int("cycles", len(res.Cycles)),
	)
	return res.Threads, nil
}
