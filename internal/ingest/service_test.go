package ingest

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/welldanyogia/evidence-ingest/internal/database"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
	"github.com/welldanyogia/evidence-ingest/internal/websocket"
	"github.com/welldanyogia/evidence-ingest/tests/fixtures"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []websocket.ProgressPayload
}

func (p *recordingPublisher) BroadcastProgress(payload *websocket.ProgressPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, *payload)
}

func (p *recordingPublisher) last() websocket.ProgressPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payloads[len(p.payloads)-1]
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []*models.JobResult
}

func (n *recordingNotifier) JobFinished(ctx context.Context, result *models.JobResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
	return nil
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportFatal(jobID uint, source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// flakyEmails fails batch writes. With rejectRecords the store refuses
// every single record while staying reachable; with down it stops
// answering altogether.
type flakyEmails struct {
	repository.EmailRepository
	rejectRecords bool
	down          bool
}

func (f *flakyEmails) CreateBatch(ctx context.Context, records []*models.EmailRecord) error {
	return errors.New("deadlock detected")
}

func (f *flakyEmails) Create(ctx context.Context, record *models.EmailRecord) error {
	if f.down {
		return errors.New("connection refused")
	}
	if f.rejectRecords {
		return errors.New("invalid byte sequence for encoding \"UTF8\": 0x00")
	}
	return f.EmailRepository.Create(ctx, record)
}

func (f *flakyEmails) CountByJob(ctx context.Context, jobID uint) (int64, error) {
	if f.down {
		return 0, errors.New("connection refused")
	}
	return f.EmailRepository.CountByJob(ctx, jobID)
}

// ServiceTestSuite runs jobs against SQLite and a local blob store
type ServiceTestSuite struct {
	suite.Suite
	db        *gorm.DB
	blobs     storage.BlobStore
	jobs      repository.JobRepository
	emails    repository.EmailRepository
	workDir   string
	dict      *tagging.Dictionary
	publisher *recordingPublisher
	notifier  *recordingNotifier
	reporter  *recordingReporter
	ctx       context.Context
}

// TestServiceTestSuite runs the test suite
func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

// SetupTest gives every test a fresh database and blob root
func (s *ServiceTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(db.Exec("PRAGMA foreign_keys = ON").Error)
	s.Require().NoError(db.AutoMigrate(database.Models()...))
	s.db = db

	s.blobs, err = storage.NewLocalStorage(s.T().TempDir())
	s.Require().NoError(err)
	s.jobs = repository.NewJobRepository(db)
	s.emails = repository.NewEmailRepository(db)
	s.workDir = s.T().TempDir()
	s.dict = &tagging.Dictionary{}
	s.publisher = &recordingPublisher{}
	s.notifier = &recordingNotifier{}
	s.reporter = &recordingReporter{}
	s.ctx = context.Background()
}

// TearDownTest closes the database
func (s *ServiceTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func (s *ServiceTestSuite) newService() *Service {
	return NewService(&ServiceConfig{
		Jobs:         s.jobs,
		Emails:       s.emails,
		Attachments:  repository.NewAttachmentRepository(s.db, s.blobs),
		Blobs:        s.blobs,
		Dictionaries: tagging.NewFileSource(s.dict),
		Progress:     s.publisher,
		Notifier:     s.notifier,
		Reporter:     s.reporter,
		Options: Options{
			BatchSize:            2,
			StorageRetryAttempts: 1,
			RetryInitialInterval: time.Millisecond,
			WorkDir:              s.workDir,
		},
	})
}

func (s *ServiceTestSuite) writeMbox(messages ...[]byte) string {
	return fixtures.WriteFile(s.T(), "Inbox.mbox", fixtures.Mbox(messages...))
}

func (s *ServiceTestSuite) run(svc *Service, source string) (*models.JobResult, error) {
	job, err := svc.Submit(s.ctx, StartRequest{Source: source, ScopeType: models.ScopeCase, ScopeID: 1})
	s.Require().NoError(err)
	return svc.RunJob(s.ctx, job)
}

func message(id string) []byte {
	return fixtures.NewMessageBuilder().WithMessageID(id).WithSubject("msg " + id).Build()
}

// ==================== Run Tests ====================

func (s *ServiceTestSuite) TestRunJob_CorruptMessageIsNodeError() {
	// Arrange
	path := s.writeMbox(message("a@x"), message("b@x"), fixtures.CorruptMessage(), message("c@x"), message("d@x"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, result.Status)
	s.Equal(4, result.MessagesProcessed)
	s.Equal(1, result.NodeErrors)
	s.Require().Len(result.Errors, 1)
	s.Equal("node", result.Errors[0].Kind)
	s.Equal("Inbox", result.Errors[0].FolderPath)
	s.Equal(2, result.Errors[0].MessageOffset)

	job, err := s.jobs.GetByID(s.ctx, result.JobID)
	s.Require().NoError(err)
	s.Equal(5, job.TotalEmails)
	s.Equal(job.TotalEmails, job.ProcessedEmails+job.NodeErrorCount)

	rec, err := s.emails.GetBySource(s.ctx, result.JobID, "Inbox", 3)
	s.Require().NoError(err)
	s.Equal("c@x", rec.MessageID)
}

func (s *ServiceTestSuite) TestRunJob_ResolvesThreads() {
	// Arrange
	reply := fixtures.NewMessageBuilder().WithMessageID("b@x").WithInReplyTo("a@x").WithReferences("a@x").Build()
	path := s.writeMbox(message("a@x"), reply, message("c@x"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	s.Equal(2, result.ThreadsIdentified)
	rec, err := s.emails.GetBySource(s.ctx, result.JobID, "Inbox", 1)
	s.Require().NoError(err)
	s.Equal("a@x", rec.ThreadRootID)

	// Act again
	threads, err := svc.Rethread(s.ctx, result.JobID)

	// Assert idempotent
	s.Require().NoError(err)
	s.Equal(2, threads)
}

func (s *ServiceTestSuite) TestRunJob_DeduplicatesAttachments() {
	// Arrange
	payload := []byte("%PDF-1.4 same bytes")
	first := fixtures.NewMessageBuilder().WithMessageID("a@x").WithAttachment("report.pdf", "application/pdf", payload).Build()
	second := fixtures.NewMessageBuilder().WithMessageID("b@x").WithAttachment("copy.pdf", "application/pdf", payload).Build()
	path := s.writeMbox(first, second)
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	s.Equal(2, result.AttachmentsProcessed)
	s.Equal(1, result.UniqueAttachments)

	rec, err := s.emails.GetBySource(s.ctx, result.JobID, "Inbox", 1)
	s.Require().NoError(err)
	s.Require().Len(rec.Attachments, 1)
	s.True(rec.Attachments[0].IsDuplicate)
}

func (s *ServiceTestSuite) TestRunJob_AppliesTags() {
	// Arrange
	s.dict.Keywords = []models.Keyword{{ID: 7, Name: "falcon"}}
	path := s.writeMbox(fixtures.NewMessageBuilder().WithMessageID("a@x").WithSubject("Project Falcon").Build())
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	rec, err := s.emails.GetBySource(s.ctx, result.JobID, "Inbox", 0)
	s.Require().NoError(err)
	s.Equal([]uint{7}, rec.MatchedKeywordIDs)
}

func (s *ServiceTestSuite) TestRunJob_BlobSourceAndWorkingCopyRemoved() {
	// Arrange
	data := fixtures.Mbox(message("a@x"), message("b@x"))
	s.Require().NoError(s.blobs.Put(s.ctx, "incoming/Archive.mbox", strings.NewReader(string(data)), "application/mbox"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, "blob://incoming/Archive.mbox")

	// Assert
	s.Require().NoError(err)
	s.Equal(2, result.MessagesProcessed)
	rec, err := s.emails.GetBySource(s.ctx, result.JobID, "Archive", 0)
	s.Require().NoError(err)
	s.Equal("a@x", rec.MessageID)

	left, err := os.ReadDir(s.workDir)
	s.Require().NoError(err)
	s.Empty(left)
}

func (s *ServiceTestSuite) TestRunJob_ReportsProgressAndNotifies() {
	// Arrange
	path := s.writeMbox(message("a@x"), message("b@x"), message("c@x"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	final := s.publisher.last()
	s.True(final.Terminal)
	s.Equal(string(models.JobStatusCompleted), final.Status)
	s.Equal(3, final.Processed)
	s.Equal(3, final.Total)
	s.Require().Len(s.notifier.results, 1)
	s.Equal(result.JobID, s.notifier.results[0].JobID)
}

// ==================== Failure Tests ====================

func (s *ServiceTestSuite) TestRunJob_UnreadableArchiveIsFatal() {
	// Arrange
	path := fixtures.WriteFile(s.T(), "notes.txt", []byte("not an archive at all"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.ErrorIs(err, apperrors.ErrFatalArchive)
	s.Equal(models.JobStatusFailed, result.Status)
	s.Equal(models.FailureFatal, result.FailureReason)
	s.Len(s.reporter.errs, 1)
}

func (s *ServiceTestSuite) TestRunJob_MissingSourceIsFatal() {
	svc := s.newService()

	result, err := s.run(svc, "/nonexistent/evidence.pst")

	s.ErrorIs(err, apperrors.ErrFatalArchive)
	s.Equal(models.FailureFatal, result.FailureReason)
}

func (s *ServiceTestSuite) TestRunJob_CancelRequested() {
	// Arrange
	path := s.writeMbox(message("a@x"))
	svc := s.newService()
	job, err := svc.Submit(s.ctx, StartRequest{Source: path, ScopeType: models.ScopeCase, ScopeID: 1})
	s.Require().NoError(err)
	s.Require().NoError(svc.CancelJob(s.ctx, job.ID))

	// Act
	result, err := svc.RunJob(s.ctx, job)

	// Assert
	s.NoError(err)
	s.Equal(models.JobStatusFailed, result.Status)
	s.Equal(models.FailureCancelled, result.FailureReason)
	s.Empty(s.reporter.errs)
}

func (s *ServiceTestSuite) TestRunJob_BatchFailureFallsBackToSingleWrites() {
	// Arrange
	s.emails = &flakyEmails{EmailRepository: repository.NewEmailRepository(s.db)}
	path := s.writeMbox(message("a@x"), message("b@x"), message("c@x"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, result.Status)
	s.Equal(3, result.MessagesProcessed)
}

func (s *ServiceTestSuite) TestRunJob_StorageUnavailableIsFatal() {
	// Arrange
	s.emails = &flakyEmails{EmailRepository: repository.NewEmailRepository(s.db), down: true}
	path := s.writeMbox(message("a@x"), message("b@x"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.ErrorIs(err, apperrors.ErrStorageUnavailable)
	s.Equal(models.JobStatusFailed, result.Status)
	s.Equal(models.FailureFatal, result.FailureReason)
	s.Equal(0, result.MessagesProcessed)
}

func (s *ServiceTestSuite) TestRunJob_RejectedRecordsAreNodeErrors() {
	// Arrange
	s.emails = &flakyEmails{EmailRepository: repository.NewEmailRepository(s.db), rejectRecords: true}
	path := s.writeMbox(message("a@x"), message("b@x"))
	svc := s.newService()

	// Act
	result, err := s.run(svc, path)

	// Assert
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, result.Status)
	s.Equal(models.FailureNone, result.FailureReason)
	s.Equal(0, result.MessagesProcessed)
	s.Equal(2, result.NodeErrors)
	s.Len(result.Errors, 2)
}

// ==================== Service API Tests ====================

func (s *ServiceTestSuite) TestSubmit_RejectsSecondJobForSource() {
	// Arrange
	path := s.writeMbox(message("a@x"))
	svc := s.newService()
	req := StartRequest{Source: path, ScopeType: models.ScopeCase, ScopeID: 1}
	_, err := svc.Submit(s.ctx, req)
	s.Require().NoError(err)

	// Act
	_, err = svc.Submit(s.ctx, req)

	// Assert
	s.ErrorIs(err, apperrors.ErrJobAlreadyRunning)
}

func (s *ServiceTestSuite) TestSubmit_InvalidRequest() {
	svc := s.newService()

	_, err := svc.Submit(s.ctx, StartRequest{Source: "", ScopeType: models.ScopeCase, ScopeID: 1})
	s.ErrorIs(err, apperrors.ErrInvalidInput)

	_, err = svc.Submit(s.ctx, StartRequest{Source: "/evidence/a.pst", ScopeType: "matter", ScopeID: 1})
	s.ErrorIs(err, apperrors.ErrInvalidInput)
}

func (s *ServiceTestSuite) TestStartJob_RunsInBackground() {
	// Arrange
	path := s.writeMbox(message("a@x"), message("b@x"))
	svc := s.newService()

	// Act
	id, err := svc.StartJob(s.ctx, StartRequest{Source: path, ScopeType: models.ScopeProject, ScopeID: 2})

	// Assert
	s.Require().NoError(err)
	s.Require().Eventually(func() bool {
		status, err := svc.GetJobStatus(s.ctx, id)
		return err == nil && status.Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	result, err := svc.GetJobResult(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(2, result.MessagesProcessed)
	s.NoError(svc.Shutdown(s.ctx))

	// The source can be ingested again once the job is over
	_, err = svc.Submit(s.ctx, StartRequest{Source: path, ScopeType: models.ScopeProject, ScopeID: 2})
	s.NoError(err)
}

func (s *ServiceTestSuite) TestGetJobResult_NotTerminal() {
	svc := s.newService()
	job, err := svc.Submit(s.ctx, StartRequest{Source: "/evidence/a.pst", ScopeType: models.ScopeCase, ScopeID: 1})
	s.Require().NoError(err)

	_, err = svc.GetJobResult(s.ctx, job.ID)
	s.ErrorIs(err, apperrors.ErrJobNotTerminal)

	_, err = svc.Rethread(s.ctx, job.ID)
	s.ErrorIs(err, apperrors.ErrJobNotTerminal)
}

func (s *ServiceTestSuite) TestUnknownJob() {
	svc := s.newService()

	_, err := svc.GetJobStatus(s.ctx, 404)
	s.ErrorIs(err, apperrors.ErrJobNotFound)

	s.ErrorIs(svc.CancelJob(s.ctx, 404), apperrors.ErrJobNotFound)
}

func (s *ServiceTestSuite) TestCancelJob_Finished() {
	// Arrange
	path := s.writeMbox(message("a@x"))
	svc := s.newService()
	result, err := s.run(svc, path)
	s.Require().NoError(err)

	// Act
	err = svc.CancelJob(s.ctx, result.JobID)

	// Assert
	s.ErrorIs(err, apperrors.ErrInvalidInput)
}

func (s *ServiceTestSuite) TestRecoverInterrupted() {
	// Arrange
	svc := s.newService()
	job, err := svc.Submit(s.ctx, StartRequest{Source: "/evidence/a.pst", ScopeType: models.ScopeCase, ScopeID: 1})
	s.Require().NoError(err)

	// Act
	n, err := svc.RecoverInterrupted(s.ctx)

	// Assert
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	got, err := s.jobs.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, got.Status)
}

// ==================== Retry Tests ====================

func TestRetry_StopsOnPermanentError(t *testing.T) {
	svc := NewService(&ServiceConfig{Options: Options{StorageRetryAttempts: 5, RetryInitialInterval: time.Millisecond}})
	calls := 0

	err := svc.retry(context.Background(), func() error {
		calls++
		return repository.ErrDuplicateEntry
	})

	require.ErrorIs(t, err, repository.ErrDuplicateEntry)
	require.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	svc := NewService(&ServiceConfig{Options: Options{StorageRetryAttempts: 2, RetryInitialInterval: time.Millisecond}})
	calls := 0

	err := svc.retry(context.Background(), func() error {
		calls++
		return errors.New("timeout")
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
}
