package repository

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"gorm.io/gorm"
)

// AttachmentRepositoryTestSuite is the test suite for AttachmentRepository
type AttachmentRepositoryTestSuite struct {
	suite.Suite
	db    *gorm.DB
	blobs storage.BlobStore
	repo  AttachmentRepository
	email *models.EmailRecord
	ctx   context.Context
}

// SetupSuite runs once before all tests
func (s *AttachmentRepositoryTestSuite) SetupSuite() {
	s.db = openTestDB(s.T())
	s.ctx = context.Background()
}

// TearDownSuite runs once after all tests
func (s *AttachmentRepositoryTestSuite) TearDownSuite() {
	closeTestDB(s.db)
}

// SetupTest runs before each test - clean up data and create fixtures
func (s *AttachmentRepositoryTestSuite) SetupTest() {
	resetTables(s.T(), s.db)

	blobs, err := storage.NewLocalStorage(s.T().TempDir())
	s.Require().NoError(err)
	s.blobs = blobs
	s.repo = NewAttachmentRepository(s.db, blobs)

	job := &models.ArchiveJob{SourceLocation: "/evidence/a.zip", ScopeType: models.ScopeCase, ScopeID: 1}
	s.Require().NoError(s.db.Create(job).Error)

	s.email = &models.EmailRecord{
		JobID:               job.ID,
		SourceFolderPath:    "Inbox",
		SourceMessageOffset: 0,
		Attachments: []models.AttachmentRecord{
			{JobID: job.ID, Position: 1, Filename: "copy.pdf", ContentHash: "aaaa", BlobKey: "attachments/aa/aaaa_report.pdf", IsDuplicate: true},
			{JobID: job.ID, Position: 0, Filename: "report.pdf", ContentHash: "aaaa", BlobKey: "attachments/aa/aaaa_report.pdf"},
			{JobID: job.ID, Position: 2, Filename: "notes.txt", ContentHash: "bbbb", BlobKey: "attachments/bb/bbbb_notes.txt"},
		},
	}
	s.Require().NoError(s.db.Create(s.email).Error)
}

// TestAttachmentRepositoryTestSuite runs the test suite
func TestAttachmentRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(AttachmentRepositoryTestSuite))
}

// ==================== Query Tests ====================

func (s *AttachmentRepositoryTestSuite) TestListByEmail_PositionOrder() {
	// Act
	attachments, err := s.repo.ListByEmail(s.ctx, s.email.ID)

	// Assert
	s.Require().NoError(err)
	s.Require().Len(attachments, 3)
	s.Equal("report.pdf", attachments[0].Filename)
	s.Equal("copy.pdf", attachments[1].Filename)
}

func (s *AttachmentRepositoryTestSuite) TestListByHash() {
	// Act
	attachments, err := s.repo.ListByHash(s.ctx, s.email.JobID, "aaaa")

	// Assert
	s.Require().NoError(err)
	s.Len(attachments, 2)
	s.Equal(attachments[0].BlobKey, attachments[1].BlobKey)
}

func (s *AttachmentRepositoryTestSuite) TestCountByJob() {
	// Act
	total, unique, err := s.repo.CountByJob(s.ctx, s.email.JobID)

	// Assert
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Equal(int64(2), unique)
}

func (s *AttachmentRepositoryTestSuite) TestGetByID_NotFound() {
	_, err := s.repo.GetByID(s.ctx, 999)

	s.ErrorIs(err, ErrNotFound)
}

// ==================== Content Tests ====================

func (s *AttachmentRepositoryTestSuite) TestOpenContent_ReadsFromJobNamespace() {
	// Arrange
	target := s.email.Attachments[2]
	scoped := storage.Scoped(s.blobs, storage.JobNamespace(target.JobID))
	s.Require().NoError(scoped.Put(s.ctx, target.BlobKey, strings.NewReader("hello"), "text/plain"))

	// Act
	att, rc, err := s.repo.OpenContent(s.ctx, target.ID)

	// Assert
	s.Require().NoError(err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	s.Require().NoError(err)
	s.Equal("hello", string(content))
	s.Equal("notes.txt", att.Filename)
}

func (s *AttachmentRepositoryTestSuite) TestOpenContent_MissingBlob() {
	// Act
	_, _, err := s.repo.OpenContent(s.ctx, s.email.Attachments[0].ID)

	// Assert
	s.ErrorIs(err, ErrNotFound)
}
