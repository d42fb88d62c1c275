package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/welldanyogia/evidence-ingest/internal/config"
	"github.com/welldanyogia/evidence-ingest/internal/database"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
	"gorm.io/gorm"
)

// app holds the collaborators shared by every command that touches the
// database
type app struct {
	cfg         *config.Config
	db          *gorm.DB
	blobs       storage.BlobStore
	jobs        repository.JobRepository
	emails      repository.EmailRepository
	attachments repository.AttachmentRepository
	dictionary  repository.DictionaryRepository
	audit       *logger.AuditLogger
	logger      *slog.Logger
}

// newApp loads configuration, connects and migrates the database and
// opens the blob store
func newApp(logOut io.Writer, jsonLogs bool) (*app, error) {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(logOut, cfg.LogLevel, jsonLogs)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, err
	}

	blobs, err := storage.NewLocalStorage(cfg.BlobStoragePath)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to open blob storage: %w", err)
	}

	return &app{
		cfg:         cfg,
		db:          db,
		blobs:       blobs,
		jobs:        repository.NewJobRepository(db),
		emails:      repository.NewEmailRepository(db),
		attachments: repository.NewAttachmentRepository(db, blobs),
		dictionary:  repository.NewDictionaryRepository(db),
		audit:       logger.NewAuditLoggerFrom(log),
		logger:      log,
	}, nil
}

// options maps configuration onto job options
func (a *app) options() ingest.Options {
	opts := ingest.DefaultOptions()
	opts.BatchSize = a.cfg.BatchSize
	opts.InlineBodyLimit = a.cfg.InlineBodyLimit
	opts.AttachmentWorkers = a.cfg.AttachmentWorkers
	opts.StorageRetryAttempts = a.cfg.StorageRetryAttempts
	opts.WorkDir = a.cfg.WorkDir
	return opts
}

// serviceConfig returns the base service wiring; commands add the
// optional collaborators they need
func (a *app) serviceConfig() *ingest.ServiceConfig {
	return &ingest.ServiceConfig{
		Jobs:         a.jobs,
		Emails:       a.emails,
		Attachments:  a.attachments,
		Blobs:        a.blobs,
		Dictionaries: tagging.NewRepositorySource(a.dictionary),
		Options:      a.options(),
		Audit:        a.audit,
		Logger:       a.logger,
	}
}

func (a *app) Close() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", slog.Any("error", err))
	}
}
