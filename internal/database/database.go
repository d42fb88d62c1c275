package database

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connection pool configuration
const (
	DefaultMaxIdleConns    = 10
	DefaultMaxOpenConns    = 100
	DefaultConnMaxLifetime = time.Hour
	DefaultConnMaxIdleTime = 10 * time.Minute
)

const sqliteScheme = "sqlite://"

// Connect opens the relational store named by databaseURL.
// "sqlite://<path>" selects the embedded driver; anything else is PostgreSQL.
func Connect(databaseURL string) (*gorm.DB, error) {
	return ConnectWithConfig(databaseURL, DefaultMaxIdleConns, DefaultMaxOpenConns, DefaultConnMaxLifetime, DefaultConnMaxIdleTime)
}

// ConnectWithConfig establishes a connection with custom pool configuration
func ConnectWithConfig(databaseURL string, maxIdleConns, maxOpenConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*gorm.DB, error) {
	dialector, isSQLite, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		// Batches of inserts would flood the log at Info
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if isSQLite {
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		db.Exec("PRAGMA foreign_keys = ON")
	} else {
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetConnMaxLifetime(connMaxLifetime)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	slog.Info("Connected to database successfully", slog.Bool("sqlite", isSQLite))
	return db, nil
}

// dialectorFor picks the gorm driver for a database URL
func dialectorFor(databaseURL string) (gorm.Dialector, bool, error) {
	if strings.HasPrefix(databaseURL, sqliteScheme) {
		path := strings.TrimPrefix(databaseURL, sqliteScheme)
		if path == "" {
			return nil, false, fmt.Errorf("sqlite database path cannot be empty")
		}
		return sqlite.Open(path), true, nil
	}

	// Validate SSL mode in production
	if os.Getenv("APP_ENV") == "production" {
		if err := validateSSLMode(databaseURL); err != nil {
			return nil, false, err
		}
	}
	return postgres.Open(databaseURL), false, nil
}

// validateSSLMode ensures SSL is enabled in production
func validateSSLMode(databaseURL string) error {
	if strings.Contains(databaseURL, "sslmode=disable") {
		return fmt.Errorf("SSL mode cannot be disabled in production")
	}
	return nil
}

// Models lists every table owned or read by the ingestion engine
func Models() []interface{} {
	return []interface{}{
		&models.ArchiveJob{},
		&models.JobError{},
		&models.EmailRecord{},
		&models.AttachmentRecord{},
		&models.Stakeholder{},
		&models.Keyword{},
	}
}

// Migrate runs auto-migration for all models
func Migrate(db *gorm.DB) error {
	slog.Info("Running database migrations...")

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database migrations completed successfully")
	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
