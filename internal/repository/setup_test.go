package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/evidence-ingest/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a migrated in-memory SQLite database on a single connection
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	// Enable foreign keys for SQLite (required for cascade delete)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	require.NoError(t, db.AutoMigrate(database.Models()...))
	return db
}

func closeTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// resetTables clears every table between tests
func resetTables(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, table := range []string{"attachment_records", "email_records", "job_errors", "archive_jobs", "stakeholders", "keywords"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
}
