package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/evidence-ingest/internal/archive"
	"github.com/welldanyogia/evidence-ingest/internal/database"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
	"github.com/welldanyogia/evidence-ingest/tests/fixtures"
)

// setupEnv points configuration at a throwaway SQLite database and blob store
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "ingest.db"))
	t.Setenv("BLOB_STORAGE_PATH", filepath.Join(dir, "blobs"))
	t.Setenv("WORK_DIR", dir)
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BATCH_SIZE", "2")
	t.Setenv("SMTP_NOTIFY_ADDR", "")
	t.Setenv("REDIS_URL", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func archiveFixture(t *testing.T) string {
	t.Helper()
	first := fixtures.NewMessageBuilder().WithMessageID("a@x").WithSubject("Project Falcon").Build()
	reply := fixtures.NewMessageBuilder().WithMessageID("b@x").WithInReplyTo("a@x").WithSubject("Re: Project Falcon").Build()
	sent := fixtures.NewMessageBuilder().WithMessageID("c@x").WithSubject("Budget").Build()
	return fixtures.WriteFile(t, "custodian.zip", fixtures.Zip(map[string][]byte{
		"Inbox.mbox": fixtures.Mbox(first, reply),
		"Sent.mbox":  fixtures.Mbox(sent),
	}))
}

// ==================== Command Tree Tests ====================

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"serve", "ingest", "rethread", "scan", "dictionary"})
}

func TestIngestCmd_RequiresScopeID(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "ingest", "/evidence/a.zip")

	assert.ErrorContains(t, err, "scope-id")
}

// ==================== Scan Tests ====================

func TestScan_PrintsFolderCounts(t *testing.T) {
	// Arrange
	path := archiveFixture(t)
	var out bytes.Buffer

	// Act
	err := scan(context.Background(), &out, path, archive.Options{})

	// Assert
	require.NoError(t, err)
	assert.Regexp(t, `Inbox\s+2\s+ok`, out.String())
	assert.Regexp(t, `Sent\s+1\s+ok`, out.String())
	assert.Regexp(t, `TOTAL\s+3\s+0 folder\(s\) unreadable`, out.String())
}

func TestScan_UnreadableArchive(t *testing.T) {
	path := fixtures.WriteFile(t, "broken.zip", []byte("PK\x03\x04 truncated"))

	_, err := execute(t, "scan", path)

	assert.Error(t, err)
}

// ==================== Ingest Tests ====================

func TestIngestCmd_EndToEnd(t *testing.T) {
	// Arrange
	dir := setupEnv(t)
	path := archiveFixture(t)
	dict := fixtures.WriteFile(t, "dict.yaml", []byte("keywords:\n  - id: 7\n    name: falcon\n"))
	indexOut := filepath.Join(dir, "index.jsonl")

	// Act
	out, err := execute(t, "ingest", path, "--scope-type", "case", "--scope-id", "3",
		"--dictionary", dict, "--index-out", indexOut)

	// Assert
	require.NoError(t, err, out)
	var result models.JobResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, models.JobStatusCompleted, result.Status)
	assert.Equal(t, 3, result.MessagesProcessed)
	assert.Equal(t, 2, result.ThreadsIdentified)
	assert.Zero(t, result.NodeErrors)

	index, err := os.ReadFile(indexOut)
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(index, []byte("\n")))

	// Act again: rethreading the finished job is stable
	out, err = execute(t, "rethread", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "job 1: 2 threads")
}

func TestRethreadCmd_InvalidID(t *testing.T) {
	_, err := execute(t, "rethread", "zero")

	assert.ErrorContains(t, err, "invalid job id")
}

// ==================== Dictionary Tests ====================

func TestImportDictionary(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	db, err := database.Connect("sqlite://" + filepath.Join(dir, "dict.db"))
	require.NoError(t, err)
	defer database.Close(db)
	require.NoError(t, database.Migrate(db))
	repo := repository.NewDictionaryRepository(db)
	dict := &tagging.Dictionary{
		Stakeholders: []models.Stakeholder{{ID: 1, Email: "jane@example.com"}},
		Keywords:     []models.Keyword{{ID: 10, Name: "merger"}, {ID: 11, Name: "falcon"}},
	}
	var out bytes.Buffer

	// Act
	err = importDictionary(context.Background(), &out, repo, dict, models.ScopeCase, 4, slog.Default())
	require.NoError(t, err)
	out.Reset()
	err = importDictionary(context.Background(), &out, repo, dict, models.ScopeCase, 4, slog.Default())

	// Assert
	require.NoError(t, err)
	assert.Contains(t, out.String(), "imported 0 entries into case 4 (3 skipped)")
	keywords, err := repo.ListKeywords(context.Background(), models.ScopeCase, 4)
	require.NoError(t, err)
	assert.Len(t, keywords, 2)
}

func TestImportDictionary_InvalidScope(t *testing.T) {
	err := importDictionary(context.Background(), &bytes.Buffer{}, nil, &tagging.Dictionary{}, "matter", 1, slog.Default())

	assert.ErrorContains(t, err, "scope-type")
}
