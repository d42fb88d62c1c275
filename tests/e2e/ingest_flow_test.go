//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/welldanyogia/evidence-ingest/internal/api"
	"github.com/welldanyogia/evidence-ingest/internal/api/handlers"
	"github.com/welldanyogia/evidence-ingest/internal/api/middleware"
	"github.com/welldanyogia/evidence-ingest/internal/database"
	"github.com/welldanyogia/evidence-ingest/internal/index"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/lock"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
	"github.com/welldanyogia/evidence-ingest/internal/websocket"
	"github.com/welldanyogia/evidence-ingest/tests/fixtures"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const e2eAPIKey = "e2e-suite-key-0123456789abcdef0123"

// gatedSource holds every dictionary load until released, so a test can
// subscribe to a job before it starts producing progress
type gatedSource struct {
	inner tagging.Source
	gate  chan struct{}
}

func (g *gatedSource) Load(ctx context.Context, scopeType models.ScopeType, scopeID uint) (*tagging.Dictionary, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Load(ctx, scopeType, scopeID)
}

// lockedBuffer is an io.Writer safe to read while the indexer writes
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// IngestFlowTestSuite runs the whole service stack: PostgreSQL, Redis
// source locks, the HTTP API, WebSocket progress and the indexer
type IngestFlowTestSuite struct {
	suite.Suite
	pg         testcontainers.Container
	redis      testcontainers.Container
	db         *gorm.DB
	locker     *lock.Redis
	service    *ingest.Service
	server     *httptest.Server
	hub        *websocket.Hub
	stopHub    context.CancelFunc
	source     *gatedSource
	indexOut   *lockedBuffer
	dictionary repository.DictionaryRepository
}

// SetupSuite starts PostgreSQL, Redis and the API server
func (s *IngestFlowTestSuite) SetupSuite() {
	ctx := context.Background()

	// Start PostgreSQL container
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "evidence_e2e_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.pg = pg

	host, err := pg.Host(ctx)
	s.Require().NoError(err)
	port, err := pg.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=evidence_e2e_test sslmode=disable",
		host, port.Port())

	s.db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	s.Require().NoError(database.Migrate(s.db))

	// Start Redis container
	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.redis = rc

	redisHost, err := rc.Host(ctx)
	s.Require().NoError(err)
	redisPort, err := rc.MappedPort(ctx, "6379")
	s.Require().NoError(err)
	s.locker, err = lock.NewRedisFromURL(ctx, fmt.Sprintf("redis://%s:%s/0", redisHost, redisPort.Port()), time.Hour)
	s.Require().NoError(err)

	// Wire the stack the way the serve command does
	blobs, err := storage.NewLocalStorage(s.T().TempDir())
	s.Require().NoError(err)
	jobs := repository.NewJobRepository(s.db)
	emails := repository.NewEmailRepository(s.db)
	attachments := repository.NewAttachmentRepository(s.db, blobs)
	s.dictionary = repository.NewDictionaryRepository(s.db)

	hubCtx, stopHub := context.WithCancel(ctx)
	s.stopHub = stopHub
	hub := websocket.NewHub(nil)
	go hub.Run(hubCtx)
	s.hub = hub

	s.indexOut = &lockedBuffer{}
	opts := ingest.DefaultOptions()
	opts.BatchSize = 2
	opts.WorkDir = s.T().TempDir()

	s.source = &gatedSource{inner: tagging.NewRepositorySource(s.dictionary)}
	s.service = ingest.NewService(&ingest.ServiceConfig{
		Jobs:         jobs,
		Emails:       emails,
		Attachments:  attachments,
		Blobs:        blobs,
		Dictionaries: s.source,
		Locker:       s.locker,
		Indexer:      index.NewJSONLines(s.indexOut),
		Progress:     hub,
		Options:      opts,
	})

	router := api.NewRouter(&api.RouterConfig{
		DB:             s.db,
		Service:        s.service,
		Jobs:           jobs,
		Emails:         emails,
		Attachments:    attachments,
		Hub:            hub,
		HealthChecks:   map[string]handlers.Pinger{"redis": handlers.PingFunc(s.locker.Ping)},
		APIKey:         e2eAPIKey,
		AllowedOrigins: []string{"https://review.example.com"},
		Limiter:        middleware.NewIPRateLimiter(1000, 1000),
	})
	s.server = httptest.NewServer(router)
}

// TearDownSuite stops all services
func (s *IngestFlowTestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
	if s.service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.service.Shutdown(ctx)
	}
	if s.stopHub != nil {
		s.stopHub()
	}
	if s.locker != nil {
		s.locker.Close()
	}
	for _, c := range []testcontainers.Container{s.redis, s.pg} {
		if c != nil {
			c.Terminate(context.Background())
		}
	}
}

// SetupTest cleans up data and re-arms the gate before each test
func (s *IngestFlowTestSuite) SetupTest() {
	s.db.Exec("TRUNCATE TABLE attachment_records, email_records, job_errors, archive_jobs, stakeholders, keywords RESTART IDENTITY CASCADE")
	s.source.gate = make(chan struct{})
	s.indexOut.Reset()
}

// TestIngestFlowTestSuite runs the test suite
func TestIngestFlowTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	suite.Run(t, new(IngestFlowTestSuite))
}

// Helper functions
func (s *IngestFlowTestSuite) request(method, path, body string) (*http.Response, map[string]json.RawMessage) {
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+e2eAPIKey)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	out := map[string]json.RawMessage{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *IngestFlowTestSuite) dialProgress(jobID uint) *gorillaws.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	header := http.Header{
		"Origin":        []string{"https://review.example.com"},
		"Authorization": []string{"Bearer " + e2eAPIKey},
	}
	conn, _, err := gorillaws.DefaultDialer.Dial(url, header)
	s.Require().NoError(err)
	s.Require().NoError(conn.WriteJSON(websocket.WSMessage{Type: websocket.MessageTypeSubscribe, JobID: jobID}))
	return conn
}

func (s *IngestFlowTestSuite) archive(n int) string {
	messages := make([][]byte, 0, n)
	for i := range n {
		b := fixtures.NewMessageBuilder().
			WithMessageID(fmt.Sprintf("m%d@lab.example", i)).
			WithSubject(fmt.Sprintf("Wire transfer %d", i))
		if i > 0 {
			b = b.WithInReplyTo(fmt.Sprintf("m%d@lab.example", i-1))
		}
		messages = append(messages, b.Build())
	}
	messages = append(messages, fixtures.CorruptMessage())
	return fixtures.WriteFile(s.T(), "custodian.mbox", fixtures.Mbox(messages...))
}

func (s *IngestFlowTestSuite) jobID(body map[string]json.RawMessage) uint {
	var started struct {
		JobID uint `json:"job_id"`
	}
	s.Require().NoError(json.Unmarshal(body["data"], &started))
	return started.JobID
}

func (s *IngestFlowTestSuite) waitTerminal(jobID uint) {
	s.Require().Eventually(func() bool {
		_, status := s.request(http.MethodGet, fmt.Sprintf("/api/jobs/%d", jobID), "")
		var view models.JobStatusView
		return json.Unmarshal(status["data"], &view) == nil && view.Status.IsTerminal()
	}, 30*time.Second, 100*time.Millisecond)
}

// readProgress collects progress payloads until the terminal one
func (s *IngestFlowTestSuite) readProgress(conn *gorillaws.Conn) []websocket.ProgressPayload {
	var payloads []websocket.ProgressPayload
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(30 * time.Second)))
	for {
		var msg struct {
			Type    websocket.MessageType     `json:"type"`
			Message websocket.ProgressPayload `json:"message"`
		}
		s.Require().NoError(conn.ReadJSON(&msg))
		if msg.Type != websocket.MessageTypeProgress {
			continue
		}
		payloads = append(payloads, msg.Message)
		if msg.Message.Terminal {
			return payloads
		}
	}
}

// ==================== Ingest Flow Tests ====================

func (s *IngestFlowTestSuite) TestIngest_ProgressOverWebSocket() {
	// Arrange
	source := s.archive(6)
	resp, body := s.request(http.MethodPost, "/api/jobs", fmt.Sprintf(`{"source":%q,"scope_type":"project","scope_id":8}`, source))
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	jobID := s.jobID(body)

	conn := s.dialProgress(jobID)
	defer conn.Close()
	s.Require().Eventually(func() bool { return s.hub.SubscriberCount(jobID) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Act
	close(s.source.gate)
	payloads := s.readProgress(conn)

	// Assert
	s.Require().NotEmpty(payloads)
	last := payloads[len(payloads)-1]
	s.Equal(string(models.JobStatusCompleted), last.Status)
	s.Equal(7, last.Total)
	s.Equal(6, last.Processed)
	s.Equal(1, last.NodeErrors)
	for i := 1; i < len(payloads); i++ {
		s.GreaterOrEqual(payloads[i].Processed, payloads[i-1].Processed)
	}

	_, result := s.request(http.MethodGet, fmt.Sprintf("/api/jobs/%d/result", jobID), "")
	var stats models.JobResult
	s.Require().NoError(json.Unmarshal(result["data"], &stats))
	s.Equal(1, stats.ThreadsIdentified)
	s.Equal(1, stats.NodeErrors)

	_, errs := s.request(http.MethodGet, fmt.Sprintf("/api/jobs/%d/errors", jobID), "")
	var jobErrors []models.JobError
	s.Require().NoError(json.Unmarshal(errs["data"], &jobErrors))
	s.Require().Len(jobErrors, 1)
	s.Equal(6, jobErrors[0].MessageOffset)

	s.Len(s.indexOut.Lines(), 6)
}

func (s *IngestFlowTestSuite) TestIngest_SourceLockedWhileRunning() {
	// Arrange
	source := s.archive(2)
	body := fmt.Sprintf(`{"source":%q,"scope_type":"case","scope_id":1}`, source)
	resp, started := s.request(http.MethodPost, "/api/jobs", body)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	// Act
	second, _ := s.request(http.MethodPost, "/api/jobs", body)
	close(s.source.gate)
	s.waitTerminal(s.jobID(started))
	third, again := s.request(http.MethodPost, "/api/jobs", body)

	// Assert
	s.Equal(http.StatusConflict, second.StatusCode)
	s.Require().Equal(http.StatusAccepted, third.StatusCode)
	s.waitTerminal(s.jobID(again))
}

func (s *IngestFlowTestSuite) TestIngest_CancelWhileWaiting() {
	// Arrange
	resp, started := s.request(http.MethodPost, "/api/jobs", fmt.Sprintf(`{"source":%q,"scope_type":"case","scope_id":1}`, s.archive(4)))
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	jobID := s.jobID(started)

	// Act
	cancel, _ := s.request(http.MethodPost, fmt.Sprintf("/api/jobs/%d/cancel", jobID), "")
	close(s.source.gate)

	// Assert
	s.Equal(http.StatusOK, cancel.StatusCode)
	var result models.JobResult
	s.Eventually(func() bool {
		r, body := s.request(http.MethodGet, fmt.Sprintf("/api/jobs/%d/result", jobID), "")
		return r.StatusCode == http.StatusOK && json.Unmarshal(body["data"], &result) == nil
	}, 30*time.Second, 100*time.Millisecond)
	s.Equal(models.JobStatusFailed, result.Status)
	s.Equal(models.FailureCancelled, result.FailureReason)
}

func (s *IngestFlowTestSuite) TestHealth_IncludesRedis() {
	resp, body := s.request(http.MethodGet, "/health", "")

	s.Equal(http.StatusOK, resp.StatusCode)
	s.JSONEq(`{"database":"healthy","redis":"healthy"}`, string(body["services"]))
}
