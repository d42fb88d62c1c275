package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/evidence-ingest/internal/api/handlers"
	"github.com/welldanyogia/evidence-ingest/internal/api/middleware"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/websocket"
	"gorm.io/gorm"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB           *gorm.DB
	Service      ingest.JobService
	Jobs         repository.JobRepository
	Emails       repository.EmailRepository
	Attachments  repository.AttachmentRepository
	Hub          *websocket.Hub
	HealthChecks map[string]handlers.Pinger
	Audit        *logger.AuditLogger
	Logger       *slog.Logger

	// Security configuration
	APIKey         string // empty disables authentication outside production
	AllowedOrigins []string
	Production     bool
	Limiter        *middleware.IPRateLimiter // nil uses the default limits
	BodyLimit      string
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = middleware.NewIPRateLimiter(0, 0)
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "1M"
	}
	origins := middleware.AllowedOrigins(cfg.AllowedOrigins, cfg.Production)

	// Order matters: recover first, then headers and CORS so that
	// rejected requests still carry them.
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.SecureHeaders())
	e.Use(middleware.SecureCORS(origins, cfg.Production))
	e.Use(middleware.RateLimiter(limiter, cfg.Audit, log))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestLogger(log))

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.HealthChecks)
	jobHandler := handlers.NewJobHandler(cfg.Service, cfg.Jobs, log)
	recordHandler := handlers.NewRecordHandler(cfg.Emails, cfg.Attachments)
	attachmentHandler := handlers.NewAttachmentHandler(cfg.Attachments)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	auth := middleware.APIKeyAuth(cfg.APIKey, cfg.Audit, log)

	if cfg.Hub != nil {
		wsHandler := handlers.NewWebSocketHandler(cfg.Hub, websocket.NewSecureUpgrader(origins, cfg.Audit, log), log)
		e.GET("/ws", wsHandler.Connect, auth)
	}

	api := e.Group("/api", auth)

	// Job routes
	jobs := api.Group("/jobs")
	jobs.POST("", jobHandler.Start)
	jobs.GET("/:id", jobHandler.Status)
	jobs.GET("/:id/result", jobHandler.Result)
	jobs.POST("/:id/cancel", jobHandler.Cancel)
	jobs.POST("/:id/rethread", jobHandler.Rethread)
	jobs.GET("/:id/errors", jobHandler.Errors)
	jobs.GET("/:id/records", recordHandler.List)

	// Record routes
	records := api.Group("/records")
	records.GET("/:id", recordHandler.Get)
	records.GET("/:id/attachments", recordHandler.Attachments)

	// Attachment routes
	attachments := api.Group("/attachments")
	attachments.GET("/:id", attachmentHandler.Get)
	attachments.GET("/:id/download", attachmentHandler.Download)
	attachments.GET("/:id/occurrences", attachmentHandler.Occurrences)

	return e
}
