package handlers

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/evidence-ingest/internal/api/response"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
)

// JobHandler handles ingestion job HTTP requests
type JobHandler struct {
	service ingest.JobService
	jobRepo repository.JobRepository
	logger  *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(service ingest.JobService, jobRepo repository.JobRepository, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		service: service,
		jobRepo: jobRepo,
		logger:  logger,
	}
}

// StartJobResponse is returned when a job is accepted
type StartJobResponse struct {
	JobID uint `json:"job_id"`
}

// RethreadResponse is returned after a threading pass
type RethreadResponse struct {
	JobID   uint `json:"job_id"`
	Threads int  `json:"threads"`
}

// Start handles POST /api/jobs
func (h *JobHandler) Start(c echo.Context) error {
	var req ingest.StartRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	id, err := h.service.StartJob(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err, "failed to start job")
	}
	return response.Accepted(c, StartJobResponse{JobID: id})
}

// Status handles GET /api/jobs/:id
func (h *JobHandler) Status(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid job ID")
	}

	status, err := h.service.GetJobStatus(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err, "failed to get job status")
	}
	return response.Success(c, status)
}

// Result handles GET /api/jobs/:id/result
func (h *JobHandler) Result(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid job ID")
	}

	result, err := h.service.GetJobResult(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err, "failed to get job result")
	}
	return response.Success(c, result)
}

// Cancel handles POST /api/jobs/:id/cancel
func (h *JobHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid job ID")
	}

	if err := h.service.CancelJob(c.Request().Context(), id); err != nil {
		return h.fail(c, err, "failed to cancel job")
	}
	return response.SuccessWithMessage(c, StartJobResponse{JobID: id}, "cancellation requested")
}

// Rethread handles POST /api/jobs/:id/rethread
func (h *JobHandler) Rethread(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid job ID")
	}

	threads, err := h.service.Rethread(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err, "failed to rethread job")
	}
	return response.Success(c, RethreadResponse{JobID: id, Threads: threads})
}

// Errors handles GET /api/jobs/:id/errors
func (h *JobHandler) Errors(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid job ID")
	}

	ctx := c.Request().Context()
	if _, err := h.jobRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "job not found")
		}
		return h.fail(c, err, "failed to get job")
	}

	limit, offset := pagination(c)
	errs, total, err := h.jobRepo.ListErrors(ctx, id, limit, offset)
	if err != nil {
		return h.fail(c, err, "failed to list job errors")
	}
	return response.Paginated(c, errs, total, limit, offset)
}

// fail maps service errors to responses and logs unexpected ones
func (h *JobHandler) fail(c echo.Context, err error, msg string) error {
	if apperrors.GetErrorCode(err) == apperrors.CodeInternalError {
		h.logger.Error(msg, slog.Any("error", err), slog.String("path", c.Path()))
	}
	return response.Error(c, err)
}
