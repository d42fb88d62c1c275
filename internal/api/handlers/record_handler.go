package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/evidence-ingest/internal/api/response"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
)

// RecordHandler serves persisted evidence records
type RecordHandler struct {
	emailRepo      repository.EmailRepository
	attachmentRepo repository.AttachmentRepository
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(emailRepo repository.EmailRepository, attachmentRepo repository.AttachmentRepository) *RecordHandler {
	return &RecordHandler{
		emailRepo:      emailRepo,
		attachmentRepo: attachmentRepo,
	}
}

// List handles GET /api/jobs/:id/records
func (h *RecordHandler) List(c echo.Context) error {
	jobID, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid job ID")
	}

	limit, offset := pagination(c)
	records, total, err := h.emailRepo.ListByJob(c.Request().Context(), jobID, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list records")
	}
	return response.Paginated(c, records, total, limit, offset)
}

// Get handles GET /api/records/:id
func (h *RecordHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid record ID")
	}

	record, err := h.emailRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "record not found")
		}
		return response.InternalError(c, "failed to get record")
	}
	return response.Success(c, record)
}

// Attachments handles GET /api/records/:id/attachments
func (h *RecordHandler) Attachments(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid record ID")
	}

	ctx := c.Request().Context()
	if _, err := h.emailRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "record not found")
		}
		return response.InternalError(c, "failed to get record")
	}

	attachments, err := h.attachmentRepo.ListByEmail(ctx, id)
	if err != nil {
		return response.InternalError(c, "failed to list attachments")
	}
	return response.Success(c, attachments)
}
