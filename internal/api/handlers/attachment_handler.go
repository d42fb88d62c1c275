package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/evidence-ingest/internal/api/response"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
)

// AttachmentHandler handles attachment-related HTTP requests
type AttachmentHandler struct {
	attachmentRepo repository.AttachmentRepository
}

// NewAttachmentHandler creates a new AttachmentHandler
func NewAttachmentHandler(attachmentRepo repository.AttachmentRepository) *AttachmentHandler {
	return &AttachmentHandler{attachmentRepo: attachmentRepo}
}

// Get handles GET /api/attachments/:id
func (h *AttachmentHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid attachment ID")
	}

	attachment, err := h.attachmentRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to get attachment")
	}
	return response.Success(c, attachment)
}

// Occurrences handles GET /api/attachments/:id/occurrences. It lists
// every record of the job that carries the same payload.
func (h *AttachmentHandler) Occurrences(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid attachment ID")
	}

	ctx := c.Request().Context()
	attachment, err := h.attachmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to get attachment")
	}

	occurrences, err := h.attachmentRepo.ListByHash(ctx, attachment.JobID, attachment.ContentHash)
	if err != nil {
		return response.InternalError(c, "failed to list occurrences")
	}
	return response.Success(c, occurrences)
}

// Download handles GET /api/attachments/:id/download
func (h *AttachmentHandler) Download(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return response.BadRequest(c, "invalid attachment ID")
	}

	attachment, content, err := h.attachmentRepo.OpenContent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to retrieve file")
	}
	defer content.Close()

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentType, attachment.ContentType)
	hdr.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Filename}))
	hdr.Set("X-Content-SHA256", attachment.ContentHash)
	if attachment.SizeBytes > 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(attachment.SizeBytes, 10))
	}
	c.Response().WriteHeader(http.StatusOK)

	// Headers are sent; a copy failure can only abort the stream
	_, err = io.Copy(c.Response().Writer, content)
	return err
}
