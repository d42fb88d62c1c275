// Package response writes the JSON envelopes shared by every API handler.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
)

// APIResponse wraps a successful payload
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// PaginatedResponse wraps one page of records or errors
type PaginatedResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

// Meta describes the page that was returned
type Meta struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

var statusByCode = map[string]int{
	apperrors.CodeNotFound:          http.StatusNotFound,
	apperrors.CodeDuplicateEntry:    http.StatusConflict,
	apperrors.CodeJobAlreadyRunning: http.StatusConflict,
	apperrors.CodeJobNotTerminal:    http.StatusConflict,
	apperrors.CodeInvalidInput:      http.StatusBadRequest,
	apperrors.CodeFatalArchive:      http.StatusUnprocessableEntity,
	apperrors.CodeUnauthorized:      http.StatusUnauthorized,
	apperrors.CodeForbidden:         http.StatusForbidden,
}

func getHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func ok(c echo.Context, status int, data interface{}, message string) error {
	return c.JSON(status, APIResponse{Success: true, Data: data, Message: message})
}

func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{Success: false, Error: message, Code: code})
}

// Success returns 200 with data
func Success(c echo.Context, data interface{}) error {
	return ok(c, http.StatusOK, data, "")
}

// SuccessWithMessage returns 200 with data and a human readable note
func SuccessWithMessage(c echo.Context, data interface{}, message string) error {
	return ok(c, http.StatusOK, data, message)
}

// Accepted returns 202 for a job that continues in the background
func Accepted(c echo.Context, data interface{}) error {
	return ok(c, http.StatusAccepted, data, "")
}

// Paginated returns one page plus its position in the full listing
func Paginated(c echo.Context, data interface{}, total int64, limit, offset int) error {
	return c.JSON(http.StatusOK, PaginatedResponse{
		Success: true,
		Data:    data,
		Meta: Meta{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+limit) < total,
		},
	})
}

// Error maps the error chain to a status and code. Messages of internal
// errors are replaced so storage paths and SQL never reach the caller.
func Error(c echo.Context, err error) error {
	code := apperrors.GetErrorCode(err)
	status := getHTTPStatus(code)
	if status == http.StatusInternalServerError {
		return fail(c, status, code, "internal server error")
	}
	return fail(c, status, code, err.Error())
}

// BadRequest returns 400
func BadRequest(c echo.Context, message string) error {
	return fail(c, http.StatusBadRequest, apperrors.CodeInvalidInput, message)
}

// NotFound returns 404
func NotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, apperrors.CodeNotFound, message)
}

// InternalError returns 500
func InternalError(c echo.Context, message string) error {
	return fail(c, http.StatusInternalServerError, apperrors.CodeInternalError, message)
}
