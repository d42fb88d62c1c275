package repository

import (
	"errors"
	"strings"

	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
)

// Common repository errors
var (
	ErrNotFound          = apperrors.ErrNotFound
	ErrDuplicateEntry    = apperrors.ErrDuplicateEntry
	ErrInvalidInput      = apperrors.ErrInvalidInput
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// isDuplicateKeyError checks if the error is a duplicate key violation
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "UNIQUE constraint") ||
		strings.Contains(errStr, "23505") // PostgreSQL unique violation code
}
