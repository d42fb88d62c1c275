package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEntry indicates a unique constraint violation
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobNotFound indicates the ingestion job was not found
	ErrJobNotFound = errors.New("job not found")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates forbidden access
	ErrForbidden = errors.New("forbidden")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")

	// Ingestion errors

	// ErrFatalArchive indicates the archive cannot be opened at all
	ErrFatalArchive = errors.New("archive cannot be opened")

	// ErrNode indicates a single folder or message inside the archive is unreadable
	ErrNode = errors.New("archive node unreadable")

	// ErrAttachment indicates an attachment payload could not be read or stored
	ErrAttachment = errors.New("attachment unavailable")

	// ErrStorage indicates a blob or relational write failed
	ErrStorage = errors.New("storage write failed")

	// ErrStorageUnavailable indicates the relational store rejects every write
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIndex indicates a full-text index emission failed
	ErrIndex = errors.New("index emission failed")

	// ErrCancelled indicates the job stopped on an operator request
	ErrCancelled = errors.New("job cancelled")

	// ErrJobAlreadyRunning indicates an active job already owns the source
	ErrJobAlreadyRunning = errors.New("job already running for source")

	// ErrJobNotTerminal indicates a result was requested before the job finished
	ErrJobNotTerminal = errors.New("job has not reached a terminal state")
)

// Error codes for API responses
const (
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateEntry    = "DUPLICATE_ENTRY"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeJobAlreadyRunning = "JOB_ALREADY_RUNNING"
	CodeJobNotTerminal    = "JOB_NOT_TERMINAL"
	CodeFatalArchive      = "ARCHIVE_UNREADABLE"
)

// Kind classifies a non-fatal error accumulated on a job
type Kind string

const (
	KindNode       Kind = "node"
	KindAttachment Kind = "attachment"
	KindStorage    Kind = "storage"
	KindIndex      Kind = "index"
)

// sentinel returns the package error matched by errors.Is for the kind
func (k Kind) sentinel() error {
	switch k {
	case KindNode:
		return ErrNode
	case KindAttachment:
		return ErrAttachment
	case KindStorage:
		return ErrStorage
	case KindIndex:
		return ErrIndex
	default:
		return nil
	}
}

// NoAttachment marks an IngestError that is not tied to an attachment
const NoAttachment = -1

// IngestError locates a non-fatal failure inside the archive.
// errors.Is matches both the kind sentinel and the wrapped cause.
type IngestError struct {
	Kind            Kind
	FolderPath      string
	Offset          int
	AttachmentIndex int
	Err             error
}

// Error implements the error interface
func (e *IngestError) Error() string {
	loc := fmt.Sprintf("%s#%d", e.FolderPath, e.Offset)
	if e.Offset < 0 {
		loc = e.FolderPath
	}
	if e.AttachmentIndex != NoAttachment {
		loc = fmt.Sprintf("%s attachment %d", loc, e.AttachmentIndex)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s error at %s", e.Kind, loc)
	}
	return fmt.Sprintf("%s error at %s: %v", e.Kind, loc, e.Err)
}

// Unwrap returns the underlying error
func (e *IngestError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *IngestError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewNodeError creates an error for an unreadable folder or message.
// A negative offset marks a folder-level failure.
func NewNodeError(folderPath string, offset int, err error) *IngestError {
	return &IngestError{Kind: KindNode, FolderPath: folderPath, Offset: offset, AttachmentIndex: NoAttachment, Err: err}
}

// NewAttachmentError creates an error for an attachment of the message at folderPath#offset
func NewAttachmentError(folderPath string, offset, index int, err error) *IngestError {
	return &IngestError{Kind: KindAttachment, FolderPath: folderPath, Offset: offset, AttachmentIndex: index, Err: err}
}

// NewStorageError creates an error for a record that could not be persisted
func NewStorageError(folderPath string, offset int, err error) *IngestError {
	return &IngestError{Kind: KindStorage, FolderPath: folderPath, Offset: offset, AttachmentIndex: NoAttachment, Err: err}
}

// NewIndexError creates an error for a record the index rejected
func NewIndexError(folderPath string, offset int, err error) *IngestError {
	return &IngestError{Kind: KindIndex, FolderPath: folderPath, Offset: offset, AttachmentIndex: NoAttachment, Err: err}
}

// NewFatalArchiveError wraps err so that it matches ErrFatalArchive
func NewFatalArchiveError(path string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrFatalArchive, path)
	}
	return fmt.Errorf("%w: %s: %w", ErrFatalArchive, path, err)
}

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrJobNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// GetIngestError extracts the IngestError from an error chain if present
func GetIngestError(err error) *IngestError {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie
	}
	return nil
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsDuplicateEntry(err):
		return CodeDuplicateEntry
	case IsInvalidInput(err):
		return CodeInvalidInput
	case errors.Is(err, ErrJobAlreadyRunning):
		return CodeJobAlreadyRunning
	case errors.Is(err, ErrJobNotTerminal):
		return CodeJobNotTerminal
	case errors.Is(err, ErrFatalArchive):
		return CodeFatalArchive
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternalError
	}
}
