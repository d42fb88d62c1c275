// Package validator provides input validation and sanitization functions
// for the evidence ingestion API and the archive walk.
package validator

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	playground "github.com/go-playground/validator/v10"
	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// Validation errors
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrInvalidSource    = errors.New("invalid source location")
	ErrInputTooLong     = errors.New("input exceeds maximum length")
	ErrInvalidCharacter = errors.New("input contains invalid characters")
	ErrEmptyInput       = errors.New("input cannot be empty")
)

// BlobScheme prefixes source locations that live in the blob store
const BlobScheme = "blob://"

// MaxSourceLength bounds a source location
const MaxSourceLength = 1024

// Domain regex: allows lowercase alphanumeric, hyphens, and dots
// Must start and end with alphanumeric, labels max 63 chars
var domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var structValidator = newStructValidator()

func newStructValidator() *playground.Validate {
	v := playground.New()
	_ = v.RegisterValidation("scope_type", func(fl playground.FieldLevel) bool {
		return models.ScopeType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("source_location", func(fl playground.FieldLevel) bool {
		return ValidateSourceLocation(fl.Field().String()) == nil
	})
	return v
}

// ValidateStruct checks `validate` tags on s and flattens failures into one error
func ValidateStruct(s interface{}) error {
	err := structValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// ValidateEmail validates email address format according to RFC 5322.
// Returns nil if valid, or an appropriate error.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if email == "" {
		return ErrEmptyInput
	}

	// RFC 5321 specifies max email length of 254 characters
	if utf8.RuneCountInString(email) > 254 {
		return ErrInputTooLong
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateDomain validates domain name format against DNS standards.
// Returns nil if valid, or an appropriate error.
func ValidateDomain(domain string) error {
	domain = strings.TrimSpace(strings.ToLower(domain))

	if domain == "" {
		return ErrEmptyInput
	}

	// RFC 1035 specifies max domain length of 253 characters
	if len(domain) > 253 {
		return ErrInputTooLong
	}

	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	return nil
}

// ValidateSourceLocation accepts a local file path or a blob:// key
func ValidateSourceLocation(source string) error {
	if strings.TrimSpace(source) == "" {
		return ErrEmptyInput
	}
	if len(source) > MaxSourceLength {
		return ErrInputTooLong
	}
	if strings.ContainsFunc(source, func(r rune) bool { return r < 32 || r == 127 }) {
		return ErrInvalidCharacter
	}
	if strings.HasPrefix(source, BlobScheme) {
		key := strings.TrimPrefix(source, BlobScheme)
		if key == "" || strings.HasPrefix(key, "/") {
			return ErrInvalidSource
		}
		for _, seg := range strings.Split(key, "/") {
			if seg == "" || seg == "." || seg == ".." {
				return ErrInvalidSource
			}
		}
		return nil
	}
	if strings.Contains(source, "://") {
		return ErrInvalidSource
	}
	return nil
}

// Pagination constants
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ValidatePagination validates and sanitizes pagination parameters.
// Returns sanitized limit and offset values.
func ValidatePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// SanitizeFilename makes an attachment filename safe to embed in a blob key.
// Control characters and invalid UTF-8 are dropped first, then path
// separators and parent-directory sequences become underscores. The result
// never contains "/", "\\" or "..", and may be empty.
func SanitizeFilename(filename string) string {
	// Remove control characters (ASCII 0-31 and 127), null bytes included
	filename = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == utf8.RuneError {
			return -1
		}
		return r
	}, filename)

	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")

	filename = strings.TrimSpace(filename)

	// Blob keys must not contain "." segments
	if filename == "." {
		return ""
	}

	// Limit length to 255 bytes (common filesystem limit) on a rune boundary
	if len(filename) > 255 {
		cut := 255
		for cut > 0 && !utf8.RuneStart(filename[cut]) {
			cut--
		}
		filename = filename[:cut]
	}

	return filename
}

// SanitizeString removes potentially dangerous characters and enforces length limits.
// Removes control characters and trims whitespace.
func SanitizeString(input string, maxLength int) string {
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)

	input = strings.TrimSpace(input)

	if maxLength > 0 && utf8.RuneCountInString(input) > maxLength {
		runes := []rune(input)
		input = string(runes[:maxLength])
	}

	return input
}
