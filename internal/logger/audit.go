// Package logger provides structured and audit logging for the ingestion engine.
package logger

import (
	"log/slog"
	"strings"
	"time"
)

// AuditLogger records events that must be reconstructible when the
// provenance of an evidence record is challenged. A nil *AuditLogger
// discards everything.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLoggerWithHandler creates an AuditLogger with a custom handler.
func NewAuditLoggerWithHandler(handler slog.Handler) *AuditLogger {
	return &AuditLogger{
		logger: slog.New(handler),
	}
}

// NewAuditLoggerFrom wraps an existing logger.
func NewAuditLoggerFrom(l *slog.Logger) *AuditLogger {
	if l == nil {
		return nil
	}
	return NewAuditLoggerWithHandler(l.Handler().WithAttrs([]slog.Attr{slog.String("channel", "audit")}))
}

// JobTransition logs a job status change.
func (a *AuditLogger) JobTransition(jobID uint, from, to, reason string) {
	if a == nil {
		return
	}
	a.logger.Info("job_transition",
		slog.String("event_type", "job_transition"),
		slog.Uint64("job_id", uint64(jobID)),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// NodeSkipped logs a folder or message that could not be read.
func (a *AuditLogger) NodeSkipped(jobID uint, folderPath string, offset int, reason string) {
	if a == nil {
		return
	}
	a.logger.Warn("node_skipped",
		slog.String("event_type", "node_skipped"),
		slog.Uint64("job_id", uint64(jobID)),
		slog.String("folder_path", folderPath),
		slog.Int("offset", offset),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// AttachmentFailed logs an attachment that produced no blob.
func (a *AuditLogger) AttachmentFailed(jobID uint, folderPath string, offset, index int, reason string) {
	if a == nil {
		return
	}
	a.logger.Warn("attachment_failed",
		slog.String("event_type", "attachment_failed"),
		slog.Uint64("job_id", uint64(jobID)),
		slog.String("folder_path", folderPath),
		slog.Int("offset", offset),
		slog.Int("attachment_index", index),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// FilenameSanitized logs an attachment whose stored name differs from the archive's.
func (a *AuditLogger) FilenameSanitized(original, sanitized string) {
	if a == nil {
		return
	}
	a.logger.Info("filename_sanitized",
		slog.String("event_type", "filename_sanitized"),
		slog.String("original", original),
		slog.String("sanitized", sanitized),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// ThreadingCycle logs a reply cycle and the root chosen to break it.
func (a *AuditLogger) ThreadingCycle(members []string, root string) {
	if a == nil {
		return
	}
	a.logger.Warn("threading_cycle_detected",
		slog.String("event_type", "threading_cycle"),
		slog.String("members", strings.Join(members, ",")),
		slog.String("root", root),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// InvalidPattern logs a keyword regex that failed to compile.
func (a *AuditLogger) InvalidPattern(keywordID uint, pattern, reason string) {
	if a == nil {
		return
	}
	a.logger.Warn("invalid_keyword_pattern",
		slog.String("event_type", "invalid_pattern"),
		slog.Uint64("keyword_id", uint64(keywordID)),
		slog.String("pattern", pattern),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// AuthFailure logs a failed authentication attempt.
// Never logs the actual credentials.
func (a *AuditLogger) AuthFailure(ip, path, reason string) {
	if a == nil {
		return
	}
	a.logger.Warn("authentication_failure",
		slog.String("event_type", "auth_failure"),
		slog.String("ip", ip),
		slog.String("path", path),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// RateLimitExceeded logs when a client exceeds rate limits.
func (a *AuditLogger) RateLimitExceeded(ip, path string) {
	if a == nil {
		return
	}
	a.logger.Warn("rate_limit_exceeded",
		slog.String("event_type", "rate_limit"),
		slog.String("ip", ip),
		slog.String("path", path),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// InvalidOrigin logs a rejected WebSocket connection due to invalid origin.
func (a *AuditLogger) InvalidOrigin(ip, origin string) {
	if a == nil {
		return
	}
	a.logger.Warn("invalid_origin",
		slog.String("event_type", "invalid_origin"),
		slog.String("ip", ip),
		slog.String("origin", origin),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// Event logs a generic audit event, dropping sensitive keys.
func (a *AuditLogger) Event(eventType string, details map[string]string) {
	if a == nil {
		return
	}
	attrs := []any{
		slog.String("event_type", eventType),
		slog.Time("timestamp", time.Now().UTC()),
	}

	for k, v := range details {
		if isSensitiveKey(k) {
			continue
		}
		attrs = append(attrs, slog.String(k, v))
	}

	a.logger.Info("audit_event", attrs...)
}

// isSensitiveKey checks if a key might contain sensitive data.
func isSensitiveKey(key string) bool {
	sensitiveKeys := map[string]bool{
		"password":      true,
		"api_key":       true,
		"apikey":        true,
		"token":         true,
		"secret":        true,
		"authorization": true,
		"auth":          true,
		"credential":    true,
		"credentials":   true,
		"dsn":           true,
		"cookie":        true,
	}
	return sensitiveKeys[strings.ToLower(key)]
}
