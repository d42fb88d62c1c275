package notify

import (
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

const flushTimeout = 2 * time.Second

// SentryReporter sends fatal job errors to Sentry
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter creates a reporter with its own client so tests and
// multiple services never share the global hub
func NewSentryReporter(opts sentry.ClientOptions) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// ReportFatal captures err tagged with the job and its source
func (r *SentryReporter) ReportFatal(jobID uint, source string, err error) {
	if r == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", strconv.FormatUint(uint64(jobID), 10))
		scope.SetContext("archive", sentry.Context{"source": source})
		scope.SetLevel(sentry.LevelError)
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events
func (r *SentryReporter) Flush() bool {
	if r == nil {
		return true
	}
	return r.hub.Flush(flushTimeout)
}
