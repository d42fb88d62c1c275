package ingest

import (
	"os"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/dedup"
	"github.com/welldanyogia/evidence-ingest/internal/normalize"
)

// Default tuning
const (
	DefaultBatchSize            = 100
	DefaultStorageRetryAttempts = 3
	DefaultRetryInitialInterval = 200 * time.Millisecond
	DefaultMaxMessageSize       = 150 * 1024 * 1024
)

// Options tune a Service
type Options struct {
	BatchSize            int
	InlineBodyLimit      int
	AttachmentWorkers    int
	StorageRetryAttempts int
	RetryInitialInterval time.Duration
	MaxMessageSize       int64
	// WorkDir receives the working copy of each archive
	WorkDir string
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		BatchSize:            DefaultBatchSize,
		InlineBodyLimit:      normalize.DefaultInlineBodyLimit,
		AttachmentWorkers:    dedup.DefaultConcurrency,
		StorageRetryAttempts: DefaultStorageRetryAttempts,
		RetryInitialInterval: DefaultRetryInitialInterval,
		MaxMessageSize:       DefaultMaxMessageSize,
		WorkDir:              os.TempDir(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.InlineBodyLimit <= 0 {
		o.InlineBodyLimit = d.InlineBodyLimit
	}
	if o.AttachmentWorkers <= 0 {
		o.AttachmentWorkers = d.AttachmentWorkers
	}
	if o.StorageRetryAttempts < 0 {
		o.StorageRetryAttempts = 0
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = d.RetryInitialInterval
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WorkDir == "" {
		o.WorkDir = d.WorkDir
	}
	return o
}
