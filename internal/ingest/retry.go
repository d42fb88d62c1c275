package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/cenkalti/backoff/v4"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/storage"
)

// policy builds a fresh bounded exponential backoff
func (s *Service) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval
	b.MaxInterval = 20 * s.opts.RetryInitialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.StorageRetryAttempts)), ctx)
}

// retry runs op until it succeeds, fails permanently or the attempts run out
func (s *Service) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, s.policy(ctx))
}

// permanent errors are not worth retrying
func permanent(err error) bool {
	return errors.Is(err, repository.ErrDuplicateEntry) ||
		errors.Is(err, repository.ErrInvalidInput) ||
		errors.Is(err, storage.ErrInvalidKey) ||
		errors.Is(err, storage.ErrPathTraversal) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryingStore retries transient blob writes. Readers that cannot be
// rewound get a single attempt.
type retryingStore struct {
	storage.BlobStore
	svc *Service
}

func (r *retryingStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	seeker, ok := content.(io.Seeker)
	if !ok {
		return r.BlobStore.Put(ctx, key, content, contentType)
	}
	first := true
	return r.svc.retry(ctx, func() error {
		if !first {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(err)
			}
		}
		first = false
		return r.BlobStore.Put(ctx, key, content, contentType)
	})
}
