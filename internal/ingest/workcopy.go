package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
)

// workingCopy is a private local copy of the source archive
type workingCopy struct {
	Path   string
	Size   int64
	SHA256 string
}

// copySource streams the source into the work directory. Local paths are
// opened read-only; blob:// sources are read from the blob store. Any
// failure is fatal for the job.
func (s *Service) copySource(ctx context.Context, source string) (*workingCopy, error) {
	src, name, err := s.openSource(ctx, source)
	if err != nil {
		return nil, apperrors.NewFatalArchiveError(source, err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.opts.WorkDir, 0o700); err != nil {
		return nil, apperrors.NewFatalArchiveError(source, fmt.Errorf("create work dir: %w", err))
	}
	dst := filepath.Join(s.opts.WorkDir, "archive-"+uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, apperrors.NewFatalArchiveError(source, fmt.Errorf("create working copy: %w", err))
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: src})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return nil, apperrors.NewFatalArchiveError(source, fmt.Errorf("copy archive: %w", err))
	}

	return &workingCopy{Path: dst, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

func (s *Service) openSource(ctx context.Context, source string) (io.ReadCloser, string, error) {
	if key, ok := strings.CutPrefix(source, validator.BlobScheme); ok {
		rc, err := s.blobs.Get(ctx, key)
		if err != nil {
			return nil, "", err
		}
		return rc, path.Base(key), nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, "", err
	}
	return f, source, nil
}

// release removes the working copy
func (s *Service) release(wc *workingCopy) {
	if wc == nil {
		return
	}
	if err := os.Remove(wc.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove working copy", slog.String("path", wc.Path), slog.Any("error", err))
	}
}

// ctxReader stops a long copy when the job is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
