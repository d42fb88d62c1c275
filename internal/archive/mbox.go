package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	mboxlib "github.com/emersion/go-mbox"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
)

// countMessages frames every message in an mbox stream without parsing it
func countMessages(ctx context.Context, r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		msg, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if _, err := io.Copy(io.Discard, msg); err != nil {
			return n, err
		}
		n++
	}
}

// walkFolder parses and emits every message of one mbox stream.
// Unreadable messages become node error entries and the walk continues.
// A framing failure ends the folder with a single folder-level entry.
func walkFolder(ctx context.Context, folder string, r io.Reader, opts Options, fn WalkFunc) error {
	reader := mboxlib.NewReader(r)

	for offset := 0; ; offset++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fn(Entry{
				FolderPath: folder,
				Offset:     -1,
				Err:        apperrors.NewNodeError(folder, -1, fmt.Errorf("framing lost at message %d: %w", offset, err)),
			})
		}

		entry := Entry{FolderPath: folder, Offset: offset}
		raw, err := readRaw(msgReader, opts.MaxMessageSize)
		if err != nil {
			entry.Err = apperrors.NewNodeError(folder, offset, err)
		} else if msg, err := parseMessage(raw); err != nil {
			entry.Err = apperrors.NewNodeError(folder, offset, err)
		} else {
			entry.Message = msg
		}

		if err := fn(entry); err != nil {
			return err
		}
	}
}

// readRaw reads one framed message, enforcing the size limit
func readRaw(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, limit)
	}
	return raw, nil
}

// fileReader reads a single mbox file as one folder
type fileReader struct {
	f      *os.File
	size   int64
	folder string
	opts   Options
}

func newFileReader(f *os.File, size int64, folder string, opts Options) *fileReader {
	return &fileReader{f: f, size: size, folder: folder, opts: opts}
}

func (r *fileReader) section() io.Reader {
	return io.NewSectionReader(r.f, 0, r.size)
}

// Folders implements Reader
func (r *fileReader) Folders(ctx context.Context) ([]Folder, error) {
	n, err := countMessages(ctx, r.section())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	folder := Folder{Path: r.folder, MessageCount: n}
	if err != nil {
		folder.Err = apperrors.NewNodeError(r.folder, -1, err)
	}
	return []Folder{folder}, nil
}

// Walk implements Reader
func (r *fileReader) Walk(ctx context.Context, fn WalkFunc) error {
	return walkFolder(ctx, r.folder, r.section(), r.opts, fn)
}

// Close implements Reader
func (r *fileReader) Close() error {
	return r.f.Close()
}
