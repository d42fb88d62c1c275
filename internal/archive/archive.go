// Package archive reads offline mailbox exports as a tree of folders,
// messages and attachments. The archive file is never opened for writing.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
)

// Format errors
var (
	ErrUnknownFormat    = errors.New("unrecognized archive format")
	ErrEmptyMessage     = errors.New("message has no content")
	ErrMalformedHeader  = errors.New("message does not start with a header field")
	ErrMessageTooLarge  = errors.New("message exceeds size limit")
	ErrNoMailboxMembers = errors.New("zip contains no mailbox members")
)

var zipMagic = []byte("PK\x03\x04")
var emptyZipMagic = []byte("PK\x05\x06")

// Priority is the archive's native importance value (MAPI scale)
type Priority int

const (
	PriorityUnknown Priority = -1
	PriorityLow     Priority = 0
	PriorityNormal  Priority = 1
	PriorityHigh    Priority = 2
)

// Folder is one mailbox folder found by the pre-scan
type Folder struct {
	Path         string
	MessageCount int
	Err          error
}

// Entry is one step of a walk. Exactly one of Message and Err is set.
// Offset is the zero-based position of the message within its folder,
// or -1 for a folder-level failure.
type Entry struct {
	FolderPath string
	Offset     int
	Message    Message
	Err        error
}

// WalkFunc receives entries in traversal order. Returning an error stops the walk.
type WalkFunc func(Entry) error

// Reader walks an opened archive
type Reader interface {
	// Folders counts messages per folder without parsing them
	Folders(ctx context.Context) ([]Folder, error)
	// Walk visits every folder in sorted path order and every message in file order
	Walk(ctx context.Context, fn WalkFunc) error
	Close() error
}

// Message is a parsed message handle
type Message interface {
	// Header returns the first raw value of a transport header
	Header(name string) string
	// HeaderValues returns every raw value of a transport header in order
	HeaderValues(name string) []string
	// DecodedHeader returns the first value with RFC 2047 words decoded
	DecodedHeader(name string) string
	// RawHeaders returns the verbatim header block
	RawHeaders() string
	TextBody() string
	HTMLBody() string
	Priority() Priority
	Size() int64
	// AttachmentCount counts attachment parts without opening them
	AttachmentCount() int
	Attachments() []Attachment
}

// Attachment is a lazily opened attachment payload
type Attachment interface {
	Filename() string
	ContentType() string
	Inline() bool
	Open() (io.ReadCloser, error)
}

// Options tune archive reading
type Options struct {
	// MaxMessageSize rejects larger messages as node errors. Zero disables the limit.
	MaxMessageSize int64
	// SourceName names a single-mailbox file's folder when path is a copy
	SourceName string
	Logger     *slog.Logger
}

// Open detects the archive format of the local file at path.
// Any failure here is fatal for the job.
func Open(path string, opts Options) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewFatalArchiveError(path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.NewFatalArchiveError(path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, apperrors.NewFatalArchiveError(path, fmt.Errorf("is a directory"))
	}

	magic := make([]byte, 5)
	n, err := io.ReadFull(f, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, apperrors.NewFatalArchiveError(path, err)
	}
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, zipMagic) || bytes.HasPrefix(magic, emptyZipMagic):
		zr, err := zip.NewReader(f, info.Size())
		if err != nil {
			f.Close()
			return nil, apperrors.NewFatalArchiveError(path, err)
		}
		r, err := newZipReader(f, zr, opts)
		if err != nil {
			f.Close()
			return nil, apperrors.NewFatalArchiveError(path, err)
		}
		return r, nil

	case n == 0 || bytes.HasPrefix(magic, []byte("From ")):
		name := path
		if opts.SourceName != "" {
			name = opts.SourceName
		}
		return newFileReader(f, info.Size(), folderName(name), opts), nil

	default:
		f.Close()
		return nil, apperrors.NewFatalArchiveError(path, ErrUnknownFormat)
	}
}

// folderName derives a folder path from a mailbox file name
func folderName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Summary totals a pre-scan
func Summary(folders []Folder) (messages int, failed int) {
	for _, f := range folders {
		messages += f.MessageCount
		if f.Err != nil {
			failed++
		}
	}
	return messages, failed
}
