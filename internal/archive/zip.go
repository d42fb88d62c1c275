package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
)

// mailboxExtensions are member suffixes that always hold an mbox folder
var mailboxExtensions = map[string]bool{
	".mbox": true,
	".mbx":  true,
	".mbs":  true,
}

type zipMember struct {
	folder string
	file   *zip.File
}

// zipReader reads a ZIP export whose members are mbox folders
type zipReader struct {
	f       *os.File
	members []zipMember
	opts    Options
}

func newZipReader(f *os.File, zr *zip.Reader, opts Options) (*zipReader, error) {
	r := &zipReader{f: f, opts: opts}
	seen := make(map[string]bool)

	for _, file := range zr.File {
		if file.FileInfo().IsDir() {
			continue
		}
		folder, ok := mailboxFolderPath(file.Name)
		if !ok {
			continue
		}
		if path.Ext(path.Base(file.Name)) == "" && !looksLikeMbox(file) {
			if opts.Logger != nil {
				opts.Logger.Debug("skipping non-mailbox zip member", slog.String("member", file.Name))
			}
			continue
		}
		if seen[folder] {
			// Keep folder paths unique so (folder, offset) stays a key
			folder = file.Name
		}
		seen[folder] = true
		r.members = append(r.members, zipMember{folder: folder, file: file})
	}

	if len(r.members) == 0 {
		return nil, ErrNoMailboxMembers
	}

	sort.Slice(r.members, func(i, j int) bool {
		return r.members[i].folder < r.members[j].folder
	})
	return r, nil
}

// mailboxFolderPath maps a member name to a folder path.
// Handles Thunderbird ".sbd" hierarchies and Apple Mail "X.mbox/mbox" bundles.
func mailboxFolderPath(name string) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if strings.HasPrefix(name, "__MACOSX/") {
		return "", false
	}

	base := path.Base(name)
	dir := path.Dir(name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}

	var folder string
	switch ext := strings.ToLower(path.Ext(base)); {
	case base == "mbox" && strings.HasSuffix(strings.ToLower(dir), ".mbox"):
		folder = dir
	case mailboxExtensions[ext]:
		folder = strings.TrimSuffix(name, path.Ext(base))
	case ext == "":
		folder = name
	default:
		return "", false
	}

	segments := strings.Split(folder, "/")
	for i, seg := range segments {
		seg = strings.TrimSuffix(seg, ".sbd")
		if mailboxExtensions[strings.ToLower(path.Ext(seg))] {
			seg = strings.TrimSuffix(seg, path.Ext(seg))
		}
		segments[i] = seg
	}
	folder = strings.Join(segments, "/")
	if folder == "" || folder == "." {
		return "", false
	}
	return folder, true
}

// looksLikeMbox sniffs an extensionless member for an mbox From_ line
func looksLikeMbox(file *zip.File) bool {
	rc, err := file.Open()
	if err != nil {
		// Let the walk report it as a node error
		return true
	}
	defer rc.Close()

	head := make([]byte, 5)
	n, _ := io.ReadFull(rc, head)
	return n == 0 || (n == len(head) && bytes.Equal(head, []byte("From ")))
}

// Folders implements Reader
func (r *zipReader) Folders(ctx context.Context) ([]Folder, error) {
	folders := make([]Folder, 0, len(r.members))
	for _, m := range r.members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		folder := Folder{Path: m.folder}
		rc, err := m.file.Open()
		if err != nil {
			folder.Err = apperrors.NewNodeError(m.folder, -1, err)
			folders = append(folders, folder)
			continue
		}
		n, err := countMessages(ctx, rc)
		rc.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		folder.MessageCount = n
		if err != nil {
			folder.Err = apperrors.NewNodeError(m.folder, -1, err)
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// Walk implements Reader
func (r *zipReader) Walk(ctx context.Context, fn WalkFunc) error {
	for _, m := range r.members {
		if err := ctx.Err(); err != nil {
			return err
		}

		rc, err := m.file.Open()
		if err != nil {
			if err := fn(Entry{FolderPath: m.folder, Offset: -1, Err: apperrors.NewNodeError(m.folder, -1, err)}); err != nil {
				return err
			}
			continue
		}

		err = walkFolder(ctx, m.folder, rc, r.opts, fn)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close implements Reader
func (r *zipReader) Close() error {
	return r.f.Close()
}
