package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Security errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrBlobNotFound  = errors.New("blob not found")
	ErrInvalidKey    = errors.New("invalid blob key")
)

// BlobStore is a write-once key/value store for evidence payloads
type BlobStore interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// localStorage implements BlobStore using local filesystem
type localStorage struct {
	basePath string
}

// NewLocalStorage creates a new localStorage instance
func NewLocalStorage(basePath string) (BlobStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &localStorage{basePath: basePath}, nil
}

// ValidateKey rejects keys that could escape the store.
// Keys are slash separated and relative.
func ValidateKey(key string) error {
	if key == "" || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrPathTraversal
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return ErrPathTraversal
		}
		if seg == "" || seg == "." {
			return ErrInvalidKey
		}
	}
	return nil
}

// validatePath ensures path is within basePath (prevents traversal)
func (s *localStorage) validatePath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	// Security check: ensure file is within allowed directory
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// Put stores content under key. The write lands in a temporary file that is
// renamed into place so readers never observe a partial blob.
func (s *localStorage) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.validatePath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit file: %w", err)
	}

	return nil
}

// Get retrieves a blob by its key
func (s *localStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := s.validatePath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes a blob by its key
func (s *localStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := s.validatePath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists reports whether a blob is stored under key
func (s *localStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := s.validatePath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// scopedStore prefixes every key with a namespace
type scopedStore struct {
	inner  BlobStore
	prefix string
}

// Scoped returns a BlobStore whose keys live under prefix in inner
func Scoped(inner BlobStore, prefix string) BlobStore {
	return &scopedStore{inner: inner, prefix: strings.Trim(prefix, "/")}
}

// JobNamespace is the blob prefix owned by one ingestion job
func JobNamespace(jobID uint) string {
	return fmt.Sprintf("jobs/%d", jobID)
}

func (s *scopedStore) key(k string) string {
	return path.Join(s.prefix, k)
}

func (s *scopedStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.inner.Put(ctx, s.key(key), content, contentType)
}

func (s *scopedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, s.key(key))
}

func (s *scopedStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.inner.Delete(ctx, s.key(key))
}

func (s *scopedStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	return s.inner.Exists(ctx, s.key(key))
}
