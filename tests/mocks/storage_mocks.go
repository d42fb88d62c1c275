package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore implements storage.BlobStore
type MockBlobStore struct {
	mock.Mock
}

// Put stores content under key
func (m *MockBlobStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	args := m.Called(ctx, key, content, contentType)
	return args.Error(0)
}

// Get opens the blob stored under key
func (m *MockBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// Delete removes the blob stored under key
func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// Exists reports whether key holds a blob
func (m *MockBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
