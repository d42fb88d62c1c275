// Package lock guards an archive source against concurrent ingestion jobs.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrNotHeld is returned when releasing a lock this process does not own
var ErrNotHeld = errors.New("lock not held")

// DefaultTTL bounds how long a crashed holder can block a source
const DefaultTTL = 24 * time.Hour

// Locker grants exclusive ownership of a key
type Locker interface {
	// TryAcquire takes the key without waiting. It reports false when
	// another holder owns it.
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// SourceKey derives the lock key of an archive source location
func SourceKey(source string) string {
	h := sha256.New()
	h.Write([]byte("source:"))
	h.Write([]byte(source))
	return "evidence-ingest:lock:" + hex.EncodeToString(h.Sum(nil)[:8])
}

// Memory is a process-local Locker
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process Locker
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryAcquire takes key if nobody holds it
func (m *Memory) TryAcquire(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

// Release frees key
func (m *Memory) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; !ok {
		return ErrNotHeld
	}
	delete(m.held, key)
	return nil
}
