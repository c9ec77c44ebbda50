// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// QueueLocker serializes read-modify-write cycles on the persisted queue.
// Lock blocks until the lease is held or ctx is done.
type QueueLocker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// MutexLocker serializes queue updates within one process
type MutexLocker struct {
	mu sync.Mutex
}

func (m *MutexLocker) Lock(_ context.Context) (func(), error) {
	m.mu.Lock()
	return m.mu.Unlock, nil
}

// FileLocker additionally takes an advisory file lock so processes sharing
// one device store serialize their queue updates.
type FileLocker struct {
	mu         sync.Mutex
	lock       *flock.Flock
	retryDelay time.Duration
}

// NewFileLocker creates a locker on path (typically next to the SQLite file)
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{
		lock:       flock.New(path),
		retryDelay: 25 * time.Millisecond,
	}
}

// Path returns the lock file path
func (f *FileLocker) Path() string { return f.lock.Path() }

func (f *FileLocker) Lock(ctx context.Context) (func(), error) {
	f.mu.Lock()
	locked, err := f.lock.TryLockContext(ctx, f.retryDelay)
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("acquiring queue lock: %w", err)
	}
	if !locked {
		f.mu.Unlock()
		return nil, fmt.Errorf("acquiring queue lock: %s is held", f.lock.Path())
	}
	return func() {
		_ = f.lock.Unlock()
		f.mu.Unlock()
	}, nil
}
