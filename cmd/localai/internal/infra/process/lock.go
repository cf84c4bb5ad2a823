// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process provides cross-process file locks for model downloads and
// service starts.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/localai/cmd/localai/internal/util"
)

// ErrLockTimeout is returned when Acquire gives up waiting for the holder.
var ErrLockTimeout = errors.New("lock timeout")

const (
	minPoll = 10 * time.Millisecond
	maxPoll = 250 * time.Millisecond
)

// Locker is an exclusive lock that may be waited on.
type Locker interface {
	// Acquire blocks until the lock is held, ctx is done or timeout passes.
	Acquire(ctx context.Context, timeout time.Duration) error

	// Release drops the lock. Safe to call when not held.
	Release() error
}

// FileLock is an exclusive lock on a single path: flock(2) on unix,
// LockFileEx on Windows.
//
// # Description
//
// Acquire polls a non-blocking lock call with a short doubling interval so that
// the wait can honour both a timeout and context cancellation. While held,
// the holder's PID is written into the lock file to help diagnose stuck
// locks.
//
// # Thread Safety
//
// A FileLock value is NOT safe for concurrent use. Both lock calls are
// per open file, so two FileLocks on the same path in one process do
// exclude each other.
//
// # Limitations
//
//   - Advisory on unix; processes that do not take the lock are not blocked
//   - Network filesystems may not honour flock
//   - On Windows the holder PID cannot be read while the lock is held
//
// # Example
//
//	lock := process.NewFileLock(filepath.Join(dir, ".model.gguf.lock"))
//	if err := lock.Acquire(ctx, 30*time.Minute); err != nil {
//	    return err
//	}
//	defer lock.Release()
type FileLock struct {
	path string
	file *os.File
	held bool
	wait util.WaitFunc
}

// NewFileLock creates a lock for path. The file is created on Acquire.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, wait: util.Wait}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock.
//
// # Inputs
//
//   - ctx: Cancels the wait.
//   - timeout: Upper bound on the wait. Zero or negative tries exactly once.
//
// # Outputs
//
//   - error: nil when held; ErrLockTimeout (wrapped, with the holder PID
//     when known); ctx.Err() on cancellation; or an I/O error.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}

	deadline := time.Now().Add(timeout)
	poll := minPoll
	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to lock %s: %w", l.path, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			_ = f.Close()
			if pid := readPID(l.path); pid > 0 {
				return fmt.Errorf("%w after %v: %s held by PID %d", ErrLockTimeout, timeout, l.path, pid)
			}
			return fmt.Errorf("%w after %v: %s", ErrLockTimeout, timeout, l.path)
		}
		if werr := l.wait(ctx, util.CapToDeadline(poll, time.Now(), deadline)); werr != nil {
			_ = f.Close()
			return werr
		}
		if poll < maxPoll {
			poll *= 2
		}
	}

	l.file = f
	l.held = true
	_ = l.writePID()
	return nil
}

// Release drops the lock and closes the file. The lock file stays on disk.
func (l *FileLock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	err := unlock(l.file)
	_ = l.file.Close()
	l.file = nil
	l.held = false
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}

// IsHeld reports whether this value holds the lock.
func (l *FileLock) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID recorded in the lock file, or 0.
func (l *FileLock) HolderPID() int {
	return readPID(l.path)
}

func (l *FileLock) writePID() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	_, err := l.file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

var _ Locker = (*FileLock)(nil)
