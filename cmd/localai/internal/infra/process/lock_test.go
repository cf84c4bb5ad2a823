// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.lock")
	lock := NewFileLock(path)

	if err := lock.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !lock.IsHeld() {
		t.Error("IsHeld() = false after Acquire")
	}
	if got := lock.HolderPID(); got != os.Getpid() {
		t.Errorf("HolderPID() = %d, want %d", got, os.Getpid())
	}

	// Acquire on a held lock is a no-op.
	if err := lock.Acquire(context.Background(), 0); err != nil {
		t.Errorf("second Acquire() error = %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if lock.IsHeld() {
		t.Error("IsHeld() = true after Release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("double Release() error = %v", err)
	}
}

func TestFileLock_TimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.lock")
	holder := NewFileLock(path)
	if err := holder.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("holder Acquire() error = %v", err)
	}
	defer holder.Release()

	waiter := NewFileLock(path)
	start := time.Now()
	err := waiter.Acquire(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("gave up after %v, want >= 100ms", elapsed)
	}
	if waiter.IsHeld() {
		t.Error("waiter holds the lock after timeout")
	}
}

func TestFileLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.lock")
	holder := NewFileLock(path)
	if err := holder.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("holder Acquire() error = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		holder.Release()
	}()

	waiter := NewFileLock(path)
	if err := waiter.Acquire(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("waiter Acquire() error = %v", err)
	}
	waiter.Release()
}

func TestFileLock_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.lock")
	holder := NewFileLock(path)
	if err := holder.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("holder Acquire() error = %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewFileLock(path).Acquire(ctx, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestFileLock_MissingDirectory(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "missing", "e.lock"))
	if err := lock.Acquire(context.Background(), time.Second); err == nil {
		t.Fatal("Acquire() succeeded in a missing directory")
	}
}
