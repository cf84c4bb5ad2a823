// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package download provisions model artifacts into the local models
// directory.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/localai/cmd/localai/internal/infra/process"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
	"github.com/AleutianAI/localai/cmd/localai/internal/telemetry"
	"github.com/AleutianAI/localai/cmd/localai/internal/util"
)

// DefaultRetryDelay is the flat pause between failed attempts.
const DefaultRetryDelay = time.Second

// Outcome is the result of one Fetch call.
type Outcome struct {
	// ID correlates log lines and spans for this request.
	ID string `json:"id"`

	// Model is the requested identifier.
	Model string `json:"model"`

	// Success is true when the artifact is present at Path.
	Success bool `json:"success"`

	// Path is the local artifact path. Empty unless Success is true.
	Path string `json:"path,omitempty"`

	// Attempts is the number of remote fetches made. Zero when the file was
	// already present.
	Attempts int `json:"attempts"`

	// Cached is true when no fetch was needed.
	Cached bool `json:"cached"`

	// Elapsed is the wall-clock time of the call including lock waits.
	Elapsed time.Duration `json:"elapsed"`

	// State is the terminal state of the attempt loop.
	State util.AttemptState `json:"-"`

	// Err is the last fetch error when Success is false.
	Err error `json:"-"`
}

// Options configures a Downloader.
type Options struct {
	// ModelsDir is the flat directory artifacts are stored in.
	ModelsDir string

	// RetryDelay is the pause between failed attempts. Default 1s.
	RetryDelay time.Duration

	// LockTimeout bounds the wait for another download of the same file.
	// Zero means try once.
	LockTimeout time.Duration

	Logger *slog.Logger

	// Wait replaces util.Wait, for tests.
	Wait util.WaitFunc
}

// Downloader makes a registered model present on local disk.
//
// # Description
//
// Fetch is idempotent: an artifact already in ModelsDir is never fetched
// again. Transfers of the same file are serialised both inside the process
// (a per-path slot) and across processes (a flock on a sibling lock file),
// so the existence check and the transfer happen as one step.
//
// # Thread Safety
//
// Safe for concurrent use.
type Downloader struct {
	registry    *registry.Registry
	fetcher     Fetcher
	modelsDir   string
	retryDelay  time.Duration
	lockTimeout time.Duration
	logger      *slog.Logger
	wait        util.WaitFunc

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// New creates a Downloader.
func New(reg *registry.Registry, fetcher Fetcher, opts Options) *Downloader {
	if opts.ModelsDir == "" {
		opts.ModelsDir = "models"
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Wait == nil {
		opts.Wait = util.Wait
	}
	return &Downloader{
		registry:    reg,
		fetcher:     fetcher,
		modelsDir:   opts.ModelsDir,
		retryDelay:  opts.RetryDelay,
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger,
		wait:        opts.Wait,
		slots:       make(map[string]chan struct{}),
	}
}

// Fetch ensures the artifact for id is present locally.
//
// # Description
//
// Looks id up in the registry, takes the per-path lock, checks once for an
// existing file, and otherwise calls the Fetcher up to attempts times with
// a flat RetryDelay between failures. Each failure is logged as a warning
// naming the attempt; exhaustion is logged as an error.
//
// # Inputs
//
//   - ctx: Cancels lock waits, transfers and retry delays.
//   - id: Registry identifier.
//   - attempts: Maximum fetches. Values below 1 are treated as 1.
//
// # Outputs
//
//   - Outcome: Success, Path and Attempts. Exhaustion is Success=false with
//     a nil error.
//   - error: *registry.UnknownModelError before any file or network
//     operation; ctx.Err() on cancellation; a lock or directory error.
//
// # Example
//
//	out, err := dl.Fetch(ctx, "qwen3-4b", 3)
//	if err != nil {
//	    return err
//	}
//	if !out.Success {
//	    return fmt.Errorf("download of %s failed after %d attempts", out.Model, out.Attempts)
//	}
func (d *Downloader) Fetch(ctx context.Context, id string, attempts int) (Outcome, error) {
	start := time.Now()
	out := Outcome{ID: uuid.NewString(), Model: id, State: util.StateIdle}

	desc, err := d.registry.Lookup(id)
	if err != nil {
		return out, err
	}
	if attempts < 1 {
		attempts = 1
	}

	ctx, span := tracer.Start(ctx, "download.Fetch", trace.WithAttributes(
		attribute.String("download.id", out.ID),
		attribute.String("download.model", id),
		attribute.String("download.repo", desc.Repo),
		attribute.Int("download.max_attempts", attempts),
	))
	defer span.End()

	logger := d.logger.With("download_id", out.ID, "model", id)
	target := filepath.Join(d.modelsDir, desc.File)

	finish := func(o Outcome, err error) (Outcome, error) {
		o.Elapsed = time.Since(start)
		if !o.Success {
			o.Path = ""
		}
		if err != nil && o.State != util.StateIdle && !o.State.Terminal() {
			logger.Warn("Download interrupted", "state", o.State.String(), "attempts", o.Attempts, "error", err)
		}
		span.SetAttributes(
			attribute.Bool("download.success", o.Success),
			attribute.Int("download.attempts", o.Attempts),
		)
		if err != nil {
			telemetry.RecordError(span, err)
		} else if !o.Success {
			telemetry.RecordError(span, o.Err)
		} else {
			telemetry.SetSpanOK(span)
		}
		return o, err
	}

	if err := os.MkdirAll(d.modelsDir, 0o755); err != nil {
		return finish(out, fmt.Errorf("failed to create models directory %s: %w", d.modelsDir, err))
	}

	release, err := d.lock(ctx, target)
	if err != nil {
		return finish(out, err)
	}
	defer release()

	if fileExists(target) {
		logger.Info("Model already present", "path", target)
		out.Path = target
		out.Success = true
		out.Cached = true
		out.State = util.StateSuccess
		recordOutcome(ctx, id, "cached")
		return finish(out, nil)
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		out.State = util.StateAttempting
		out.Attempts = attempt
		logger.Info("Downloading model", "repo", desc.Repo, "file", desc.File, "attempt", attempt, "max_attempts", attempts)

		path, ferr := d.fetcher.Fetch(ctx, desc.Repo, desc.File, d.modelsDir)
		recordAttempt(ctx, id, ferr != nil)
		if ferr == nil {
			out.Path = path
			out.Success = true
			out.Err = nil
			out.State = util.StateSuccess
			logger.Info("Model downloaded", "path", path, "attempts", attempt)
			recordOutcome(ctx, id, "downloaded")
			return finish(out, nil)
		}
		if ctx.Err() != nil {
			return finish(out, ctx.Err())
		}

		out.Err = ferr
		logger.Warn("Download attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", ferr)

		if attempt < attempts {
			out.State = util.StateRetrying
			if werr := d.wait(ctx, d.retryDelay); werr != nil {
				return finish(out, werr)
			}
		}
	}

	out.State = util.StateExhaustedOrTimedOut
	logger.Error("Failed to download model",
		"attempts", attempts,
		"error", out.Err)
	recordOutcome(ctx, id, "exhausted")
	return finish(out, nil)
}

// lock takes the in-process slot for path and then the cross-process file
// lock. The returned func releases both.
func (d *Downloader) lock(ctx context.Context, path string) (func(), error) {
	d.mu.Lock()
	slot, ok := d.slots[path]
	if !ok {
		slot = make(chan struct{}, 1)
		d.slots[path] = slot
	}
	d.mu.Unlock()

	// One deadline covers both the slot wait and the file lock.
	deadline := time.Now().Add(d.lockTimeout)
	var timeout <-chan time.Time
	if d.lockTimeout > 0 {
		timer := time.NewTimer(d.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	} else {
		expired := make(chan time.Time)
		close(expired)
		timeout = expired
	}

	select {
	case slot <- struct{}{}:
	default:
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("%w after %v: %s is being downloaded", process.ErrLockTimeout, d.lockTimeout, filepath.Base(path))
		}
	}

	fl := process.NewFileLock(lockPath(path))
	if err := fl.Acquire(ctx, time.Until(deadline)); err != nil {
		<-slot
		return nil, err
	}
	return func() {
		if err := fl.Release(); err != nil {
			d.logger.Warn("Failed to release download lock", "path", fl.Path(), "error", err)
		}
		<-slot
	}, nil
}

// lockPath returns the hidden sibling lock file for an artifact path.
func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
