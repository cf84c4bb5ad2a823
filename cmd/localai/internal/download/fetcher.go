// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// ErrArtifactNotFound is returned by a Fetcher when the remote source has no
// such file. Retrying will not help but the Downloader still honours the
// attempt budget.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrStalled is returned when a transfer receives no data for longer than
// the configured stall limit.
var ErrStalled = errors.New("download stalled")

// PartialSuffix marks an in-progress transfer next to its final path.
const PartialSuffix = ".partial"

// Fetcher transfers one artifact into a local directory.
//
// # Description
//
// Implementations place the artifact at filepath.Join(destDir, file) only
// once it is complete, so a file at that path is always whole. They are
// called with the per-path lock already held.
//
// # Outputs
//
//   - string: Final local path.
//   - error: ErrArtifactNotFound (wrapped) or any transport / I/O error.
type Fetcher interface {
	Fetch(ctx context.Context, repo, file, destDir string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, repo, file, destDir string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, repo, file, destDir string) (string, error) {
	return f(ctx, repo, file, destDir)
}

// partialFile appends a stream to <final>.partial and renames it on success.
type partialFile struct {
	final    string
	bufSize  int
	logger   *slog.Logger
	progress rate.Sometimes
}

func newPartialFile(destDir, file string, bufSize int, logger *slog.Logger) *partialFile {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &partialFile{
		final:    filepath.Join(destDir, file),
		bufSize:  bufSize,
		logger:   logger,
		progress: rate.Sometimes{Interval: 5 * time.Second},
	}
}

func (p *partialFile) path() string {
	return p.final + PartialSuffix
}

// offset returns the size of an existing partial file, or 0.
func (p *partialFile) offset() int64 {
	info, err := os.Stat(p.path())
	if err != nil {
		return 0
	}
	return info.Size()
}

// write copies r into the partial file and renames it into place.
//
// When resume is false any existing partial content is discarded first.
// total is the expected final size or -1 when unknown.
func (p *partialFile) write(ctx context.Context, r io.Reader, resume bool, total int64) (string, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(p.path(), flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("open partial file: %w", err)
	}

	start := int64(0)
	if resume {
		if info, err := f.Stat(); err == nil {
			start = info.Size()
		}
	}

	cw := &countingWriter{w: f, n: start}
	buf := make([]byte, p.bufSize)
	_, copyErr := io.CopyBuffer(cw, readerFunc(func(b []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(b)
		p.progress.Do(func() {
			p.logger.Info("Download progress",
				"file", filepath.Base(p.final),
				"bytes", cw.n,
				"total", total)
		})
		return n, err
	}), buf)
	closeErr := f.Close()
	if copyErr != nil {
		return "", fmt.Errorf("write %s: %w", p.path(), copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close %s: %w", p.path(), closeErr)
	}
	if total >= 0 && cw.n != total {
		return "", fmt.Errorf("short transfer for %s: got %d of %d bytes", filepath.Base(p.final), cw.n, total)
	}

	if err := os.Rename(p.path(), p.final); err != nil {
		return "", fmt.Errorf("rename %s: %w", p.path(), err)
	}
	return p.final, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) { return f(b) }
