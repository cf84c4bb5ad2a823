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
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/localai/cmd/localai/internal/telemetry"
)

// DefaultHubEndpoint is the public Hugging Face Hub.
const DefaultHubEndpoint = "https://huggingface.co"

// HTTPClient is the subset of *http.Client the hub fetcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HubConfig configures a HubFetcher.
type HubConfig struct {
	// Endpoint is the hub base URL. Default DefaultHubEndpoint.
	Endpoint string

	// Revision is the branch or commit to resolve. Default "main".
	Revision string

	// ChunkSize is the copy buffer size in bytes.
	ChunkSize int

	// Timeout is the stall limit: the longest wait for response headers or
	// between two body reads. A transfer that keeps receiving data is never
	// cut off, however long it takes. Zero disables the limit.
	Timeout time.Duration

	// Token authenticates gated repositories. May be nil.
	Token *Token

	// Client overrides the HTTP client. Nil builds one with an instrumented
	// transport.
	Client HTTPClient

	Logger *slog.Logger
}

// HubFetcher downloads files through the Hugging Face Hub resolve API.
//
// # Description
//
// Requests {Endpoint}/{repo}/resolve/{Revision}/{file}. Data is streamed to
// {file}.partial in destDir; if a partial file already exists the request
// carries a Range header and appends. A server that ignores the range (200
// instead of 206) restarts the file from zero. The partial file is renamed
// into place once the full length has arrived.
//
// # Limitations
//
//   - No checksum verification against the hub's ETag
//   - A stalled transfer fails with ErrStalled; the partial file is kept
//     so the next attempt resumes from it
//
// # Thread Safety
//
// Safe for concurrent use on different files. The caller serialises
// transfers of the same file.
type HubFetcher struct {
	endpoint  string
	revision  string
	chunkSize int
	stall     time.Duration
	token     *Token
	client    HTTPClient
	logger    *slog.Logger
}

// NewHubFetcher builds a HubFetcher from cfg.
func NewHubFetcher(cfg HubConfig) *HubFetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHubEndpoint
	}
	if cfg.Revision == "" {
		cfg.Revision = "main"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Transport: telemetry.Transport(nil),
		}
	}
	return &HubFetcher{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		revision:  cfg.Revision,
		chunkSize: cfg.ChunkSize,
		stall:     cfg.Timeout,
		token:     cfg.Token,
		client:    cfg.Client,
		logger:    cfg.Logger,
	}
}

// ResolveURL returns the download URL for repo/file.
func (h *HubFetcher) ResolveURL(repo, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		h.endpoint, repo, url.PathEscape(h.revision), url.PathEscape(file))
}

// Fetch implements Fetcher.
func (h *HubFetcher) Fetch(ctx context.Context, repo, file, destDir string) (string, error) {
	pf := newPartialFile(destDir, file, h.chunkSize, h.logger)
	offset := pf.offset()

	ctx, watchdog := newStallWatchdog(ctx, h.stall)
	defer watchdog.stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.ResolveURL(repo, file), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	if err := h.token.authorize(req); err != nil {
		return "", err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", watchdog.explain(fmt.Errorf("download request: %w", err))
	}
	defer resp.Body.Close()
	watchdog.touch()

	var resume bool
	switch resp.StatusCode {
	case http.StatusOK:
		resume = false
	case http.StatusPartialContent:
		resume = true
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is already complete or larger than the remote.
		// Drop it and let the next attempt start clean.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = os.Remove(pf.path())
		return "", fmt.Errorf("range %d- not satisfiable for %s/%s", offset, repo, file)
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, repo, file)
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("access denied to %s/%s (status %d); set %s for gated repositories",
			repo, file, resp.StatusCode, TokenEnv)
	default:
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = resp.ContentLength
		if resume {
			total += offset
		}
	}

	if offset > 0 {
		h.logger.Info("Resuming download", "file", file, "offset", offset, "resumed", resume)
	}
	path, err := pf.write(ctx, watchdog.reader(resp.Body), resume, total)
	if err != nil {
		return "", watchdog.explain(err)
	}
	return path, nil
}

// stallWatchdog cancels a transfer when no progress is seen for limit.
type stallWatchdog struct {
	ctx    context.Context
	limit  time.Duration
	timer  *time.Timer
	cancel context.CancelCauseFunc
}

func newStallWatchdog(ctx context.Context, limit time.Duration) (context.Context, *stallWatchdog) {
	ctx, cancel := context.WithCancelCause(ctx)
	w := &stallWatchdog{ctx: ctx, limit: limit, cancel: cancel}
	if limit > 0 {
		w.timer = time.AfterFunc(limit, func() {
			cancel(fmt.Errorf("%w: no data for %v", ErrStalled, limit))
		})
	}
	return ctx, w
}

// touch records progress and restarts the stall timer.
func (w *stallWatchdog) touch() {
	if w.timer != nil {
		w.timer.Reset(w.limit)
	}
}

func (w *stallWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel(nil)
}

// reader touches the watchdog on every read that returns data.
func (w *stallWatchdog) reader(r io.Reader) io.Reader {
	return readerFunc(func(b []byte) (int, error) {
		n, err := r.Read(b)
		if n > 0 {
			w.touch()
		}
		return n, err
	})
}

// explain replaces a cancellation caused by a stall with ErrStalled.
func (w *stallWatchdog) explain(err error) error {
	if cause := context.Cause(w.ctx); errors.Is(cause, ErrStalled) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

var _ Fetcher = (*HubFetcher)(nil)
