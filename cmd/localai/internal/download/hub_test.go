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
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const artifact = "GGUF-0123456789abcdefghijklmnopqrstuvwxyz"

// hubServer serves artifact at /Qwen/Test-GGUF/resolve/main/test.gguf and
// records request headers.
type hubServer struct {
	mu          sync.Mutex
	ranges      []string
	auth        []string
	ignoreRange bool
}

func (h *hubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.ranges = append(h.ranges, r.Header.Get("Range"))
	h.auth = append(h.auth, r.Header.Get("Authorization"))
	h.mu.Unlock()

	if r.URL.Path != "/Qwen/Test-GGUF/resolve/main/test.gguf" {
		http.NotFound(w, r)
		return
	}

	rng := r.Header.Get("Range")
	if rng == "" || h.ignoreRange {
		w.Header().Set("Content-Length", strconv.Itoa(len(artifact)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(artifact))
		return
	}
	start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
	if err != nil || start >= len(artifact) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	body := artifact[start:]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(artifact)-1, len(artifact)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write([]byte(body))
}

func newHub(t *testing.T, h *hubServer, token *Token) *HubFetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHubFetcher(HubConfig{Endpoint: srv.URL + "/", ChunkSize: 8, Token: token, Logger: quietLogger()})
}

func TestHubFetcher_ResolveURL(t *testing.T) {
	h := NewHubFetcher(HubConfig{})
	assert.Equal(t,
		"https://huggingface.co/Qwen/Qwen3-4B-GGUF/resolve/main/Qwen3-4B-Q8_0.gguf",
		h.ResolveURL("Qwen/Qwen3-4B-GGUF", "Qwen3-4B-Q8_0.gguf"))
}

func TestHubFetcher_FullDownload(t *testing.T) {
	srv := &hubServer{}
	hub := newHub(t, srv, nil)
	dir := t.TempDir()

	path, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test.gguf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, artifact, string(data))

	_, err = os.Stat(path + PartialSuffix)
	assert.True(t, os.IsNotExist(err), "partial file must be renamed away")
	assert.Equal(t, []string{""}, srv.ranges)
	assert.Equal(t, []string{""}, srv.auth)
}

func TestHubFetcher_ResumesPartial(t *testing.T) {
	srv := &hubServer{}
	hub := newHub(t, srv, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.gguf"+PartialSuffix), []byte(artifact[:10]), 0o644))

	path, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, artifact, string(data))
	assert.Equal(t, []string{"bytes=10-"}, srv.ranges)
}

func TestHubFetcher_RangeIgnoredRestarts(t *testing.T) {
	srv := &hubServer{ignoreRange: true}
	hub := newHub(t, srv, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.gguf"+PartialSuffix), []byte("garbage"), 0o644))

	path, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, artifact, string(data))
}

func TestHubFetcher_RangeNotSatisfiable(t *testing.T) {
	srv := &hubServer{}
	hub := newHub(t, srv, nil)
	dir := t.TempDir()
	partial := filepath.Join(dir, "test.gguf"+PartialSuffix)
	require.NoError(t, os.WriteFile(partial, []byte(artifact+"extra"), 0o644))

	_, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.Error(t, err)
	_, statErr := os.Stat(partial)
	assert.True(t, os.IsNotExist(statErr), "oversized partial must be discarded")

	path, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.NoError(t, err)
	data, _ := os.ReadFile(path)
	assert.Equal(t, artifact, string(data))
}

func TestHubFetcher_NotFound(t *testing.T) {
	hub := newHub(t, &hubServer{}, nil)
	_, err := hub.Fetch(context.Background(), "Qwen/Missing-GGUF", "missing.gguf", t.TempDir())
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestHubFetcher_SendsToken(t *testing.T) {
	srv := &hubServer{}
	hub := newHub(t, srv, NewToken([]byte("hf_secret")))

	_, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer hf_secret"}, srv.auth)
}

func TestHubFetcher_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hub := NewHubFetcher(HubConfig{Endpoint: srv.URL, Logger: quietLogger()})
	_, err := hub.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewToken_Empty(t *testing.T) {
	assert.Nil(t, NewToken([]byte("  ")))

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	require.NoError(t, err)
	var tok *Token
	require.NoError(t, tok.authorize(req))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, " hf_env ")
	tok := TokenFromEnv()
	require.NotNil(t, tok)

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	require.NoError(t, err)
	require.NoError(t, tok.authorize(req))
	assert.Equal(t, "Bearer hf_env", req.Header.Get("Authorization"))
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "Qwen/Qwen3-4B-GGUF/Qwen3-4B-Q8_0.gguf", ObjectName("Qwen/Qwen3-4B-GGUF", "Qwen3-4B-Q8_0.gguf"))
}

// dripServer sends artifact in pieces, pausing gap between them, and
// stops sending entirely after stallAfter bytes when stallAfter > 0.
func dripServer(t *testing.T, piece int, gap time.Duration, stallAfter int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(artifact)))
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for sent := 0; sent < len(artifact); sent += piece {
			if stallAfter > 0 && sent >= stallAfter {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
				return
			}
			end := min(sent+piece, len(artifact))
			_, _ = w.Write([]byte(artifact[sent:end]))
			flusher.Flush()
			time.Sleep(gap)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHubFetcher_SlowTransferIsNotCutOff(t *testing.T) {
	// 41 bytes in 6-byte pieces, 60ms apart: about 420ms in total, well
	// past the 200ms stall limit, but never silent for that long.
	endpoint := dripServer(t, 6, 60*time.Millisecond, 0)
	h := NewHubFetcher(HubConfig{Endpoint: endpoint, Timeout: 200 * time.Millisecond, Logger: quietLogger()})
	dir := t.TempDir()

	path, err := h.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, artifact, string(data))
}

func TestHubFetcher_StalledTransferKeepsPartial(t *testing.T) {
	endpoint := dripServer(t, 10, 0, 10)
	h := NewHubFetcher(HubConfig{Endpoint: endpoint, Timeout: 200 * time.Millisecond, Logger: quietLogger()})
	dir := t.TempDir()

	start := time.Now()
	_, err := h.Fetch(context.Background(), "Qwen/Test-GGUF", "test.gguf", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Less(t, time.Since(start), 3*time.Second)

	partial, err := os.ReadFile(filepath.Join(dir, "test.gguf"+PartialSuffix))
	require.NoError(t, err)
	assert.Equal(t, artifact[:10], string(partial))
	assert.NoFileExists(t, filepath.Join(dir, "test.gguf"))
}
