// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownLevel) {
				t.Errorf("error %v does not match ErrUnknownLevel", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf, Service: "localai"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	logger.Slog().Info("Model ready", "model", "qwen3-4b")
	out := buf.String()
	for _, want := range []string{"level=INFO", `msg="Model ready"`, "service=localai", "model=qwen3-4b"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if logger.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", logger.FilePath())
	}
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf, JSON: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Slog().Warn("Download attempt failed", "attempt", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "Download attempt failed" || rec["level"] != "WARN" {
		t.Errorf("unexpected record %v", rec)
	}
	if _, ok := rec["service"]; ok {
		t.Error("service attribute present without Config.Service")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Output: &buf, Level: LevelWarn})
	logger.Slog().Debug("hidden debug")
	logger.Slog().Info("hidden info")
	logger.Slog().Warn("shown warn")
	logger.Slog().Error("shown error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("records below Warn emitted: %q", out)
	}
	if !strings.Contains(out, "shown warn") || !strings.Contains(out, "shown error") {
		t.Errorf("records at or above Warn missing: %q", out)
	}
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf, Quiet: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Slog().Error("nobody hears this")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_LogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	var console bytes.Buffer
	logger, err := New(Config{Output: &console, LogDir: dir, Service: "localai"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Slog().Info("Health check passed", "port", 8080)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := filepath.Join(dir, FileName("localai", time.Now()))
	if logger.FilePath() != want {
		t.Errorf("FilePath() = %q, want %q", logger.FilePath(), want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v", err)
	}
	if rec["msg"] != "Health check passed" || rec["service"] != "localai" || rec["port"] != float64(8080) {
		t.Errorf("unexpected file record %v", rec)
	}
	if !strings.Contains(console.String(), "Health check passed") {
		t.Errorf("console missing record: %q", console.String())
	}
}

func TestNew_LogFileAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		logger, err := New(Config{Quiet: true, LogDir: dir})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		logger.Slog().Info("run")
		_ = logger.Close()
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName("", time.Now())))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("log file has %d lines, want 2", n)
	}
}

func TestNew_LogDirUnusable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf, LogDir: filepath.Join(blocker, "logs")})
	if err == nil {
		t.Fatal("New() error = nil, want directory error")
	}
	if logger == nil {
		t.Fatal("New() returned nil logger alongside error")
	}
	logger.Slog().Info("still logs")
	if !strings.Contains(buf.String(), "still logs") {
		t.Errorf("console fallback missing record: %q", buf.String())
	}
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger, _ := New(Config{Quiet: true, LogDir: t.TempDir()})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestFileName(t *testing.T) {
	day := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	if got := FileName("localai", day); got != "localai_2025-03-09.log" {
		t.Errorf("FileName() = %q", got)
	}
	if got := FileName("", day); got != "localai_2025-03-09.log" {
		t.Errorf("FileName(\"\") = %q", got)
	}
}

type failingHandler struct{ err error }

func (h failingHandler) Enabled(context.Context, slog.Level) bool    { return true }
func (h failingHandler) Handle(context.Context, slog.Record) error   { return h.err }
func (h failingHandler) WithAttrs([]slog.Attr) slog.Handler          { return h }
func (h failingHandler) WithGroup(string) slog.Handler               { return h }

func TestMultiHandler_ContinuesAfterError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("disk full")
	h := &multiHandler{handlers: []slog.Handler{
		failingHandler{err: boom},
		slog.NewTextHandler(&buf, nil),
	}}

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0))
	if !errors.Is(err, boom) {
		t.Errorf("Handle() error = %v, want %v", err, boom)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("second handler skipped: %q", buf.String())
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(Info) = false, want true")
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(Debug) = true, want false")
	}
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}}
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("run", "r1")}).WithGroup("dl"))
	logger.Info("x", "model", "qwen3-4b")

	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, "run=r1") || !strings.Contains(out, "dl.model=qwen3-4b") {
			t.Errorf("attrs or group missing: %q", out)
		}
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger, err := New(Config{Quiet: true, LogDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Slog().Info("tick", "worker", n, "i", j)
			}
		}(i)
	}
	wg.Wait()
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
