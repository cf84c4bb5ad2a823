// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AleutianAI/localai/cmd/localai/internal/infra/process"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "llama-server"

// LogFileName receives the server's stdout and stderr inside LogsDir.
const LogFileName = "llama-server.log"

// Runner starts name with args, sending output to out, and returns the
// child PID. The child must outlive the caller.
type Runner func(name string, args []string, out io.Writer) (int, error)

// LauncherConfig configures a ProcessLauncher.
type LauncherConfig struct {
	// Binary is the server executable. Empty looks up DefaultBinary on PATH.
	Binary string

	Registry  *registry.Registry
	ModelsDir string
	LogsDir   string

	// StartLockFile serialises concurrent launches across processes.
	StartLockFile string
	LockTimeout   time.Duration

	// PortCheckTimeout bounds the busy-port probe.
	PortCheckTimeout time.Duration

	Logger *slog.Logger

	// Runner replaces the exec-based launcher, for tests.
	Runner Runner
}

// ProcessLauncher starts a detached llama-server for a single model.
//
// # Description
//
// Start resolves the model file, takes the start lock, refuses a port that
// already accepts connections, and spawns:
//
//	<binary> --model <models dir>/<file> --port <port> --host <host> --ctx-size <n>
//
// The child runs in its own process group so it survives the CLI exiting
// or receiving Ctrl-C. Its output is appended to <logs dir>/llama-server.log.
//
// # Limitations
//
//   - One model per server; multi-model requests are rejected
//   - No readiness wait; use the health prober
//   - The PID is not persisted, so there is no matching stop
type ProcessLauncher struct {
	cfg LauncherConfig
}

// NewProcessLauncher creates a launcher.
func NewProcessLauncher(cfg LauncherConfig) *ProcessLauncher {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PortCheckTimeout <= 0 {
		cfg.PortCheckTimeout = 5 * time.Second
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	return &ProcessLauncher{cfg: cfg}
}

// Start implements Manager.
func (l *ProcessLauncher) Start(ctx context.Context, req StartRequest) (bool, error) {
	fail := func(reason string, err error) (bool, error) {
		return false, &StartError{Models: req.Models, Port: req.Port, Reason: reason, Err: err}
	}

	if len(req.Models) != 1 {
		return fail(fmt.Sprintf("a server hosts exactly one model, got %d", len(req.Models)), nil)
	}
	desc, err := l.cfg.Registry.Lookup(req.Models[0])
	if err != nil {
		return false, err
	}
	modelPath := filepath.Join(l.cfg.ModelsDir, desc.File)
	if _, err := os.Stat(modelPath); err != nil {
		return fail("model file is missing; download it first", err)
	}

	binary, err := l.resolveBinary()
	if err != nil {
		return fail("inference server not found", err)
	}

	if l.cfg.StartLockFile != "" {
		if dir := filepath.Dir(l.cfg.StartLockFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail("cannot create lock directory", err)
			}
		}
		lock := process.NewFileLock(l.cfg.StartLockFile)
		if err := lock.Acquire(ctx, l.cfg.LockTimeout); err != nil {
			return fail("another start is in progress", err)
		}
		defer lock.Release()
	}

	if busy, err := l.portBusy(ctx, req.Host, req.Port); err != nil {
		return fail("port check failed", err)
	} else if busy {
		return fail("port is already in use", nil)
	}

	if err := os.MkdirAll(l.cfg.LogsDir, 0o755); err != nil {
		return fail("cannot create logs directory", err)
	}
	logPath := filepath.Join(l.cfg.LogsDir, LogFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fail("cannot open server log", err)
	}
	defer logFile.Close()

	args := Args(modelPath, req)
	pid, err := l.cfg.Runner(binary, args, logFile)
	if err != nil {
		return fail("spawn failed", err)
	}

	l.cfg.Logger.Info("Inference server launched",
		"model", desc.ID,
		"pid", pid,
		"port", req.Port,
		"host", req.Host,
		"context_length", req.ContextLength,
		"log", logPath)
	return true, nil
}

// Args builds the server command line.
func Args(modelPath string, req StartRequest) []string {
	return []string{
		"--model", modelPath,
		"--port", strconv.Itoa(req.Port),
		"--host", req.Host,
		"--ctx-size", strconv.Itoa(req.ContextLength),
	}
}

func (l *ProcessLauncher) resolveBinary() (string, error) {
	if l.cfg.Binary != "" {
		info, err := os.Stat(l.cfg.Binary)
		if err != nil {
			return "", err
		}
		if info.IsDir() || info.Mode()&0o111 == 0 {
			return "", fmt.Errorf("%s is not executable", l.cfg.Binary)
		}
		return l.cfg.Binary, nil
	}
	return exec.LookPath(DefaultBinary)
}

// portBusy reports whether something already accepts connections on port.
func (l *ProcessLauncher) portBusy(ctx context.Context, host string, port int) (bool, error) {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	dialer := net.Dialer{Timeout: l.cfg.PortCheckTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		_ = conn.Close()
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// Refused, unreachable or no answer within the timeout: nothing is
	// serving there.
	return false, nil
}

var _ Manager = (*ProcessLauncher)(nil)
