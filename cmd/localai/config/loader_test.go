// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	snap, err := Load(WithEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, 1800, snap.Performance.IdleTimeout)
	assert.Equal(t, 7200.0, snap.Performance.StreamTimeout)
	assert.Equal(t, 0.5, snap.Performance.RetryDelay)
	assert.Equal(t, 300, snap.Core.HealthCheckTimeout)
	assert.Equal(t, 4096, snap.Model.DefaultMaxTokens)
	assert.Equal(t, 16384, snap.Model.DefaultContextLength)
	assert.Equal(t, "running_service.msgpack", snap.FilePaths.RunningServiceFile)
	assert.Equal(t, "", snap.FilePaths.LlamaServer)
	assert.Equal(t, 8080, snap.Network.DefaultPort)
	assert.Equal(t, "0.0.0.0", snap.Network.DefaultHost)
	assert.Equal(t, SourceHuggingFace, snap.Network.ModelSource)

	assert.Equal(t, 300*time.Second, snap.HealthCheckTimeout())
	assert.Equal(t, 600*time.Second, snap.DownloadTimeout())
	assert.Equal(t, 5*time.Second, snap.ShutdownTimeout())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	snap, err := Load(WithEnv(map[string]string{
		"LOCAL_AI_DEFAULT_PORT":   "9001",
		"LOCAL_AI_STREAM_TIMEOUT": " 60.5 ",
		"LOCAL_AI_DEFAULT_HOST":   "127.0.0.1",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9001, snap.Network.DefaultPort)
	assert.Equal(t, 60.5, snap.Performance.StreamTimeout)
	assert.Equal(t, "127.0.0.1", snap.Network.DefaultHost)
}

func TestLoad_EmptyValueIsUnset(t *testing.T) {
	snap, err := Load(WithEnv(map[string]string{"LOCAL_AI_IDLE_TIMEOUT": ""}))
	require.NoError(t, err)
	assert.Equal(t, 1800, snap.Performance.IdleTimeout)
}

func TestLoad_BelowMinimum(t *testing.T) {
	_, err := Load(WithEnv(map[string]string{"LOCAL_AI_IDLE_TIMEOUT": "10"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_IDLE_TIMEOUT", verr.Field)
	assert.Equal(t, "10", verr.Value)
	assert.Equal(t, ">= 60", verr.Bound)
	assert.Contains(t, err.Error(), "LOCAL_AI_IDLE_TIMEOUT")
	assert.Contains(t, err.Error(), "60")
}

func TestLoad_AboveMaximum(t *testing.T) {
	_, err := Load(WithEnv(map[string]string{"LOCAL_AI_MAX_RETRIES": "11"}))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_MAX_RETRIES", verr.Field)
	assert.Equal(t, "<= 10", verr.Bound)
}

func TestLoad_FloatBounds(t *testing.T) {
	_, err := Load(WithEnv(map[string]string{"LOCAL_AI_PROCESS_CHECK_INTERVAL": "0.001"}))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_PROCESS_CHECK_INTERVAL", verr.Field)
	assert.Equal(t, ">= 0.01", verr.Bound)
}

func TestLoad_ParseFailure(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "int", key: "LOCAL_AI_MAX_QUEUE_SIZE", val: "lots", want: "must be an integer"},
		{name: "int rejects float", key: "LOCAL_AI_DEFAULT_PORT", val: "8080.5", want: "must be an integer"},
		{name: "float", key: "LOCAL_AI_HTTP_TIMEOUT", val: "soon", want: "must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(WithEnv(map[string]string{tt.key: tt.val}))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.key, verr.Field)
			assert.Equal(t, tt.val, verr.Value)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FirstViolationInDeclarationOrder(t *testing.T) {
	_, err := Load(WithEnv(map[string]string{
		"LOCAL_AI_DOWNLOAD_TIMEOUT": "1",
		"LOCAL_AI_IDLE_TIMEOUT":     "1",
	}))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_IDLE_TIMEOUT", verr.Field)
}

func TestLoad_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		field   string
		related string
	}{
		{
			name: "max tokens exceed context length",
			env: map[string]string{
				"LOCAL_AI_DEFAULT_MAX_TOKENS":     "8192",
				"LOCAL_AI_DEFAULT_CONTEXT_LENGTH": "4096",
			},
			field:   "LOCAL_AI_DEFAULT_MAX_TOKENS",
			related: "LOCAL_AI_DEFAULT_CONTEXT_LENGTH",
		},
		{
			name: "shutdown task not less than server",
			env: map[string]string{
				"LOCAL_AI_SHUTDOWN_TASK_TIMEOUT":   "20",
				"LOCAL_AI_SHUTDOWN_SERVER_TIMEOUT": "20",
			},
			field:   "LOCAL_AI_SHUTDOWN_TASK_TIMEOUT",
			related: "LOCAL_AI_SHUTDOWN_SERVER_TIMEOUT",
		},
		{
			name: "request timeout not less than http timeout",
			env: map[string]string{
				"LOCAL_AI_REQUEST_TIMEOUT": "300",
				"LOCAL_AI_HTTP_TIMEOUT":    "30",
			},
			field:   "LOCAL_AI_REQUEST_TIMEOUT",
			related: "LOCAL_AI_HTTP_TIMEOUT",
		},
		{
			name: "first broken invariant wins",
			env: map[string]string{
				"LOCAL_AI_SHUTDOWN_TASK_TIMEOUT":   "30",
				"LOCAL_AI_SHUTDOWN_SERVER_TIMEOUT": "10",
				"LOCAL_AI_DEFAULT_MAX_TOKENS":      "8192",
				"LOCAL_AI_DEFAULT_CONTEXT_LENGTH":  "4096",
			},
			field:   "LOCAL_AI_SHUTDOWN_TASK_TIMEOUT",
			related: "LOCAL_AI_SHUTDOWN_SERVER_TIMEOUT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(WithEnv(tt.env))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.related, verr.Related)
			assert.Contains(t, err.Error(), tt.field)
			assert.Contains(t, err.Error(), tt.related)
		})
	}
}

func TestLoad_SourceRules(t *testing.T) {
	_, err := Load(WithEnv(map[string]string{"LOCAL_AI_MODEL_SOURCE": "ftp"}))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_MODEL_SOURCE", verr.Field)

	_, err = Load(WithEnv(map[string]string{"LOCAL_AI_MODEL_SOURCE": "gcs"}))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_GCS_BUCKET", verr.Field)

	snap, err := Load(WithEnv(map[string]string{
		"LOCAL_AI_MODEL_SOURCE": "gcs",
		"LOCAL_AI_GCS_BUCKET":   "models-mirror",
	}))
	require.NoError(t, err)
	assert.Equal(t, "models-mirror", snap.Network.GCSBucket)
}

func TestLoad_OverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localai.yaml")
	content := "performance:\n  IDLE_TIMEOUT: 900\nnetwork:\n  default_port: 9000\n  DEFAULT_HOST: localhost\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	snap, err := Load(
		WithFile(path),
		WithEnv(map[string]string{"LOCAL_AI_DEFAULT_PORT": "9100"}),
	)
	require.NoError(t, err)
	assert.Equal(t, 900, snap.Performance.IdleTimeout)
	assert.Equal(t, "localhost", snap.Network.DefaultHost)
	assert.Equal(t, 9100, snap.Network.DefaultPort, "environment wins over the file")
}

func TestLoad_OverlayFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("core:\n  LOCK_TIMEOUT: 120\n"), 0o644))

	snap, err := Load(WithEnv(map[string]string{ConfigFileEnv: path}))
	require.NoError(t, err)
	assert.Equal(t, 120, snap.Core.LockTimeout)
}

func TestLoad_OverlayErrors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("core:\n  LOCK_TIMOUT: 120\n"), 0o644))
	_, err := Load(WithFile(unknown), WithEnv(nil))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "core.LOCK_TIMOUT", verr.Field)

	bounds := filepath.Join(dir, "bounds.yaml")
	require.NoError(t, os.WriteFile(bounds, []byte("performance:\n  IDLE_TIMEOUT: 10\n"), 0o644))
	_, err = Load(WithFile(bounds), WithEnv(nil))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LOCAL_AI_IDLE_TIMEOUT", verr.Field)

	_, err = Load(WithFile(filepath.Join(dir, "missing.yaml")), WithEnv(nil))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestSnapshot_Summary(t *testing.T) {
	snap := Defaults()

	summary := snap.Summary()
	require.Len(t, summary, 5)
	assert.Equal(t, 8080, summary["network"]["DEFAULT_PORT"])
	assert.Equal(t, 1800, summary["performance"]["IDLE_TIMEOUT"])
	assert.Equal(t, "logs", summary["file_paths"]["LOGS_DIR"])

	summary["network"]["DEFAULT_PORT"] = 1
	assert.Equal(t, 8080, snap.Summary()["network"]["DEFAULT_PORT"])

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, snap.Summary(), 5)
		}()
	}
	wg.Wait()
}

func TestSnapshot_TimeoutSummary(t *testing.T) {
	ts := Defaults().TimeoutSummary()
	assert.Len(t, ts, 9)
	assert.Equal(t, 1800.0, ts["idle_timeout"])
	assert.Equal(t, 10.0, ts["shutdown_task_timeout"])
	assert.Equal(t, 600.0, ts["download_timeout"])
}
