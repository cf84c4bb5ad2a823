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
	"sync"
	"time"
)

// EnvPrefix is prepended to every field key to form its environment variable.
const EnvPrefix = "LOCAL_AI_"

// Model sources understood by the downloader.
const (
	SourceHuggingFace = "huggingface"
	SourceGCS         = "gcs"
)

// Snapshot is the validated configuration for one process.
//
// # Description
//
// A Snapshot is built exactly once by Load at startup and then passed by
// pointer to every component that needs a timing, retry or size parameter.
// Every field has already been bounds-checked and the cross-field invariants
// hold. Callers must treat it as read-only.
//
// Field tags:
//
//   - env: key appended to EnvPrefix (LOCAL_AI_IDLE_TIMEOUT, ...)
//   - default: value used when neither the overlay file nor the environment sets it
//   - validate: go-playground/validator bounds
//
// # Thread Safety
//
// Safe for concurrent reads. Summary is computed lazily under sync.Once.
type Snapshot struct {
	Performance PerformanceConfig `yaml:"performance"`
	Core        CoreConfig        `yaml:"core"`
	Model       ModelConfig       `yaml:"model"`
	FilePaths   FilePathConfig    `yaml:"file_paths"`
	Network     NetworkConfig     `yaml:"network"`

	summaryOnce sync.Once
	summary     map[string]map[string]any
}

// PerformanceConfig holds timeout, stream and retry tuning.
type PerformanceConfig struct {
	// Idle unload
	IdleTimeout                int `env:"IDLE_TIMEOUT" default:"1800" validate:"min=60"`
	UnloadCheckInterval        int `env:"UNLOAD_CHECK_INTERVAL" default:"30" validate:"min=5"`
	UnloadLogInterval          int `env:"UNLOAD_LOG_INTERVAL" default:"300" validate:"min=60"`
	UnloadMaxConsecutiveErrors int `env:"UNLOAD_MAX_CONSECUTIVE_ERRORS" default:"5" validate:"min=1,max=20"`
	UnloadErrorSleepMultiplier int `env:"UNLOAD_ERROR_SLEEP_MULTIPLIER" default:"2" validate:"min=1,max=10"`

	// Streams
	StreamCleanupInterval   int     `env:"STREAM_CLEANUP_INTERVAL" default:"60" validate:"min=10"`
	StreamCleanupErrorSleep int     `env:"STREAM_CLEANUP_ERROR_SLEEP" default:"60" validate:"min=10"`
	StreamStaleTimeout      int     `env:"STREAM_STALE_TIMEOUT" default:"600" validate:"min=60"`
	StreamTimeout           float64 `env:"STREAM_TIMEOUT" default:"7200.0" validate:"min=30"`
	StreamChunkSize         int     `env:"STREAM_CHUNK_SIZE" default:"16384" validate:"min=1024,max=1048576"`

	// Model switching
	ModelSwitchVerificationDelay float64 `env:"MODEL_SWITCH_VERIFICATION_DELAY" default:"0.5" validate:"min=0.1,max=5"`
	ModelSwitchMaxRetries        int     `env:"MODEL_SWITCH_MAX_RETRIES" default:"3" validate:"min=1,max=10"`
	ModelSwitchStreamTimeout     float64 `env:"MODEL_SWITCH_STREAM_TIMEOUT" default:"30.0" validate:"min=5"`

	// Queue and processing
	QueueBackpressureTimeout float64 `env:"QUEUE_BACKPRESSURE_TIMEOUT" default:"30.0" validate:"min=1"`
	ProcessCheckInterval     float64 `env:"PROCESS_CHECK_INTERVAL" default:"0.1" validate:"min=0.01,max=1"`
	MaxQueueSize             int     `env:"MAX_QUEUE_SIZE" default:"100" validate:"min=10,max=1000"`
	HealthCheckInterval      int     `env:"HEALTH_CHECK_INTERVAL" default:"2" validate:"min=1,max=60"`

	// Timeouts
	ServiceStartTimeout int     `env:"SERVICE_START_TIMEOUT" default:"3600" validate:"min=60"`
	HTTPTimeout         float64 `env:"HTTP_TIMEOUT" default:"1800.0" validate:"min=30"`

	// Shutdown
	ShutdownTaskTimeout   float64 `env:"SHUTDOWN_TASK_TIMEOUT" default:"10.0" validate:"min=1,max=60"`
	ShutdownServerTimeout float64 `env:"SHUTDOWN_SERVER_TIMEOUT" default:"15.0" validate:"min=1,max=60"`
	ShutdownClientTimeout float64 `env:"SHUTDOWN_CLIENT_TIMEOUT" default:"5.0" validate:"min=1,max=30"`

	// HTTP connection pooling
	PoolConnections int `env:"POOL_CONNECTIONS" default:"100" validate:"min=10,max=500"`
	PoolKeepalive   int `env:"POOL_KEEPALIVE" default:"20" validate:"min=5,max=100"`

	// Retries
	MaxRetries int     `env:"MAX_RETRIES" default:"3" validate:"min=1,max=10"`
	RetryDelay float64 `env:"RETRY_DELAY" default:"0.5" validate:"min=0.1,max=10"`
}

// CoreConfig holds lock, port and request settings of the service manager.
type CoreConfig struct {
	LockTimeout        int `env:"LOCK_TIMEOUT" default:"1800" validate:"min=60"`
	PortCheckTimeout   int `env:"PORT_CHECK_TIMEOUT" default:"5" validate:"min=1,max=30"`
	HealthCheckTimeout int `env:"HEALTH_CHECK_TIMEOUT" default:"300" validate:"min=10"`
	ProcessTermTimeout int `env:"PROCESS_TERM_TIMEOUT" default:"15" validate:"min=5,max=60"`
	MaxPortRetries     int `env:"MAX_PORT_RETRIES" default:"10" validate:"min=3,max=50"`

	RequestRetries int `env:"REQUEST_RETRIES" default:"3" validate:"min=1,max=10"`
	RequestDelay   int `env:"REQUEST_DELAY" default:"2" validate:"min=1,max=10"`
	RequestTimeout int `env:"REQUEST_TIMEOUT" default:"30" validate:"min=5,max=300"`
}

// ModelConfig holds default model names and token limits.
type ModelConfig struct {
	DefaultChatModel  string `env:"DEFAULT_CHAT_MODEL" default:"llama-3.2-3b-instruct"`
	DefaultEmbedModel string `env:"DEFAULT_EMBED_MODEL" default:"text-embedding-3-small"`
	DefaultImageModel string `env:"DEFAULT_IMAGE_MODEL" default:"stable-diffusion-v1-5"`

	MaxMessages          int `env:"MAX_MESSAGES" default:"100" validate:"min=10,max=1000"`
	DefaultMaxTokens     int `env:"DEFAULT_MAX_TOKENS" default:"4096" validate:"min=256,max=32768"`
	DefaultContextLength int `env:"DEFAULT_CONTEXT_LENGTH" default:"16384" validate:"min=1024,max=131072"`
}

// FilePathConfig holds service files, directories and external commands.
type FilePathConfig struct {
	RunningServiceFile string `env:"RUNNING_SERVICE_FILE" default:"running_service.msgpack"`
	StartLockFile      string `env:"START_LOCK_FILE" default:"start_lock.lock" validate:"required"`
	LogsDir            string `env:"LOGS_DIR" default:"logs" validate:"required"`
	ModelsDir          string `env:"MODELS_DIR" default:"models" validate:"required"`

	// LlamaServer is the inference server binary. Empty means "look it up on PATH".
	LlamaServer string `env:"LLAMA_SERVER" default:""`
	TarCommand  string `env:"TAR_COMMAND" default:"tar"`
	PigzCommand string `env:"PIGZ_COMMAND" default:"pigz"`
	CatCommand  string `env:"CAT_COMMAND" default:"cat"`
}

// NetworkConfig holds server defaults and download settings.
type NetworkConfig struct {
	DefaultPort int    `env:"DEFAULT_PORT" default:"8080" validate:"min=1024,max=65535"`
	DefaultHost string `env:"DEFAULT_HOST" default:"0.0.0.0" validate:"required,ip|hostname_rfc1123"`

	DefaultChunkSize       int `env:"DEFAULT_CHUNK_SIZE" default:"65536" validate:"min=1024,max=1048576"`
	MaxConcurrentDownloads int `env:"MAX_CONCURRENT_DOWNLOADS" default:"12" validate:"min=1,max=50"`
	DownloadTimeout        int `env:"DOWNLOAD_TIMEOUT" default:"600" validate:"min=60,max=3600"`

	ModelSource    string `env:"MODEL_SOURCE" default:"huggingface" validate:"oneof=huggingface gcs"`
	HFEndpoint     string `env:"HF_ENDPOINT" default:"https://huggingface.co" validate:"url"`
	GCSBucket      string `env:"GCS_BUCKET" default:"" validate:"required_if=ModelSource gcs"`
	GCSCredentials string `env:"GCS_CREDENTIALS" default:""`
}

// -----------------------------------------------------------------------------
// Derived durations
// -----------------------------------------------------------------------------

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// HealthCheckTimeout is the overall budget for a readiness wait.
func (s *Snapshot) HealthCheckTimeout() time.Duration {
	return seconds(float64(s.Core.HealthCheckTimeout))
}

// DownloadTimeout bounds a single artifact transfer.
func (s *Snapshot) DownloadTimeout() time.Duration {
	return seconds(float64(s.Network.DownloadTimeout))
}

// LockTimeout bounds how long a caller waits for a download or start lock.
func (s *Snapshot) LockTimeout() time.Duration {
	return seconds(float64(s.Core.LockTimeout))
}

// PortCheckTimeout bounds the busy-port probe before a service start.
func (s *Snapshot) PortCheckTimeout() time.Duration {
	return seconds(float64(s.Core.PortCheckTimeout))
}

// HTTPTimeout is the client timeout for long-running requests to the service.
func (s *Snapshot) HTTPTimeout() time.Duration {
	return seconds(s.Performance.HTTPTimeout)
}

// ShutdownTimeout is the budget for flushing telemetry and closing clients on exit.
func (s *Snapshot) ShutdownTimeout() time.Duration {
	return seconds(s.Performance.ShutdownClientTimeout)
}
