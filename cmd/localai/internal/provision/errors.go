// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provision

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDownloadFailed matches a StageError for exhausted downloads.
	ErrDownloadFailed = errors.New("download failed")

	// ErrStartFailed matches a StageError for a service that did not launch.
	ErrStartFailed = errors.New("service start failed")

	// ErrHealthTimeout matches a StageError for a service that never became
	// healthy.
	ErrHealthTimeout = errors.New("health check timed out")

	// ErrInvalidRequest is returned for request parameters that fail checks.
	ErrInvalidRequest = errors.New("invalid provision request")
)

// Stage names a pipeline step.
type Stage string

const (
	StageDownload Stage = "download"
	StageStart    Stage = "start"
	StageHealth   Stage = "health"
)

// StageError reports which step of the pipeline failed and with what.
type StageError struct {
	Stage Stage

	// Model is set for download failures.
	Model string

	// Port is set for start and health failures.
	Port int

	// Attempts is the download attempt count or the probe count.
	Attempts int

	Elapsed time.Duration

	// Err is the underlying cause, if any.
	Err error
}

func (e *StageError) Error() string {
	var msg string
	switch e.Stage {
	case StageDownload:
		msg = fmt.Sprintf("download of %s failed after %d attempt(s)", e.Model, e.Attempts)
	case StageStart:
		msg = fmt.Sprintf("service did not start on port %d", e.Port)
	case StageHealth:
		msg = fmt.Sprintf("service on port %d not healthy after %s (%d probes)",
			e.Port, e.Elapsed.Round(100*time.Millisecond), e.Attempts)
	default:
		msg = fmt.Sprintf("%s failed", e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the stage sentinel.
func (e *StageError) Is(target error) bool {
	switch e.Stage {
	case StageDownload:
		return target == ErrDownloadFailed
	case StageStart:
		return target == ErrStartFailed
	case StageHealth:
		return target == ErrHealthTimeout
	}
	return false
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}
