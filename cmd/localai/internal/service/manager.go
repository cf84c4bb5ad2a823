// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package service is the boundary to the process that serves models.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrServiceStart is matched by every *StartError via errors.Is.
var ErrServiceStart = errors.New("service start failed")

// StartRequest names what to serve and where.
type StartRequest struct {
	// Models are registry identifiers, already downloaded.
	Models []string

	// Port and Host are the listen address.
	Port int
	Host string

	// ContextLength is the context window in tokens.
	ContextLength int
}

// Manager launches the inference service.
//
// # Description
//
// Start returns once the service process has been launched. It does not
// wait for readiness; callers follow up with a health wait.
//
// # Outputs
//
//   - bool: true if a launch happened.
//   - error: *registry.UnknownModelError for an unknown model, *StartError
//     for any other failure.
type Manager interface {
	Start(ctx context.Context, req StartRequest) (bool, error)
}

// StartError reports a failed launch.
type StartError struct {
	Models []string
	Port   int
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("failed to start service for %s on port %d: %s",
		strings.Join(e.Models, ","), e.Port, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrServiceStart.
func (e *StartError) Is(target error) bool {
	return target == ErrServiceStart
}

// Unwrap returns the underlying cause.
func (e *StartError) Unwrap() error {
	return e.Err
}

// ManagerFunc adapts a function to Manager.
type ManagerFunc func(ctx context.Context, req StartRequest) (bool, error)

// Start calls f.
func (f ManagerFunc) Start(ctx context.Context, req StartRequest) (bool, error) {
	return f(ctx, req)
}
