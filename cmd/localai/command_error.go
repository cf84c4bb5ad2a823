// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/localai/cmd/localai/config"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
	"github.com/AleutianAI/localai/pkg/ux"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2

	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// CommandError carries the exit code for a failed command.
//
// # Description
//
// RunE functions return plain errors for runtime failures; argument and
// flag problems are wrapped with usageError so execute can exit with
// ExitUsage. Reported marks errors that were already shown to the user,
// such as the configuration warning box.
//
// # Example
//
//	return usageError(fmt.Errorf("--attempts must be at least 1"))
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    os.Exit(cmdErr.Code)
//	}
type CommandError struct {
	// Code is the process exit code.
	Code int

	// Reported is true when the message has already been printed.
	Reported bool

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns the wrapped message.
func (e *CommandError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Wrapped.Error()
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Code: ExitUsage, Wrapped: err}
}

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return ExitFailure
}

// report prints err for the user unless it was printed already.
func report(p *ux.Printer, err error, commandPath string) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Reported {
		return
	}

	var verr *config.ValidationError
	var unknown *registry.UnknownModelError
	switch {
	case errors.As(err, &verr):
		reportConfigError(p, err)
	case errors.As(err, &unknown):
		p.Error(fmt.Sprintf("Unknown model %q", unknown.ID))
		p.Info("Available models: " + strings.Join(unknown.Available, ", "))
	case errors.Is(err, context.Canceled):
		p.Warning("Interrupted")
	default:
		p.Error(err.Error())
	}

	if exitCode(err) == ExitUsage && commandPath != "" {
		p.Info(fmt.Sprintf("Run '%s --help' for usage.", commandPath))
	}
}

func reportConfigError(p *ux.Printer, err error) {
	p.WarningBox("Invalid configuration",
		err.Error()+"\n\nFix the environment variable or configuration file and try again. Nothing was downloaded or started.")
}
