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
	"fmt"
)

// ErrInvalidConfig is matched by every *ValidationError via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError reports a setting that failed parsing, a bound or a
// cross-field invariant.
//
// # Description
//
// Field is always the full environment variable name (LOCAL_AI_...). For
// bound violations Bound holds the violated constraint (">= 60"). For
// invariant violations Related names the second variable involved.
//
// # Example
//
//	snap, err := config.Load()
//	var verr *config.ValidationError
//	if errors.As(err, &verr) {
//	    fmt.Println(verr.Field, verr.Value, verr.Bound)
//	}
type ValidationError struct {
	// Field is the environment variable that failed.
	Field string

	// Value is the offending value as text.
	Value string

	// Bound is the violated constraint, e.g. ">= 60" or "<= 65535".
	Bound string

	// Related is the other variable of a cross-field invariant.
	Related string

	// RelatedValue is the value of Related as text.
	RelatedValue string

	// Reason is a free-form explanation for non-bound failures.
	Reason string
}

// Error returns a message naming the field, its value and the bound.
func (e *ValidationError) Error() string {
	switch {
	case e.Related != "":
		return fmt.Sprintf("%s (%s) %s %s (%s)", e.Field, e.Value, e.Reason, e.Related, e.RelatedValue)
	case e.Bound != "":
		return fmt.Sprintf("%s must be %s, got %s", e.Field, e.Bound, e.Value)
	case e.Value != "":
		return fmt.Sprintf("%s %s, got %q", e.Field, e.Reason, e.Value)
	default:
		return fmt.Sprintf("%s %s", e.Field, e.Reason)
	}
}

// Unwrap lets callers test for ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

var _ error = (*ValidationError)(nil)
