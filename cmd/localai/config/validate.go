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
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// fieldValidator returns the shared validator. Field names in errors are the
// full environment variable names so messages point at what the user sets.
func fieldValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if key := fld.Tag.Get("env"); key != "" {
				return EnvPrefix + key
			}
			return fld.Tag.Get("yaml")
		})
	})
	return validate
}

// validateBounds runs the struct tag checks and reports the first failure in
// declaration order.
func validateBounds(snap *Snapshot) error {
	err := fieldValidator().Struct(snap)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return fromFieldError(verrs[0])
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	out := &ValidationError{Field: fe.Field(), Value: fmt.Sprint(fe.Value())}
	switch fe.Tag() {
	case "min":
		out.Bound = ">= " + fe.Param()
	case "max":
		out.Bound = "<= " + fe.Param()
	case "oneof":
		out.Reason = "must be one of [" + fe.Param() + "]"
	case "url":
		out.Reason = "must be an absolute URL"
	case "required":
		out.Reason = "must not be empty"
	case "required_if":
		out.Reason = "is required when " + EnvPrefix + "MODEL_SOURCE is " + SourceGCS
	case "ip|hostname_rfc1123":
		out.Reason = "must be an IP address or hostname"
	default:
		out.Reason = "failed " + fe.Tag() + " check"
	}
	return out
}

// invariant is one cross-field rule. Rules run in slice order after every
// field is within its own bounds.
type invariant struct {
	field, related string
	reason         string
	holds          func(s *Snapshot) bool
	values         func(s *Snapshot) (any, any)
}

var invariants = []invariant{
	{
		field:   EnvPrefix + "SHUTDOWN_TASK_TIMEOUT",
		related: EnvPrefix + "SHUTDOWN_SERVER_TIMEOUT",
		reason:  "must be less than",
		holds: func(s *Snapshot) bool {
			return s.Performance.ShutdownTaskTimeout < s.Performance.ShutdownServerTimeout
		},
		values: func(s *Snapshot) (any, any) {
			return s.Performance.ShutdownTaskTimeout, s.Performance.ShutdownServerTimeout
		},
	},
	{
		field:   EnvPrefix + "REQUEST_TIMEOUT",
		related: EnvPrefix + "HTTP_TIMEOUT",
		reason:  "must be less than",
		holds: func(s *Snapshot) bool {
			return float64(s.Core.RequestTimeout) < s.Performance.HTTPTimeout
		},
		values: func(s *Snapshot) (any, any) {
			return s.Core.RequestTimeout, s.Performance.HTTPTimeout
		},
	},
	{
		field:   EnvPrefix + "DEFAULT_MAX_TOKENS",
		related: EnvPrefix + "DEFAULT_CONTEXT_LENGTH",
		reason:  "cannot exceed",
		holds: func(s *Snapshot) bool {
			return s.Model.DefaultMaxTokens <= s.Model.DefaultContextLength
		},
		values: func(s *Snapshot) (any, any) {
			return s.Model.DefaultMaxTokens, s.Model.DefaultContextLength
		},
	},
}

// checkInvariants reports the first broken cross-field rule.
func checkInvariants(s *Snapshot) error {
	for _, inv := range invariants {
		if inv.holds(s) {
			continue
		}
		a, b := inv.values(s)
		return &ValidationError{
			Field:        inv.field,
			Value:        fmt.Sprint(a),
			Related:      inv.related,
			RelatedValue: fmt.Sprint(b),
			Reason:       inv.reason,
		}
	}
	if p := s.Network.DefaultPort; p < 1024 || p > 65535 {
		return &ValidationError{
			Field:  EnvPrefix + "DEFAULT_PORT",
			Value:  fmt.Sprint(p),
			Bound:  "between 1024 and 65535",
			Reason: "port out of range",
		}
	}
	return nil
}
