// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks names that end up in file paths and URLs.
//
// Model descriptors name a remote repository and a file that is written
// under the models directory. These validators reject anything that could
// escape that directory or change the meaning of a download URL.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// modelIDPattern matches short model identifiers such as "qwen3-1.7b".
var modelIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// repoPartPattern matches one segment of an "owner/name" repository.
var repoPartPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,95}$`)

// fileNamePattern matches a plain artifact file name.
var fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,254}$`)

// ValidateModelID validates a registry identifier.
//
// Valid identifiers:
//   - 1-64 characters
//   - Lowercase letters a-z and digits 0-9
//   - Dots, underscores and hyphens after the first character
//
// Example:
//
//	if err := validation.ValidateModelID(id); err != nil {
//	    return fmt.Errorf("registry: %w", err)
//	}
func ValidateModelID(id string) error {
	if id == "" {
		return fmt.Errorf("model id cannot be empty")
	}
	if !modelIDPattern.MatchString(id) {
		return fmt.Errorf("invalid model id: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores or hyphens)", id)
	}
	return nil
}

// ValidateRepo validates an "owner/name" repository reference.
func ValidateRepo(repo string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || strings.Contains(name, "/") {
		return fmt.Errorf("invalid repo: %q (must be owner/name)", repo)
	}
	for _, part := range []string{owner, name} {
		if !repoPartPattern.MatchString(part) || strings.Contains(part, "..") {
			return fmt.Errorf("invalid repo: %q (segment %q not allowed)", repo, part)
		}
	}
	return nil
}

// ValidateFileName validates an artifact file name. The name must be a
// single path element, so joining it to the models directory can never
// leave that directory.
//
// Example:
//
//	if err := validation.ValidateFileName(desc.File); err != nil {
//	    return err
//	}
//	dest := filepath.Join(modelsDir, desc.File)
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if !fileNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid file name: %q (must be a plain file name)", name)
	}
	return nil
}
