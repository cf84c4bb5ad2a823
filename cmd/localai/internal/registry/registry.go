// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the compiled-in table of downloadable models.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/localai/pkg/validation"
)

// ErrUnknownModel is matched by every *UnknownModelError via errors.Is.
var ErrUnknownModel = errors.New("unknown model")

// Descriptor is one downloadable model artifact.
type Descriptor struct {
	// ID is the short name users type, e.g. "qwen3-4b".
	ID string `json:"id" yaml:"id"`

	// Repo is the remote repository holding the artifact.
	Repo string `json:"repo" yaml:"repo"`

	// File is the artifact file name inside Repo and on local disk.
	File string `json:"file" yaml:"file"`

	// Task is the model's role; only "chat" today.
	Task string `json:"task" yaml:"task"`

	// RAMGiB is the approximate memory needed to serve the model.
	RAMGiB float64 `json:"ram_gib" yaml:"ram_gib"`
}

// UnknownModelError reports an identifier missing from the registry.
type UnknownModelError struct {
	ID        string
	Available []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q (available: %s)", e.ID, strings.Join(e.Available, ", "))
}

func (e *UnknownModelError) Unwrap() error {
	return ErrUnknownModel
}

// Registry maps identifiers to descriptors, preserving declaration order.
//
// A Registry is read-only after New and safe for concurrent use.
type Registry struct {
	order []string
	byID  map[string]Descriptor
}

// New builds a registry from descriptors. Later duplicates of an ID are
// rejected, as are IDs, repos and file names that are not plain names.
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if d.ID == "" || d.Repo == "" || d.File == "" {
			return nil, fmt.Errorf("registry: incomplete descriptor %+v", d)
		}
		if err := validateDescriptor(d); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model id %q", d.ID)
		}
		r.order = append(r.order, d.ID)
		r.byID[d.ID] = d
	}
	return r, nil
}

var builtin = []Descriptor{
	{ID: "qwen3-1.7b", Repo: "Qwen/Qwen3-1.7B-GGUF", File: "Qwen3-1.7B-Q8_0.gguf", Task: "chat", RAMGiB: 5.71},
	{ID: "qwen3-4b", Repo: "Qwen/Qwen3-4B-GGUF", File: "Qwen3-4B-Q8_0.gguf", Task: "chat", RAMGiB: 7.9},
	{ID: "qwen3-8b", Repo: "Qwen/Qwen3-8B-GGUF", File: "Qwen3-8B-Q8_0.gguf", Task: "chat", RAMGiB: 15.8},
	{ID: "qwen3-14b", Repo: "Qwen/Qwen3-14B-GGUF", File: "Qwen3-14B-Q8_0.gguf", Task: "chat", RAMGiB: 19.5},
}

// Default returns the built-in model table.
func Default() *Registry {
	r, err := New(builtin...)
	if err != nil {
		panic(err)
	}
	return r
}

// validateDescriptor rejects names that could escape the models directory
// or alter a download URL.
func validateDescriptor(d Descriptor) error {
	if err := validation.ValidateModelID(d.ID); err != nil {
		return err
	}
	if err := validation.ValidateRepo(d.Repo); err != nil {
		return err
	}
	return validation.ValidateFileName(d.File)
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, &UnknownModelError{ID: id, Available: r.Keys()}
	}
	return d, nil
}

// Keys returns all identifiers in declaration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// ParseList resolves a comma-separated list of identifiers.
//
// # Description
//
// Entries are trimmed, empty entries are dropped and repeats are collapsed
// to their first occurrence. The first unknown entry fails the whole list.
//
// # Outputs
//
//   - []Descriptor: Resolved models in input order. Never empty on success.
//   - error: *UnknownModelError, or a plain error if nothing was named.
//
// # Example
//
//	descs, err := reg.ParseList("qwen3-4b, qwen3-8b")
func (r *Registry) ParseList(csv string) ([]Descriptor, error) {
	seen := make(map[string]bool)
	var out []Descriptor
	for _, part := range strings.Split(csv, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		d, err := r.Lookup(id)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("no model specified")
	}
	return out, nil
}
