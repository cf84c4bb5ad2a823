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
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names an optional YAML overlay file.
const ConfigFileEnv = EnvPrefix + "CONFIG_FILE"

// LookupFunc resolves an environment variable. os.LookupEnv is the default.
type LookupFunc func(key string) (string, bool)

type loadOptions struct {
	lookup LookupFunc
	file   string
}

// Option customises Load.
type Option func(*loadOptions)

// WithLookup replaces the environment source. Tests use it to build isolated
// snapshots without touching the process environment.
func WithLookup(fn LookupFunc) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.lookup = fn
		}
	}
}

// WithEnv is WithLookup over a fixed map.
func WithEnv(env map[string]string) Option {
	return WithLookup(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
}

// WithFile sets the YAML overlay file, overriding LOCAL_AI_CONFIG_FILE.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.file = path
	}
}

// Load builds and validates the configuration snapshot.
//
// # Description
//
// Resolves every field from, in increasing precedence: its declared
// default, the optional YAML overlay file, and the environment. Numeric
// values are parsed and bounds-checked, then the cross-field invariants are
// checked in order. Nothing is cached globally; the caller owns the result.
//
// The overlay file is laid out by section and field key:
//
//	performance:
//	  IDLE_TIMEOUT: 900
//	network:
//	  DEFAULT_PORT: 9000
//
// # Outputs
//
//   - *Snapshot: Validated configuration.
//   - error: *ValidationError for any parse, bound or invariant failure;
//     a wrapped I/O or YAML error if the overlay file cannot be read.
//
// # Example
//
//	snap, err := config.Load()
//	if err != nil {
//	    return err // fail fast, nothing else runs
//	}
func Load(opts ...Option) (*Snapshot, error) {
	o := loadOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}
	if o.file == "" {
		if v, ok := o.lookup(ConfigFileEnv); ok && v != "" {
			o.file = v
		}
	}

	overlay, err := readOverlay(o.file)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	err = walkFields(snap, func(section string, f field) error {
		raw := f.def
		if v, ok := overlay.take(section, f.key); ok {
			raw = v
		}
		if v, ok := o.lookup(EnvPrefix + f.key); ok && v != "" {
			raw = v
		}
		return assign(f, raw)
	})
	if err != nil {
		return nil, err
	}
	if err := overlay.unknown(); err != nil {
		return nil, err
	}

	if err := validateBounds(snap); err != nil {
		return nil, err
	}
	if err := checkInvariants(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Defaults returns a snapshot built from declared defaults only. It panics if
// the defaults themselves are invalid, which is a programming error.
func Defaults() *Snapshot {
	snap, err := Load(WithEnv(nil))
	if err != nil {
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return snap
}

// -----------------------------------------------------------------------------
// Field reflection
// -----------------------------------------------------------------------------

// field is one settable leaf of a section.
type field struct {
	key   string
	def   string
	value reflect.Value
}

func (f field) envName() string {
	return EnvPrefix + f.key
}

// walkFields visits every tagged field of every section in declaration order.
func walkFields(snap *Snapshot, fn func(section string, f field) error) error {
	root := reflect.ValueOf(snap).Elem()
	rootType := root.Type()
	for i := 0; i < rootType.NumField(); i++ {
		sf := rootType.Field(i)
		section := sf.Tag.Get("yaml")
		if section == "" || sf.Type.Kind() != reflect.Struct {
			continue
		}
		sv := root.Field(i)
		st := sf.Type
		for j := 0; j < st.NumField(); j++ {
			leaf := st.Field(j)
			key := leaf.Tag.Get("env")
			if key == "" {
				continue
			}
			f := field{key: key, def: leaf.Tag.Get("default"), value: sv.Field(j)}
			if err := fn(section, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// assign parses raw into the field according to its kind.
func assign(f field, raw string) error {
	switch f.value.Kind() {
	case reflect.Int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return &ValidationError{Field: f.envName(), Value: raw, Reason: "must be an integer"}
		}
		f.value.SetInt(int64(n))
	case reflect.Float64:
		x, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return &ValidationError{Field: f.envName(), Value: raw, Reason: "must be a number"}
		}
		f.value.SetFloat(x)
	case reflect.String:
		f.value.SetString(raw)
	default:
		return fmt.Errorf("config: unsupported kind %s for %s", f.value.Kind(), f.envName())
	}
	return nil
}

// -----------------------------------------------------------------------------
// YAML overlay
// -----------------------------------------------------------------------------

// overlayValues holds file-provided values not yet consumed by a field.
type overlayValues map[string]map[string]string

func readOverlay(path string) (overlayValues, error) {
	if path == "" {
		return overlayValues{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	out := make(overlayValues, len(doc))
	for section, values := range doc {
		m := make(map[string]string, len(values))
		for k, v := range values {
			m[strings.ToUpper(k)] = fmt.Sprint(v)
		}
		out[section] = m
	}
	return out, nil
}

func (o overlayValues) take(section, key string) (string, bool) {
	values, ok := o[section]
	if !ok {
		return "", false
	}
	v, ok := values[key]
	if ok {
		delete(values, key)
	}
	return v, ok
}

// unknown reports the first overlay entry that matched no field, so typos in
// the file do not silently fall back to defaults.
func (o overlayValues) unknown() error {
	for section, values := range o {
		for key := range values {
			return &ValidationError{Field: section + "." + key, Reason: "is not a known setting"}
		}
	}
	return nil
}
