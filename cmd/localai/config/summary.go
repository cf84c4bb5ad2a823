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

import "maps"

// Summary returns every setting grouped by section and keyed by field name
// without the prefix, e.g. Summary()["network"]["DEFAULT_PORT"].
//
// The map is built on first call and shared afterwards. Callers get a fresh
// outer and inner map each time so they cannot mutate the cached copy.
func (s *Snapshot) Summary() map[string]map[string]any {
	s.summaryOnce.Do(func() {
		out := make(map[string]map[string]any)
		_ = walkFields(s, func(section string, f field) error {
			if out[section] == nil {
				out[section] = make(map[string]any)
			}
			out[section][f.key] = f.value.Interface()
			return nil
		})
		s.summary = out
	})

	cp := make(map[string]map[string]any, len(s.summary))
	for section, values := range s.summary {
		cp[section] = maps.Clone(values)
	}
	return cp
}

// TimeoutSummary returns the timeout values, in seconds, most useful for
// monitoring a running installation.
func (s *Snapshot) TimeoutSummary() map[string]float64 {
	return map[string]float64{
		"idle_timeout":            float64(s.Performance.IdleTimeout),
		"stream_timeout":          s.Performance.StreamTimeout,
		"http_timeout":            s.Performance.HTTPTimeout,
		"service_start_timeout":   float64(s.Performance.ServiceStartTimeout),
		"shutdown_task_timeout":   s.Performance.ShutdownTaskTimeout,
		"shutdown_server_timeout": s.Performance.ShutdownServerTimeout,
		"request_timeout":         float64(s.Core.RequestTimeout),
		"health_check_timeout":    float64(s.Core.HealthCheckTimeout),
		"download_timeout":        float64(s.Network.DownloadTimeout),
	}
}
