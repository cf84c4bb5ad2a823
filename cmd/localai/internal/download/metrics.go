// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package download

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("localai.download")
	meter  = otel.Meter("localai.download")
)

var (
	attemptsTotal metric.Int64Counter
	outcomesTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		attemptsTotal, err = meter.Int64Counter(
			"localai_download_attempts_total",
			metric.WithDescription("Fetch attempts made against the remote source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		outcomesTotal, err = meter.Int64Counter(
			"localai_download_outcomes_total",
			metric.WithDescription("Completed download requests by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAttempt(ctx context.Context, model string, failed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("failed", failed),
	))
}

// recordOutcome counts one Fetch result. result is "cached", "downloaded"
// or "exhausted".
func recordOutcome(ctx context.Context, model, result string) {
	if err := initMetrics(); err != nil {
		return
	}
	outcomesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("result", result),
	))
}
