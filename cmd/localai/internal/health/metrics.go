// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("localai.health")
	meter  = otel.Meter("localai.health")
)

var (
	probesTotal metric.Int64Counter
	waitSeconds metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		probesTotal, err = meter.Int64Counter(
			"localai_health_probes_total",
			metric.WithDescription("Health probes by classification"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		waitSeconds, err = meter.Float64Histogram(
			"localai_health_wait_seconds",
			metric.WithDescription("Time spent waiting for the service to become healthy"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordProbe(ctx context.Context, class Classification) {
	if err := initMetrics(); err != nil {
		return
	}
	probesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("classification", class.String())))
}

func recordWait(ctx context.Context, elapsed time.Duration, healthy bool) {
	if err := initMetrics(); err != nil {
		return
	}
	waitSeconds.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("healthy", healthy)))
}
