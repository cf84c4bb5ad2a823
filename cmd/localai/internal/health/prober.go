// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health waits for a local inference service to report healthy.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/localai/cmd/localai/internal/telemetry"
	"github.com/AleutianAI/localai/cmd/localai/internal/util"
)

// =============================================================================
// INTERFACES
// =============================================================================

// HTTPClient abstracts HTTP operations for health probes.
//
// # Examples
//
//	type MockHealthHTTPClient struct {
//	    DoFunc func(req *http.Request) (*http.Response, error)
//	}
//
//	func (m *MockHealthHTTPClient) Do(req *http.Request) (*http.Response, error) {
//	    return m.DoFunc(req)
//	}
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Defaults for a Prober.
const (
	DefaultHost           = "localhost"
	DefaultRequestTimeout = 3 * time.Second
	DefaultProgressEvery  = 30 * time.Second
)

// DefaultBackoff starts at 0.5s, grows by 1.5 and caps at 10s.
var DefaultBackoff = util.Backoff{
	Initial:    500 * time.Millisecond,
	Multiplier: 1.5,
	Max:        10 * time.Second,
}

// Config configures a Prober. Zero fields take the defaults above.
type Config struct {
	// Host is probed as http://{Host}:{port}/health.
	Host string

	// RequestTimeout bounds each probe. Never extends past the overall
	// deadline.
	RequestTimeout time.Duration

	Backoff util.Backoff

	// ProgressEvery is the minimum elapsed time between progress logs.
	ProgressEvery time.Duration

	Client HTTPClient
	Logger *slog.Logger

	// Clock and Wait are replaced in tests to run the backoff schedule
	// without sleeping.
	Clock util.Clock
	Wait  util.WaitFunc
}

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome is the result of WaitUntilHealthy.
type Outcome struct {
	// ID correlates log lines and spans for this wait.
	ID string `json:"id"`

	// URL is the probed endpoint.
	URL string `json:"url"`

	// Port is the probed port.
	Port int `json:"port"`

	// Healthy is true when a probe returned {"status":"ok"}.
	Healthy bool `json:"healthy"`

	// Elapsed is the time from start to the healthy probe or to giving up.
	Elapsed time.Duration `json:"elapsed"`

	// Probes counts completed probes.
	Probes int `json:"probes"`

	// LastError is the classification of the last failed probe.
	LastError Classification `json:"-"`

	// LastMessage describes the last failed probe.
	LastMessage string `json:"last_message,omitempty"`

	// State is the terminal state of the probe loop.
	State util.AttemptState `json:"-"`
}

// =============================================================================
// PROBER
// =============================================================================

// Prober polls a health endpoint until it is healthy or time runs out.
//
// # Description
//
// Each probe is one GET classified as exactly one of ConnectionRefused,
// RequestTimeout, OtherRequestError, HTTPStatusNon200, MalformedBody or
// Healthy. Between probes the Prober waits on an exponential schedule that
// never extends past the overall deadline.
//
// # Thread Safety
//
// Safe for concurrent use; each call keeps its own state.
type Prober struct {
	host           string
	requestTimeout time.Duration
	backoff        util.Backoff
	progressEvery  time.Duration
	client         HTTPClient
	logger         *slog.Logger
	clock          util.Clock
	wait           util.WaitFunc
}

// NewProber creates a Prober from cfg.
func NewProber(cfg Config) *Prober {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: telemetry.Transport(nil)}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.SystemClock{}
	}
	if cfg.Wait == nil {
		cfg.Wait = util.Wait
	}
	return &Prober{
		host:           cfg.Host,
		requestTimeout: cfg.RequestTimeout,
		backoff:        cfg.Backoff,
		progressEvery:  cfg.ProgressEvery,
		client:         cfg.Client,
		logger:         cfg.Logger,
		clock:          cfg.Clock,
		wait:           cfg.Wait,
	}
}

// URL returns the health endpoint for port.
func (p *Prober) URL(port int) string {
	return "http://" + net.JoinHostPort(p.host, strconv.Itoa(port)) + "/health"
}

// WaitUntilHealthy polls the service on port until healthy or timeout.
//
// # Description
//
// Probes immediately, then after 0.5s, 0.75s, 1.125s and so on up to 10s
// between probes. Logs progress at most once per ProgressEvery of elapsed
// time and logs an error naming the last failure when time runs out.
//
// # Inputs
//
//   - ctx: Parent context. Cancellation ends the wait at once.
//   - port: Service port.
//   - timeout: Overall budget measured from the call.
//
// # Outputs
//
//   - Outcome: Healthy with Elapsed, or not healthy with the last
//     classification. A timeout is an outcome, not an error.
//   - error: ctx.Err() if the parent context ended first.
//
// # Examples
//
//	out, err := prober.WaitUntilHealthy(ctx, 8080, 5*time.Minute)
//	if err != nil {
//	    return err
//	}
//	if !out.Healthy {
//	    return fmt.Errorf("service on port %d not healthy after %v: %s", out.Port, out.Elapsed, out.LastMessage)
//	}
//
// # Limitations
//
//   - A probe that is refused and one that times out both consume wall
//     clock, so the probe count for a given timeout varies
func (p *Prober) WaitUntilHealthy(ctx context.Context, port int, timeout time.Duration) (Outcome, error) {
	out := Outcome{
		ID:    uuid.NewString(),
		URL:   p.URL(port),
		Port:  port,
		State: util.StateIdle,
	}
	logger := p.logger.With("probe_id", out.ID, "url", out.URL)

	ctx, span := tracer.Start(ctx, "health.WaitUntilHealthy", trace.WithAttributes(
		attribute.String("health.id", out.ID),
		attribute.Int("health.port", port),
		attribute.Float64("health.timeout_seconds", timeout.Seconds()),
	))
	defer span.End()

	start := p.clock.Now()
	deadline := start.Add(timeout)
	lastProgress := start
	delay := p.backoff.Initial

	logger.Info("Waiting for service health", "timeout", timeout)

	for p.clock.Now().Sub(start) < timeout {
		out.State = util.StateAttempting
		res := p.probe(ctx, out.URL, deadline)
		if err := ctx.Err(); err != nil {
			out.Elapsed = p.clock.Now().Sub(start)
			telemetry.RecordError(span, err)
			return out, err
		}
		out.Probes++
		recordProbe(ctx, res.Class)

		if res.Class == Healthy {
			out.Healthy = true
			out.State = util.StateSuccess
			out.Elapsed = p.clock.Now().Sub(start)
			out.LastError = Unprobed
			out.LastMessage = ""
			logger.Info("Service healthy", "elapsed", out.Elapsed.Round(100*time.Millisecond), "probes", out.Probes)
			span.SetAttributes(attribute.Int("health.probes", out.Probes))
			telemetry.SetSpanOK(span)
			recordWait(ctx, out.Elapsed, true)
			return out, nil
		}

		out.LastError = res.Class
		out.LastMessage = res.Message
		logger.Debug("Health probe failed", "probe", out.Probes, "classification", res.Class.String(), "detail", res.Message)

		now := p.clock.Now()
		if now.Sub(lastProgress) >= p.progressEvery {
			logger.Info("Still waiting for health check",
				"elapsed", now.Sub(start).Round(time.Second),
				"last_error", res.Message)
			lastProgress = now
		}

		pause := util.CapToDeadline(delay, now, deadline)
		if pause <= 0 {
			break
		}
		out.State = util.StateRetrying
		if err := p.wait(ctx, pause); err != nil {
			out.Elapsed = p.clock.Now().Sub(start)
			telemetry.RecordError(span, err)
			return out, err
		}
		delay = p.backoff.Next(delay)
	}

	out.State = util.StateExhaustedOrTimedOut
	out.Elapsed = p.clock.Now().Sub(start)
	logger.Error("Health check failed",
		"timeout", timeout,
		"probes", out.Probes,
		"last_error", out.LastMessage)
	span.SetAttributes(attribute.Int("health.probes", out.Probes))
	telemetry.RecordError(span, fmt.Errorf("not healthy after %v: %s", timeout, out.LastMessage))
	recordWait(ctx, out.Elapsed, false)
	return out, nil
}

// Probe performs one classified health request against port.
func (p *Prober) Probe(ctx context.Context, port int) ProbeResult {
	return p.probe(ctx, p.URL(port), p.clock.Now().Add(p.requestTimeout))
}

// probe issues a single GET bounded by the request timeout and deadline.
func (p *Prober) probe(ctx context.Context, url string, deadline time.Time) ProbeResult {
	limit := util.CapToDeadline(p.requestTimeout, p.clock.Now(), deadline)
	if limit <= 0 {
		return ProbeResult{Class: RequestTimeout, Message: "Request timeout"}
	}
	reqCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Class: OtherRequestError, Message: truncate(err.Error(), maxErrorMessage)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	return classifyResponse(resp)
}
