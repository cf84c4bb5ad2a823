// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provision sequences download, start and health wait.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/localai/cmd/localai/config"
	"github.com/AleutianAI/localai/cmd/localai/internal/download"
	"github.com/AleutianAI/localai/cmd/localai/internal/health"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
	"github.com/AleutianAI/localai/cmd/localai/internal/service"
	"github.com/AleutianAI/localai/cmd/localai/internal/telemetry"
)

var tracer = otel.Tracer("localai.provision")

// Downloader is the subset of *download.Downloader the pipeline uses.
type Downloader interface {
	Fetch(ctx context.Context, id string, attempts int) (download.Outcome, error)
}

// Prober is the subset of *health.Prober the pipeline uses.
type Prober interface {
	WaitUntilHealthy(ctx context.Context, port int, timeout time.Duration) (health.Outcome, error)
}

// Options holds defaults and limits, normally taken from the configuration.
type Options struct {
	// Attempts per model download.
	Attempts int

	// MaxConcurrent bounds parallel downloads.
	MaxConcurrent int

	DefaultPort          int
	DefaultHost          string
	DefaultContextLength int

	// MinContextLength is the smallest accepted context length, normally
	// the default max tokens so a full response fits.
	MinContextLength int

	// HealthTimeout is the readiness budget after start.
	HealthTimeout time.Duration

	Logger *slog.Logger
}

// OptionsFromConfig maps a configuration snapshot to pipeline options.
func OptionsFromConfig(snap *config.Snapshot) Options {
	return Options{
		Attempts:             snap.Performance.MaxRetries,
		MaxConcurrent:        snap.Network.MaxConcurrentDownloads,
		DefaultPort:          snap.Network.DefaultPort,
		DefaultHost:          snap.Network.DefaultHost,
		DefaultContextLength: snap.Model.DefaultContextLength,
		MinContextLength:     snap.Model.DefaultMaxTokens,
		HealthTimeout:        snap.HealthCheckTimeout(),
	}
}

// Request is one `model run` invocation. Zero fields take the defaults.
type Request struct {
	// Models is a comma-separated list of registry identifiers.
	Models string

	Port          int
	Host          string
	ContextLength int
}

// Result describes a completed run.
type Result struct {
	ID            string             `json:"id"`
	TraceID       string             `json:"trace_id,omitempty"`
	Models        []string           `json:"models"`
	Downloads     []download.Outcome `json:"downloads"`
	Port          int                `json:"port"`
	Host          string             `json:"host"`
	ContextLength int                `json:"context_length"`
	Health        health.Outcome     `json:"health"`
	Elapsed       time.Duration      `json:"elapsed"`
}

// Pipeline runs Download, Start and health wait, failing fast on any step.
type Pipeline struct {
	registry   *registry.Registry
	downloader Downloader
	manager    service.Manager
	prober     Prober
	opts       Options
	logger     *slog.Logger
}

// New creates a Pipeline.
func New(reg *registry.Registry, dl Downloader, mgr service.Manager, prober Prober, opts Options) *Pipeline {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		registry:   reg,
		downloader: dl,
		manager:    mgr,
		prober:     prober,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Run provisions and starts the requested models.
//
// # Description
//
//  1. Resolves the model list; an unknown name fails before any download.
//  2. Downloads every model, at most MaxConcurrent at a time. The first
//     failure cancels the rest.
//  3. Resolves port, host and context length from the request or defaults.
//  4. Starts the service.
//  5. Waits for the health endpoint within HealthTimeout.
//
// # Outputs
//
//   - *Result: Filled as far as the run got, also on error.
//   - error: *registry.UnknownModelError, *StageError (download, start,
//     health), ErrInvalidRequest (wrapped) or a context error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{ID: uuid.NewString()}

	ctx, span := tracer.Start(ctx, "provision.Run", trace.WithAttributes(
		attribute.String("provision.id", res.ID),
		attribute.String("provision.models", req.Models),
	))
	defer span.End()
	res.TraceID = telemetry.TraceID(ctx)

	fail := func(err error) (*Result, error) {
		res.Elapsed = time.Since(start)
		telemetry.RecordError(span, err)
		p.logger.Error("Provisioning failed",
			"provision_id", res.ID,
			"trace_id", res.TraceID,
			"error", err)
		return res, err
	}

	descs, err := p.registry.ParseList(req.Models)
	if err != nil {
		return fail(err)
	}
	for _, d := range descs {
		res.Models = append(res.Models, d.ID)
	}

	res.Port, res.Host, res.ContextLength = p.resolve(req)
	if err := p.check(res); err != nil {
		return fail(err)
	}

	if err := p.downloadAll(ctx, res); err != nil {
		return fail(err)
	}

	p.logger.Info("Starting service",
		"models", res.Models,
		"port", res.Port,
		"host", res.Host,
		"context_length", res.ContextLength)
	startedAt := time.Now()
	ok, err := p.manager.Start(ctx, service.StartRequest{
		Models:        res.Models,
		Port:          res.Port,
		Host:          res.Host,
		ContextLength: res.ContextLength,
	})
	if err != nil {
		var unknown *registry.UnknownModelError
		if errors.As(err, &unknown) {
			return fail(err)
		}
		return fail(&StageError{Stage: StageStart, Port: res.Port, Elapsed: time.Since(startedAt), Err: err})
	}
	if !ok {
		return fail(&StageError{Stage: StageStart, Port: res.Port, Elapsed: time.Since(startedAt),
			Err: errors.New("service manager declined to start")})
	}

	out, err := p.prober.WaitUntilHealthy(ctx, res.Port, p.opts.HealthTimeout)
	res.Health = out
	if err != nil {
		return fail(err)
	}
	if !out.Healthy {
		return fail(&StageError{
			Stage:    StageHealth,
			Port:     res.Port,
			Attempts: out.Probes,
			Elapsed:  out.Elapsed,
			Err:      lastProbeError(out),
		})
	}

	res.Elapsed = time.Since(start)
	telemetry.SetSpanOK(span)
	p.logger.Info("Service ready",
		"models", res.Models,
		"port", res.Port,
		"elapsed", res.Elapsed.Round(100*time.Millisecond))
	return res, nil
}

func (p *Pipeline) resolve(req Request) (port int, host string, ctxLen int) {
	port, host, ctxLen = req.Port, req.Host, req.ContextLength
	if port == 0 {
		port = p.opts.DefaultPort
	}
	if host == "" {
		host = p.opts.DefaultHost
	}
	if ctxLen == 0 {
		ctxLen = p.opts.DefaultContextLength
	}
	return port, host, ctxLen
}

func (p *Pipeline) check(res *Result) error {
	if res.Port < 1024 || res.Port > 65535 {
		return fmt.Errorf("%w: port %d must be between 1024 and 65535", ErrInvalidRequest, res.Port)
	}
	if res.ContextLength < p.opts.MinContextLength {
		return fmt.Errorf("%w: context length %d is below the max token count %d",
			ErrInvalidRequest, res.ContextLength, p.opts.MinContextLength)
	}
	return nil
}

// downloadAll fetches every model of res concurrently.
func (p *Pipeline) downloadAll(ctx context.Context, res *Result) error {
	outcomes := make([]download.Outcome, len(res.Models))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrent)

	for i, id := range res.Models {
		g.Go(func() error {
			out, err := p.downloader.Fetch(gctx, id, p.opts.Attempts)
			outcomes[i] = out
			if err != nil {
				return err
			}
			if !out.Success {
				return &StageError{
					Stage:    StageDownload,
					Model:    id,
					Attempts: out.Attempts,
					Elapsed:  out.Elapsed,
					Err:      out.Err,
				}
			}
			return nil
		})
	}
	err := g.Wait()
	res.Downloads = outcomes
	return err
}

func lastProbeError(out health.Outcome) error {
	if out.LastMessage == "" {
		return nil
	}
	return fmt.Errorf("last error: %s", out.LastMessage)
}
