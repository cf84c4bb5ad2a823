// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/localai/cmd/localai/internal/health"
	"github.com/AleutianAI/localai/cmd/localai/internal/provision"
)

func newHealthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the inference server's health endpoint",
	}
	cmd.AddCommand(newHealthCheckCmd(a), newHealthWaitCmd(a))
	return cmd
}

func newHealthCheckCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe once and report the result",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.snap.Network.DefaultPort
			}
			if err := checkPort(port); err != nil {
				return err
			}
			prober := a.newProber(a.snap, a.log)
			res := prober.Probe(cmd.Context(), port)
			if res.Class != health.Healthy {
				return fmt.Errorf("%s: %s (%s)", prober.URL(port), res.Message, res.Class)
			}
			a.printer.Success(fmt.Sprintf("%s is healthy", prober.URL(port)))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "server port (default LOCAL_AI_DEFAULT_PORT)")
	return cmd
}

func newHealthWaitCmd(a *app) *cobra.Command {
	var (
		port    int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the server reports healthy or the timeout passes",
		Long: `Poll GET /health with exponential backoff (0.5s, growing by 1.5x, at
most 10s between probes) until it answers {"status":"ok"}. Exits 1 when
the timeout passes first.`,
		Example: "  localai health wait --port 8080 --timeout 2m",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.snap.Network.DefaultPort
			}
			if err := checkPort(port); err != nil {
				return err
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = a.snap.HealthCheckTimeout()
			}
			if timeout <= 0 {
				return usageError(fmt.Errorf("--timeout must be positive, got %s", timeout))
			}

			prober := a.newProber(a.snap, a.log)
			var out health.Outcome
			err := a.printer.WithSpinner(fmt.Sprintf("Waiting for %s", prober.URL(port)), func() error {
				var werr error
				out, werr = prober.WaitUntilHealthy(cmd.Context(), port, timeout)
				return werr
			})
			if err != nil {
				return err
			}
			if !out.Healthy {
				var cause error
				if out.LastMessage != "" {
					cause = errors.New("last error: " + out.LastMessage)
				}
				return &provision.StageError{
					Stage:    provision.StageHealth,
					Port:     port,
					Attempts: out.Probes,
					Elapsed:  out.Elapsed,
					Err:      cause,
				}
			}
			a.printer.Success(fmt.Sprintf("%s healthy after %s (%d probes)",
				out.URL, out.Elapsed.Round(100*time.Millisecond), out.Probes))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "server port (default LOCAL_AI_DEFAULT_PORT)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall wait (default LOCAL_AI_HEALTH_CHECK_TIMEOUT)")
	return cmd
}

func checkPort(port int) error {
	if port < 1 || port > 65535 {
		return usageError(fmt.Errorf("--port must be between 1 and 65535, got %d", port))
	}
	return nil
}
