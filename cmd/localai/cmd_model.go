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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/localai/cmd/localai/internal/download"
	"github.com/AleutianAI/localai/cmd/localai/internal/provision"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
)

func newModelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Download, run and list models",
	}
	cmd.AddCommand(
		newModelDownloadCmd(a),
		newModelRunCmd(a),
		newModelListCmd(a),
	)
	return cmd
}

func newModelDownloadCmd(a *app) *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:   "download <model>",
		Short: "Download a registered model into LOCAL_AI_MODELS_DIR",
		Long: `Download a registered model. A model that is already present is not
fetched again. Failed transfers are retried up to --attempts times with a
one second pause, resuming from the partial file where the source allows.`,
		Example: "  localai model download qwen3-4b --attempts 5",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			n := a.snap.Performance.MaxRetries
			if cmd.Flags().Changed("attempts") {
				if attempts < 1 {
					return usageError(fmt.Errorf("--attempts must be at least 1, got %d", attempts))
				}
				n = attempts
			}
			if _, err := a.registry.Lookup(id); err != nil {
				return err
			}

			dl, release, err := a.downloader(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			var out download.Outcome
			err = a.printer.WithSpinner(fmt.Sprintf("Downloading %s", id), func() error {
				var ferr error
				out, ferr = dl.Fetch(cmd.Context(), id, n)
				return ferr
			})
			if err != nil {
				return err
			}
			if !out.Success {
				return &provision.StageError{
					Stage:    provision.StageDownload,
					Model:    out.Model,
					Attempts: out.Attempts,
					Elapsed:  out.Elapsed,
					Err:      out.Err,
				}
			}
			if out.Cached {
				a.printer.Success(fmt.Sprintf("%s is already downloaded", id))
			} else {
				a.printer.Success(fmt.Sprintf("Downloaded %s in %s (%d attempt(s))",
					id, out.Elapsed.Round(100*time.Millisecond), out.Attempts))
			}
			a.printer.Info(out.Path)
			return nil
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "download attempts (default LOCAL_AI_MAX_RETRIES)")
	return cmd
}

func newModelRunCmd(a *app) *cobra.Command {
	var (
		port   int
		host   string
		ctxLen int
	)
	cmd := &cobra.Command{
		Use:   "run <model>[,<model>...]",
		Short: "Download models, start the inference server and wait until healthy",
		Long: `Download every listed model, start llama-server for them and wait for
GET /health to answer {"status":"ok"} within LOCAL_AI_HEALTH_CHECK_TIMEOUT.
Any failure stops the run and names the step, model or port involved.`,
		Example: "  localai model run qwen3-4b --port 8081 --context-length 8192",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.registry.ParseList(args[0]); err != nil {
				var unknown *registry.UnknownModelError
				if errors.As(err, &unknown) {
					return err
				}
				return usageError(err)
			}

			dl, release, err := a.downloader(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			opts := provision.OptionsFromConfig(a.snap)
			opts.Logger = a.log
			p := provision.New(a.registry, dl,
				a.newManager(a.snap, a.registry, a.log),
				a.newProber(a.snap, a.log),
				opts)

			var res *provision.Result
			err = a.printer.WithSpinner(fmt.Sprintf("Provisioning %s", args[0]), func() error {
				var rerr error
				res, rerr = p.Run(cmd.Context(), provision.Request{
					Models:        args[0],
					Port:          port,
					Host:          host,
					ContextLength: ctxLen,
				})
				return rerr
			})
			if err != nil {
				if res != nil && res.TraceID != "" {
					a.printer.Info("Trace ID: " + res.TraceID)
				}
				return err
			}

			a.printer.Success(fmt.Sprintf("%s serving on %s:%d",
				strings.Join(res.Models, ", "), res.Host, res.Port))
			a.printer.Info(fmt.Sprintf("Healthy after %s (%d probes), context length %d",
				res.Health.Elapsed.Round(100*time.Millisecond), res.Health.Probes, res.ContextLength))
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&port, "port", 0, "server port (default LOCAL_AI_DEFAULT_PORT)")
	f.StringVar(&host, "host", "", "server bind address (default LOCAL_AI_DEFAULT_HOST)")
	f.IntVar(&ctxLen, "context-length", 0, "context size in tokens (default LOCAL_AI_DEFAULT_CONTEXT_LENGTH)")
	return cmd
}

func newModelListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered models and whether they are downloaded",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			descs := a.registry.All()
			rows := make([][]string, 0, len(descs))
			for _, d := range descs {
				status := "not downloaded"
				if info, err := os.Stat(filepath.Join(a.snap.FilePaths.ModelsDir, d.File)); err == nil && info.Mode().IsRegular() {
					status = "downloaded"
				}
				rows = append(rows, []string{
					d.ID,
					d.Task,
					fmt.Sprintf("%.1f GiB", d.RAMGiB),
					d.Repo + "/" + d.File,
					status,
				})
			}
			a.printer.Table([]string{"MODEL", "TASK", "RAM", "SOURCE", "STATUS"}, rows)
			return nil
		},
	}
}
