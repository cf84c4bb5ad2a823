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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/localai/cmd/localai/config"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
	"github.com/AleutianAI/localai/cmd/localai/internal/telemetry"
	"github.com/AleutianAI/localai/pkg/logging"
	"github.com/AleutianAI/localai/pkg/ux"
)

var version = "0.1.0"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	logLevel   string
	logJSON    bool
	logFile    bool
	plain      bool
	configFile string
}

// app holds the state of one CLI invocation.
//
// # Description
//
// The root command's persistent pre-run fills snap, logger and shutdown
// before any subcommand runs; a configuration that fails validation stops
// the process there. The factory fields build the network-facing
// components and are replaced in tests.
type app struct {
	printer  *ux.Printer
	lookup   config.LookupFunc
	registry *registry.Registry

	// logOutput receives console logs. Nil means os.Stderr.
	logOutput io.Writer

	newFetcher fetcherFactory
	newManager managerFactory
	newProber  proberFactory

	flags globalFlags

	snap     *config.Snapshot
	logger   *logging.Logger
	log      *slog.Logger
	shutdown func(context.Context) error
}

func newApp() *app {
	return &app{
		printer:    ux.NewPrinter(),
		lookup:     os.LookupEnv,
		registry:   registry.Default(),
		newFetcher: defaultFetcher,
		newManager: defaultManager,
		newProber:  defaultProber,
	}
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.printer.Out)
	root.SetErr(a.printer.Err)

	cmd, err := root.ExecuteContextC(ctx)
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		err = usageError(err)
	}
	if err != nil {
		path := root.CommandPath()
		if cmd != nil {
			path = cmd.CommandPath()
		}
		report(a.printer, err, path)
	}
	a.close()
	return exitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "localai",
		Short: "Provision local GGUF models and start an inference server",
		Long: `localai downloads registered GGUF models, starts llama-server for them
and waits until the server's health endpoint reports ready.

All tunables come from LOCAL_AI_* environment variables, optionally layered
over a YAML file. Invalid settings stop the CLI before anything runs.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.BoolVar(&a.flags.logJSON, "log-json", false, "write console logs as JSON")
	pf.BoolVar(&a.flags.logFile, "log-file", false, "also write JSON logs to LOCAL_AI_LOGS_DIR")
	pf.BoolVar(&a.flags.plain, "plain", false, "plain output without colors or boxes")
	pf.StringVar(&a.flags.configFile, "config", "", "YAML configuration file (overrides "+config.ConfigFileEnv+")")

	root.AddCommand(
		newModelCmd(a),
		newConfigCmd(a),
		newHealthCmd(a),
	)
	return root
}

// setup loads configuration, logging and telemetry for a subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Name() == "help" {
		return nil
	}
	if a.flags.plain {
		a.printer.Mode = ux.ModePlain
	}

	level, err := logging.ParseLevel(a.flags.logLevel)
	if err != nil {
		return usageError(err)
	}

	opts := []config.Option{config.WithLookup(a.lookup)}
	if a.flags.configFile != "" {
		opts = append(opts, config.WithFile(a.flags.configFile))
	}
	snap, err := config.Load(opts...)
	if err != nil {
		reportConfigError(a.printer, err)
		return &CommandError{Code: ExitFailure, Reported: true, Wrapped: err}
	}
	a.snap = snap

	logDir := ""
	if a.flags.logFile {
		logDir = snap.FilePaths.LogsDir
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "localai",
		JSON:    a.flags.logJSON,
		Output:  a.logOutput,
	})
	if err != nil {
		a.printer.Warning("File logging disabled: " + err.Error())
	}
	a.logger = logger
	a.log = logger.Slog()
	slog.SetDefault(a.log)

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	a.shutdown = shutdown

	a.log.Debug("Configuration loaded",
		"command", cmd.CommandPath(),
		"model_source", snap.Network.ModelSource,
		"models_dir", snap.FilePaths.ModelsDir,
		"log_file", logger.FilePath())
	return nil
}

// close flushes telemetry and the log file. Safe to call when setup did
// not run.
func (a *app) close() {
	var errs []error
	if a.shutdown != nil {
		timeout := config.Defaults().ShutdownTimeout()
		if a.snap != nil {
			timeout = a.snap.ShutdownTimeout()
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, a.shutdown(ctx))
		cancel()
		a.shutdown = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.printer.Warning("Shutdown: " + err.Error())
	}
}

// exactArgs is cobra.ExactArgs reported as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(cobra.ExactArgs(n)(cmd, args))
	}
}

// noArgs is cobra.NoArgs reported as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	return usageError(cobra.NoArgs(cmd, args))
}
