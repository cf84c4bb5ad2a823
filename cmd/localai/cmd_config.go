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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigShowCmd(a), newConfigValidateCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var (
		format   string
		timeouts bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every setting after defaults, file and environment are applied",
		Example: `  localai config show
  localai config show --format json --timeouts`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any = a.snap.Summary()
			if timeouts {
				v = a.snap.TimeoutSummary()
			}

			var (
				out []byte
				err error
			)
			switch format {
			case "yaml":
				out, err = yaml.Marshal(v)
			case "json":
				out, err = json.MarshalIndent(v, "", "  ")
				out = append(out, '\n')
			default:
				return usageError(fmt.Errorf("--format must be yaml or json, got %q", format))
			}
			if err != nil {
				return fmt.Errorf("encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	cmd.Flags().BoolVar(&timeouts, "timeouts", false, "print only the timeout summary, in seconds")
	return cmd
}

func newConfigValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit 0 when valid",
		Long: `Load and validate the configuration without doing anything else. An
invalid setting is reported with its variable, value and bound, and the
command exits with status 1.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printer.Success("Configuration is valid")
			return nil
		},
	}
}
