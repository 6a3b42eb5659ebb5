// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/xdg"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var output string
	var validate string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or check the config file JSON Schema",
		Long: `Print the JSON Schema for config.yaml, write it to a file with --output,
or check a config file against it with --validate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validate != "" {
				if err := config.ValidateFile(validate); err != nil {
					return err
				}
				cmd.Printf("%s is valid\n", validate)
				return nil
			}

			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(append(data, '\n'))
				return oops.Wrap(err)
			}
			if err := xdg.EnsureDir(filepath.Dir(output)); err != nil {
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o600); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", output).Wrap(err)
			}
			cmd.Printf("Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema to this file instead of stdout")
	cmd.Flags().StringVar(&validate, "validate", "", "check this config file against the schema")
	return cmd
}
