// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "authgate - login gate for multi-server game proxies",
		Long: `authgate keeps players on the authentication server until they log in
with a password, tracks who is authenticated and from which address, and
locks out brute-force attempts.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/authgate/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewCheckPasswordCmd())
	cmd.AddCommand(NewAuditCmd())
	cmd.AddCommand(NewCertsCmd())

	return cmd
}
