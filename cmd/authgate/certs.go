// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/tls"
	"github.com/holomush/authgate/internal/xdg"
)

// NewCertsCmd creates the certs subcommand.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage bridge TLS certificates",
	}

	var dir string
	var hosts []string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create the bridge CA, server and proxy client certificates",
		Long: `Create root-ca, bridge and proxy certificates for mutual TLS on the
bridge. Existing files are left untouched. Give the proxy root-ca.crt,
proxy.crt and proxy.key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				var err error
				if dir, err = xdg.CertsDir(); err != nil {
					return err
				}
			}
			created, err := tls.EnsureCertificates(dir, hosts, nil)
			if err != nil {
				return err
			}
			if !created {
				cmd.Printf("Certificates already present in %s\n", dir)
				return nil
			}
			cmd.Printf("Wrote certificates to %s\n", dir)
			return nil
		},
	}
	generate.Flags().StringVar(&dir, "dir", "", "output directory (default: XDG_CONFIG_HOME/authgate/certs)")
	generate.Flags().StringSliceVar(&hosts, "host", nil, "extra DNS name or IP for the bridge certificate")
	cmd.AddCommand(generate)

	return cmd
}
