// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/store"
)

// schemaMigrator is the part of *store.Migrator the migrate commands use.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Status() (store.Status, error)
	Force(version int) error
	Close() error
}

// migratorFactory opens a migrator. Tests replace it.
var migratorFactory = func(databaseURL string) (schemaMigrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply, roll back or inspect the auth and audit schema. The database is
read from AUTHGATE_DATABASE_URL.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m schemaMigrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return printStatus(cmd, m)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (one step by default, --all for everything)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return oops.Wrap(err)
			}
			return withMigrator(cmd, func(m schemaMigrator) error {
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return err
				}
				return printStatus(cmd, m)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m schemaMigrator) error {
				return printStatus(cmd, m)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m schemaMigrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("%d (dirty)\n", v)
					return nil
				}
				cmd.Printf("%d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (dirty database recovery)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(m schemaMigrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(schemaMigrator) error) (err error) {
	url, err := getDatabaseURL()
	if err != nil {
		return err
	}
	m, err := migratorFactory(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

func printStatus(cmd *cobra.Command, m schemaMigrator) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	name := status.Name
	if name == "" {
		name = "none"
	}
	cmd.Printf("Version: %d (%s)\n", status.Version, name)
	if status.Dirty {
		cmd.Println("State:   DIRTY (fix the schema, then run 'authgate migrate force')")
	}
	if len(status.Pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	pending := make([]string, len(status.Pending))
	for i, v := range status.Pending {
		pending[i] = fmt.Sprint(v)
	}
	cmd.Printf("Pending: %s\n", strings.Join(pending, ", "))
	return nil
}

// parseForceVersion reads the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer: %v", err)
	}
	return version, nil
}

func getDatabaseURL() (string, error) {
	secrets, err := config.LoadSecrets()
	if err != nil {
		return "", err
	}
	if secrets.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("AUTHGATE_DATABASE_URL environment variable is required")
	}
	return secrets.DatabaseURL, nil
}
