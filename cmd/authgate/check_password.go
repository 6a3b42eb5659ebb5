// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/credential"
	"github.com/holomush/authgate/internal/messages"
)

// NewCheckPasswordCmd creates the check-password subcommand.
func NewCheckPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-password",
		Short: "Check a password against the configured rules",
		Long: `Read a password from the first line of stdin and report whether
registration would accept it. With --confirm the second line is the
confirmation and must match.`,
		Args: cobra.NoArgs,
		RunE: runCheckPassword,
	}
	cmd.Flags().Bool("confirm", false, "read a confirmation from the second line")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runCheckPassword(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	confirm, err := cmd.Flags().GetBool("confirm")
	if err != nil {
		return oops.Wrap(err)
	}
	catalog, err := messages.Bundled(cfg.Language)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	readLine := func() string {
		if !scanner.Scan() {
			return ""
		}
		return strings.TrimRight(scanner.Text(), "\r")
	}

	password := readLine()
	outcome := credential.ValidatePassword(password, cfg.Credentials())
	if outcome.Valid && confirm {
		outcome = credential.ValidateMatch(password, readLine())
	}
	if err := scanner.Err(); err != nil {
		return oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}

	if !outcome.Valid {
		cmd.Println(catalog.Get(outcome.Key, outcome.Args...))
		return oops.Code("PASSWORD_REJECTED").With("reason", outcome.Key).Errorf("password rejected")
	}
	cmd.Println("Password accepted")
	return nil
}
