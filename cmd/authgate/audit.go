// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/internal/store"
)

// auditReader lists stored security events.
type auditReader interface {
	ListByPlayer(ctx context.Context, playerID uuid.UUID, limit int) ([]security.Event, error)
}

// auditReaderFactory opens the audit store. Tests replace it.
var auditReaderFactory = func(ctx context.Context, databaseURL string) (auditReader, func(), error) {
	pool, err := store.Connect(ctx, store.ConnectConfig{URL: databaseURL, Attempts: 1})
	if err != nil {
		return nil, nil, err
	}
	return store.NewAuditSink(pool), pool.Close, nil
}

// NewAuditCmd creates the audit subcommand.
func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the security audit trail",
	}

	var player string
	var limit int
	var format string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent security incidents for a player",
		Long: `List the most recent security incidents recorded by the postgres audit
sink for one player, newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			playerID, err := uuid.Parse(player)
			if err != nil {
				return oops.Code("INVALID_PLAYER").With("player", player).Errorf("--player must be a UUID: %v", err)
			}
			if format != "table" && format != "json" {
				return oops.Code("INVALID_FORMAT").Errorf("--format must be 'table' or 'json', got %q", format)
			}
			url, err := getDatabaseURL()
			if err != nil {
				return err
			}

			reader, closeFn, err := auditReaderFactory(cmd.Context(), url)
			if err != nil {
				return err
			}
			defer closeFn()

			events, err := reader.ListByPlayer(cmd.Context(), playerID, limit)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeEventsJSON(cmd.OutOrStdout(), events)
			}
			writeEventsTable(cmd.OutOrStdout(), events)
			return nil
		},
	}
	list.Flags().StringVar(&player, "player", "", "player UUID (required)")
	list.Flags().IntVar(&limit, "limit", store.DefaultAuditListLimit, "maximum number of events")
	list.Flags().StringVar(&format, "format", "table", "output format (table or json)")
	_ = list.MarkFlagRequired("player")
	cmd.AddCommand(list)

	return cmd
}

type eventJSON struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	PlayerID   string            `json:"player_id"`
	Address    string            `json:"address"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func writeEventsJSON(w io.Writer, events []security.Event) error {
	out := make([]eventJSON, len(events))
	for i, e := range events {
		out[i] = eventJSON{
			ID:         e.ID.String(),
			Kind:       string(e.Kind),
			PlayerID:   e.PlayerID.String(),
			Address:    e.Address.String(),
			Fields:     e.Fields,
			OccurredAt: e.OccurredAt.UTC(),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return oops.Code("AUDIT_OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

func writeEventsTable(w io.Writer, events []security.Event) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, "No incidents recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tKIND\tADDRESS\tDETAILS")
	for _, e := range events {
		details := make([]string, 0, len(e.Fields))
		for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
			details = append(details, k+"="+e.Fields[k])
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.OccurredAt.UTC().Format(time.RFC3339), e.Kind, e.Address, strings.Join(details, " "))
	}
	_ = tw.Flush()
}
