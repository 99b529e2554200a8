package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:     "audit <submission-id>",
	Short:   "Show the call log for a submission",
	GroupID: "leads",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		info, err := httpClient.LeadInfo(ctx, args[0])
		if err != nil {
			return fmt.Errorf("getting lead %s: %w", args[0], err)
		}
		updates, err := httpClient.LeadAudit(ctx, args[0])
		if err != nil {
			return fmt.Errorf("getting call log for %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(map[string]any{"lead": info, "updates": updates})
		} else {
			printCallUpdates(info, updates)
		}
		return nil
	},
}

var rosterCmd = &cobra.Command{
	Use:     "roster",
	Short:   "Show which agents are on a call",
	GroupID: "leads",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := httpClient.Roster(context.Background())
		if err != nil {
			return fmt.Errorf("getting roster: %w", err)
		}
		if jsonOutput {
			printJSON(entries)
		} else {
			printRoster(entries)
		}
		return nil
	},
}
