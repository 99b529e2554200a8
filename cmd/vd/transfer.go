package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/ui"
)

var transferCmd = &cobra.Command{
	Use:     "transfer <session-id>",
	Short:   "Hand a verified session to the licensed agent",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := vdClient.Transfer(context.Background(), args[0])
		var ge *model.GateError
		if errors.As(err, &ge) && !jsonOutput {
			fmt.Printf("%s at %d%% (threshold %d%%)\n", ui.RenderFail("Transfer blocked"), ge.Progress, ge.Threshold)
			for _, r := range ge.Reasons {
				fmt.Printf("  %s %s\n", ui.RenderFail("✗"), r)
			}
		}
		if err != nil {
			return fmt.Errorf("transferring session %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(res)
		} else {
			printTransfer(res)
		}
		return nil
	},
}
