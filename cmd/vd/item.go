package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var itemCmd = &cobra.Command{
	Use:     "item",
	Short:   "Edit and confirm verification items",
	GroupID: "sessions",
}

var itemSetCmd = &cobra.Command{
	Use:   "set <item-id> <value>",
	Short: "Set an item's verified value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		it, err := vdClient.UpdateValue(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("updating item %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(it)
		} else {
			printItem(it)
		}
		return nil
	},
}

var itemVerifyCmd = &cobra.Command{
	Use:   "verify <item-id>...",
	Short: "Mark items as verified",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uncheck, _ := cmd.Flags().GetBool("uncheck")
		for _, id := range args {
			it, err := vdClient.ToggleVerified(context.Background(), id, !uncheck)
			if err != nil {
				return fmt.Errorf("toggling item %s: %w", id, err)
			}
			if jsonOutput {
				printJSON(it)
			} else {
				printItem(it)
			}
		}
		return nil
	},
}

func init() {
	itemVerifyCmd.Flags().Bool("uncheck", false, "clear the verified flag instead")

	itemCmd.AddCommand(itemSetCmd)
	itemCmd.AddCommand(itemVerifyCmd)
}
