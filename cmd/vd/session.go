package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/client"
	"github.com/alfredjeanlab/verifyd/internal/model"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Start and inspect verification sessions",
	GroupID: "sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a verification session for a submission",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		submission, _ := cmd.Flags().GetString("submission")
		licensed, _ := cmd.Flags().GetString("licensed-agent")
		buffer, _ := cmd.Flags().GetString("buffer-agent")
		leadFile, _ := cmd.Flags().GetString("lead-file")

		if licensed == "" && model.ActorType(actorType) == model.ActorLicensedAgent {
			licensed = actorID
		}
		req := &client.CreateSessionRequest{
			SubmissionID:    submission,
			LicensedAgentID: licensed,
			BufferAgentID:   buffer,
		}
		if leadFile != "" {
			lead, err := readLead(leadFile)
			if err != nil {
				return err
			}
			req.LeadSnapshot = lead
		}

		d, err := vdClient.CreateSession(context.Background(), req)
		if err != nil {
			return fmt.Errorf("starting session: %w", err)
		}
		if jsonOutput {
			printJSON(d)
		} else {
			printSessionTable(d)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := vdClient.GetSession(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting session %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(d)
		} else {
			printSessionTable(d)
		}
		return nil
	},
}

var sessionProgressCmd = &cobra.Command{
	Use:   "progress <session-id>",
	Short: "Show completion and transfer availability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := httpClient.Progress(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting progress for %s: %w", args[0], err)
		}
		if jsonOutput {
			printJSON(p)
		} else {
			printProgress(p)
		}
		return nil
	},
}

// readLead decodes a lead snapshot from path, or stdin when path is "-".
func readLead(path string) (*model.Lead, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening lead file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var lead model.Lead
	if err := json.NewDecoder(r).Decode(&lead); err != nil {
		return nil, fmt.Errorf("decoding lead file: %w", err)
	}
	return &lead, nil
}

func init() {
	sessionStartCmd.Flags().String("submission", "", "submission id of the lead to verify")
	sessionStartCmd.Flags().String("licensed-agent", "", "licensed agent taking the call (default: --actor-id)")
	sessionStartCmd.Flags().String("buffer-agent", "", "buffer agent handing off (default: the lead's)")
	sessionStartCmd.Flags().String("lead-file", "", "JSON lead snapshot to verify instead of the stored lead (- for stdin)")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionProgressCmd)
}
