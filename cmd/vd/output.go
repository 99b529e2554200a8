package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alfredjeanlab/verifyd/internal/client"
	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/ui"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

const barWidth = 20

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printSessionHeader(s *model.Session) {
	fmt.Printf("ID:             %s\n", s.ID)
	fmt.Printf("Submission:     %s\n", s.SubmissionID)
	fmt.Printf("Status:         %s\n", s.Status)
	fmt.Printf("Licensed agent: %s\n", s.LicensedAgentID)
	if s.BufferAgentID != "" {
		fmt.Printf("Buffer agent:   %s\n", s.BufferAgentID)
	}
	fmt.Printf("Started At:     %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	if s.TransferredAt != nil {
		fmt.Printf("Transferred At: %s\n", s.TransferredAt.Format("2006-01-02 15:04:05"))
	}
}

func printSessionTable(d *model.SessionDetail) {
	printSessionHeader(d.Session)
	fmt.Printf("Progress:       %s\n", ui.ProgressBar(d.Progress, barWidth, d.CanTransfer))
	fmt.Println()
	printItemTable(d.Items)
}

func printItemTable(items []*model.Item) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OK\tID\tCATEGORY\tFIELD\tVALUE")
	for _, it := range items {
		value := it.VerifiedValue
		if len(value) > 40 {
			value = value[:37] + "..."
		}
		if it.IsModified {
			value = ui.RenderAccent(value) + ui.RenderMuted(" (was "+it.OriginalValue+")")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ui.Checkbox(it.IsVerified),
			it.ID,
			it.FieldCategory,
			it.FieldName,
			value,
		)
	}
	w.Flush()
}

func printItem(it *model.Item) {
	fmt.Printf("%s %s %s = %q (revision %d)\n",
		ui.Checkbox(it.IsVerified), it.ID, it.FieldName, it.VerifiedValue, it.Revision)
}

func printProgress(p *verify.ProgressReport) {
	fmt.Printf("%s  %d/%d verified, threshold %d%%\n",
		ui.ProgressBar(p.Progress, barWidth, p.CanTransfer), p.Verified, p.Total, p.Threshold)
	if p.CanTransfer {
		fmt.Println(ui.RenderPass("Ready to transfer"))
		return
	}
	for _, r := range p.Reasons {
		fmt.Printf("  %s %s\n", ui.RenderFail("✗"), r)
	}
}

func printTransfer(res *verify.TransferResult) {
	who := res.BufferAgentName
	if who == "" {
		who = "(no buffer agent)"
	}
	fmt.Printf("%s session %s to licensed agent %s at %d%% (buffer: %s)\n",
		ui.RenderPass("Transferred"), res.Session.ID, res.Session.LicensedAgentID, res.Progress, who)
}

func printCallUpdates(info *model.LeadInfo, updates []*model.CallUpdate) {
	fmt.Printf("Submission: %s\n", info.SubmissionID)
	fmt.Printf("Customer:   %s\n", info.CustomerName)
	fmt.Printf("Vendor:     %s\n", info.LeadVendor)
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tACTOR\tDETAILS")
	for _, u := range updates {
		actor := u.ActorID
		if u.ActorName != "" {
			actor = u.ActorName + " (" + u.ActorID + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			u.CreatedAt.Format("2006-01-02 15:04:05"),
			u.EventType,
			actor,
			ui.RenderMuted(string(u.EventDetails)),
		)
	}
	w.Flush()
}

func printRoster(entries []client.RosterEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tSESSION\tPROGRESS\tIDLE")
	for _, e := range entries {
		progress := ""
		if e.Progress != nil {
			progress = ui.ProgressBar(*e.Progress, 10, e.CanTransfer)
		}
		status := e.Status
		if status == "on_call" {
			status = ui.RenderAccent(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0fs\n", e.AgentID, status, e.SessionID, progress, e.IdleSecs)
	}
	w.Flush()
	fmt.Printf("\n%d agents\n", len(entries))
}
