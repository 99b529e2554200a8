package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the verification server is up",
	GroupID: "system",
	Example: "  vd health\n  vd health --wait 30s   # block until the server answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		ctx := context.Background()
		if wait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, wait)
			defer cancel()
		}

		start := time.Now()
		status, err := pollHealth(ctx, vdClient.Health, wait > 0, 500*time.Millisecond)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			return fmt.Errorf("checking health over %s: %w", transport, err)
		}

		if jsonOutput {
			printJSON(map[string]any{"status": status, "transport": transport, "latency_ms": elapsed.Milliseconds()})
		} else {
			fmt.Printf("%s %s via %s (%s)\n", ui.RenderPass("✓"), status, transport, ui.RenderMuted(elapsed.String()))
		}
		return nil
	},
}

// pollHealth calls check until it reports "ok". Without retry it gives up
// after the first answer; with retry it keeps trying every interval until
// ctx ends.
func pollHealth(ctx context.Context, check func(context.Context) (string, error), retry bool, interval time.Duration) (string, error) {
	for {
		status, err := check(ctx)
		if err == nil && status != "ok" {
			err = fmt.Errorf("unhealthy: %s", status)
		}
		if err == nil || !retry {
			return status, err
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(interval):
		}
	}
}

func init() {
	healthCmd.Flags().Duration("wait", 0, "keep retrying for up to this long")
}
