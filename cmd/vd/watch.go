package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/client"
	"github.com/alfredjeanlab/verifyd/internal/events"
	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/observer"
	"github.com/alfredjeanlab/verifyd/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch <session-id>",
	Short:   "Follow a session live, optionally editing it from stdin",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		debounce, _ := cmd.Flags().GetDuration("debounce")
		natsURL, _ := cmd.Flags().GetString("nats-url")
		interactive, _ := cmd.Flags().GetBool("interactive")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := watchSubscriber(natsURL)
		if err != nil {
			return err
		}
		defer sub.Close()

		printer := newChangePrinter()
		view, err := observer.Attach(ctx, vdClient, sub, sessionID,
			observer.WithDebounce(debounce),
			observer.WithOnChange(printer.print),
			observer.WithOnError(func(itemID string, err error) {
				fmt.Fprintf(os.Stderr, "%s write to %s discarded: %v\n", ui.RenderFail("✗"), itemID, err)
			}),
		)
		if err != nil {
			return fmt.Errorf("attaching to session %s: %w", sessionID, err)
		}
		defer view.Close()

		printer.print(view.Snapshot())

		if !interactive {
			<-ctx.Done()
			return nil
		}

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return view.Flush(context.Background())
			case line, ok := <-lines:
				if !ok {
					return view.Flush(context.Background())
				}
				if err := runWatchCommand(ctx, view, line); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			}
		}
	},
}

// watchSubscriber connects to NATS when a URL is given and otherwise
// follows the server's SSE stream.
func watchSubscriber(natsURL string) (events.Subscriber, error) {
	if natsURL == "" {
		return client.NewStreamSubscriber(httpClient, nil), nil
	}
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return sub, nil
}

// watchCommand is one parsed line of interactive input.
type watchCommand struct {
	op     string // set, check, uncheck, flush
	itemID string
	value  string
}

// parseWatchCommand parses "set <item> <value...>", "check <item>",
// "uncheck <item>" and "flush".
func parseWatchCommand(line string) (watchCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return watchCommand{}, fmt.Errorf("empty command")
	}
	c := watchCommand{op: fields[0]}
	switch c.op {
	case "flush":
		if len(fields) != 1 {
			return c, fmt.Errorf("usage: flush")
		}
	case "check", "uncheck":
		if len(fields) != 2 {
			return c, fmt.Errorf("usage: %s <item-id>", c.op)
		}
		c.itemID = fields[1]
	case "set":
		if len(fields) < 2 {
			return c, fmt.Errorf("usage: set <item-id> <value>")
		}
		c.itemID = fields[1]
		// Keep the value's inner spacing.
		rest := strings.TrimSpace(line)
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "set"))
		c.value = strings.TrimSpace(strings.TrimPrefix(rest, c.itemID))
	default:
		return c, fmt.Errorf("unknown command %q (set, check, uncheck, flush)", c.op)
	}
	return c, nil
}

func runWatchCommand(ctx context.Context, view *observer.View, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	c, err := parseWatchCommand(line)
	if err != nil {
		return err
	}
	switch c.op {
	case "set":
		return view.SetValue(c.itemID, c.value)
	case "check", "uncheck":
		_, err := view.ToggleVerified(ctx, c.itemID, c.op == "check")
		return err
	default:
		return view.Flush(ctx)
	}
}

// changePrinter prints the items and progress that changed since the last
// snapshot it saw.
type changePrinter struct {
	mu       sync.Mutex
	seen     map[string]string
	progress int
	status   model.Status
}

func newChangePrinter() *changePrinter {
	return &changePrinter{seen: make(map[string]string), progress: -1}
}

func (p *changePrinter) print(d *model.SessionDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if jsonOutput {
		printJSON(d)
		return
	}
	ts := ui.RenderMuted(time.Now().Format("15:04:05"))
	for _, it := range diffItems(d.Items, p.seen) {
		fmt.Printf("%s %s %s = %q\n", ts, ui.Checkbox(it.IsVerified), it.FieldName, it.VerifiedValue)
	}
	if d.Progress != p.progress {
		p.progress = d.Progress
		fmt.Printf("%s progress %s\n", ts, ui.ProgressBar(d.Progress, barWidth, d.CanTransfer))
	}
	if d.Session != nil && d.Session.Status != p.status {
		if p.status != "" {
			fmt.Printf("%s status %s\n", ts, ui.RenderAccent(string(d.Session.Status)))
		}
		p.status = d.Session.Status
	}
}

// diffItems returns items whose displayed state differs from seen and
// updates seen in place.
func diffItems(items []*model.Item, seen map[string]string) []*model.Item {
	var changed []*model.Item
	for _, it := range items {
		key := fmt.Sprintf("%t|%s", it.IsVerified, it.VerifiedValue)
		if prev, ok := seen[it.ID]; !ok || prev != key {
			changed = append(changed, it)
		}
		seen[it.ID] = key
	}
	return changed
}

func init() {
	watchCmd.Flags().Duration("debounce", observer.DefaultDebounce, "delay before a typed value is written")
	watchCmd.Flags().String("nats-url", os.Getenv("VERIFY_NATS_URL"), "follow changes over NATS instead of the server stream")
	watchCmd.Flags().BoolP("interactive", "i", false, "read set/check/uncheck/flush commands from stdin")
}
