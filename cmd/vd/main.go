package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/client"
	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	authToken  string
	jsonOutput bool

	actorID   string
	actorType string
	actorName string

	// vdClient is the transport selected by --transport. httpClient is always
	// set; progress, audit, roster and watch are HTTP-only.
	vdClient   client.Client
	httpClient *client.HTTPClient
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultActorName() string {
	if s := os.Getenv("VERIFY_ACTOR_NAME"); s != "" {
		return s
	}
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		return strings.TrimSpace(string(out))
	}
	return ""
}

// currentActor builds the acting identity from flags.
func currentActor() (model.Actor, error) {
	a := model.Actor{ID: actorID, Type: model.ActorType(actorType), Name: actorName}
	switch a.Type {
	case model.ActorLicensedAgent, model.ActorBufferAgent:
	default:
		return a, fmt.Errorf("unknown actor type %q (must be licensed_agent or buffer_agent)", actorType)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "vd <command>",
	Short:        "CLI client for the verification service",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		actor, err := currentActor()
		if err != nil {
			return err
		}
		httpClient = client.NewHTTPClient(httpURL, authToken, actor)
		switch transport {
		case "http":
			vdClient = httpClient
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, authToken, actor)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			vdClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if vdClient != nil {
			vdClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("VERIFY_HTTP_URL", "http://localhost:8080"), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("VERIFY_SERVER", "localhost:9090"), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("VERIFY_AUTH_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor-id", os.Getenv("VERIFY_ACTOR_ID"), "agent id writes are attributed to")
	rootCmd.PersistentFlags().StringVar(&actorType, "actor-type", envOr("VERIFY_ACTOR_TYPE", string(model.ActorLicensedAgent)), "actor type (licensed_agent or buffer_agent)")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor-name", defaultActorName(), "display name for the audit log")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "leads", Title: "Leads & agents:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Sessions
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(watchCmd)

	// Leads & agents
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(rosterCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
