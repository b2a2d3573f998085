package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/client"
	"github.com/alfredjeanlab/sentinel/internal/ui"
)

var (
	serverURL  string
	grpcAddr   string
	authToken  string
	jsonOutput bool
	noColor    bool
	actor      string

	// api serves REST-only operations; fleet is the transport chosen with
	// --grpc and serves the calls both transports share.
	api   *client.HTTPClient
	fleet client.FleetClient
)

func defaultActor() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func defaultServer() string {
	if s := os.Getenv("SENTINEL_SERVER"); s != "" {
		return s
	}
	if r := activeProfile(); r.URL != "" {
		return r.URL
	}
	return "http://localhost:8080"
}

func defaultGRPC() string {
	if s := os.Getenv("SENTINEL_GRPC"); s != "" {
		return s
	}
	return activeProfile().GRPCAddr
}

func defaultToken() string {
	if s := os.Getenv("SENTINEL_TOKEN"); s != "" {
		return s
	}
	return activeProfile().Token
}

// connect builds the clients for commands that talk to a server.
func connect(cmd *cobra.Command, args []string) error {
	if noColor {
		ui.ForceNoColor()
	}
	api = client.NewHTTPClient(serverURL, authToken)
	if grpcAddr == "" {
		fleet = api
		return nil
	}
	c, err := client.NewGRPCClient(grpcAddr, authToken)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	fleet = c
	return nil
}

// local skips client setup for commands that never reach a server.
func local(cmd *cobra.Command, args []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:               "sentinel <command>",
	Short:             "Fleet telemetry control plane",
	SilenceUsage:      true,
	PersistentPreRunE: connect,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if fleet != nil {
			fleet.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "HTTP API base URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", defaultGRPC(), "gRPC address; when set, shared calls use gRPC")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "operator name recorded on commands")

	rootCmd.AddGroup(
		&cobra.Group{ID: "fleet", Title: "Fleet:"},
		&cobra.Group{ID: "response", Title: "Response:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Fleet
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(watchCmd)

	// Response
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(tacticCmd)
	rootCmd.AddCommand(deadmanCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
