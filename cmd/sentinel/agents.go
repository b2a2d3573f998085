package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/client"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

var agentsCmd = &cobra.Command{
	Use:     "agents [id]",
	Short:   "List agents, or show one agent",
	GroupID: "fleet",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if len(args) == 1 {
			a, err := api.GetAgent(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(a)
			}
			printAgent(a)
			return nil
		}

		status, _ := cmd.Flags().GetString("status")
		var (
			agents []*model.Agent
			err    error
		)
		if status != "" {
			agents, err = api.ListAgentsByStatus(ctx, status)
		} else {
			agents, err = fleet.ListAgents(ctx)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(agents)
		}
		printAgentsTable(agents)
		return nil
	},
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register <id>",
	Short: "Register or update an agent record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("address")
		parent, _ := cmd.Flags().GetString("parent")
		generation, _ := cmd.Flags().GetInt("generation")
		priority, _ := cmd.Flags().GetInt("priority")
		metadata, _ := cmd.Flags().GetString("metadata")

		req := &client.RegisterRequest{
			AgentID:    args[0],
			Address:    address,
			ParentID:   parent,
			Generation: generation,
			Priority:   priority,
		}
		if metadata != "" {
			if !json.Valid([]byte(metadata)) {
				return fmt.Errorf("--metadata must be a JSON object")
			}
			req.Metadata = json.RawMessage(metadata)
		}

		a, err := fleet.Register(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(a)
		}
		printAgent(a)
		return nil
	},
}

var viewCmd = &cobra.Command{
	Use:     "view",
	Short:   "Show the aggregated fleet view",
	GroupID: "fleet",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		v, err := api.View(context.Background(), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(v)
		}

		if g := v.Graph; g != nil && g.Stats != nil {
			fmt.Fprintf(stdout, "Fleet: %d agents (%d active, %d stale, %d unknown), %d edges\n\n",
				g.Stats.Total, g.Stats.Active, g.Stats.Stale, g.Stats.Unknown, len(g.Edges))
		}
		printAgentsTable(v.Agents)
		if len(v.Reports) > 0 {
			fmt.Fprintln(stdout, "\nRecent reports:")
			printReportsTable(v.Reports)
		}
		if len(v.Commands) > 0 {
			fmt.Fprintln(stdout, "\nRecent commands:")
			printCommandsTable(v.Commands)
		}
		return nil
	},
}

func init() {
	agentsCmd.Flags().String("status", "", "filter by status (active, stale, unknown)")

	agentsRegisterCmd.Flags().String("address", "", "network address")
	agentsRegisterCmd.Flags().String("parent", "", "identity of the agent that introduced this one")
	agentsRegisterCmd.Flags().Int("generation", 0, "provenance depth")
	agentsRegisterCmd.Flags().Int("priority", 0, "operator priority")
	agentsRegisterCmd.Flags().String("metadata", "", "metadata as a JSON object")
	agentsCmd.AddCommand(agentsRegisterCmd)

	viewCmd.Flags().Int("limit", 0, "recent reports and commands to include (server default when 0)")
}
