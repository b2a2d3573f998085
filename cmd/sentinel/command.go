package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/client"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/ui"
)

var commandCmd = &cobra.Command{
	Use:     "command",
	Short:   "Send and inspect commands",
	GroupID: "response",
}

var commandSendCmd = &cobra.Command{
	Use:   "send <agent-id|*> <action>",
	Short: "Send a command to one agent, or to the whole fleet with *",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		params, _ := cmd.Flags().GetString("params")
		emergency, _ := cmd.Flags().GetBool("emergency")

		req := &client.CommandRequest{
			AgentID:   args[0],
			Action:    args[1],
			Target:    target,
			Emergency: emergency,
			IssuedBy:  actor,
		}
		if params != "" {
			if !json.Valid([]byte(params)) {
				return fmt.Errorf("--params must be valid JSON")
			}
			req.Params = json.RawMessage(params)
		}

		res, err := fleet.SubmitCommand(context.Background(), req)
		if res != nil {
			if jsonOutput {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			} else {
				printCommandResult(res)
			}
		}
		if err != nil {
			return err
		}
		if res.Status == model.CommandRejected {
			return errors.New("command rejected")
		}
		return nil
	},
}

func printCommandResult(res *client.CommandResult) {
	switch {
	case res.Status == model.CommandRejected:
		fmt.Fprintf(stdout, "%s: %s\n", ui.RenderStatus(string(res.Status)), res.Reason)
	case res.Command != nil:
		fmt.Fprintf(stdout, "%s %s (%s -> %s)\n", ui.RenderStatus(string(res.Status)), res.Command.ID, res.Command.Action, res.Command.AgentID)
	default:
		fmt.Fprintln(stdout, ui.RenderStatus(string(res.Status)))
	}
	if res.Warning != "" {
		fmt.Fprintf(stdout, "  %s\n", ui.RenderAlert("warning: "+res.Warning))
	}
	if res.Error != "" {
		fmt.Fprintf(stdout, "  %s\n", ui.RenderAlert(res.Error))
	}
}

var commandPendingCmd = &cobra.Command{
	Use:   "pending <agent-id>",
	Short: "Pull an agent's pending commands, marking them sent",
	Long: `Pull an agent's pending commands, oldest first.

The control plane marks every returned command sent, so a second pull
returns only commands queued since the first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmds, err := api.PullPendingCommands(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmds)
		}
		if len(cmds) == 0 {
			fmt.Fprintln(stdout, "No pending commands.")
			return nil
		}
		printCommandsTable(cmds)
		return nil
	},
}

var commandListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		limit, _ := cmd.Flags().GetInt("limit")

		cmds, err := api.ListCommands(context.Background(), agentID, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmds)
		}
		printCommandsTable(cmds)
		return nil
	},
}

func init() {
	actions := make([]string, 0)
	for _, a := range model.AllowedActions() {
		actions = append(actions, a.String())
	}
	commandSendCmd.Long = "Send a command to one agent, or to the whole fleet with *.\n\nAllowed actions: " + strings.Join(actions, ", ")

	commandSendCmd.Flags().String("target", "", "action target, e.g. an address for block_ip")
	commandSendCmd.Flags().String("params", "", "action parameters as JSON")
	commandSendCmd.Flags().Bool("emergency", false, "publish on the emergency channel")

	commandListCmd.Flags().String("agent", "", "only commands addressed to this agent")
	commandListCmd.Flags().Int("limit", 20, "maximum commands to show")

	commandCmd.AddCommand(commandSendCmd)
	commandCmd.AddCommand(commandListCmd)
	commandCmd.AddCommand(commandPendingCmd)
}
