package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/deadman"
	"github.com/alfredjeanlab/sentinel/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the control plane",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := fleet.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(h); err != nil {
				return err
			}
		} else {
			bus := ui.RenderStatus("ok")
			if !h.BusConnected {
				bus = ui.RenderAlert("disconnected")
			}
			fmt.Fprintf(stdout, "Health:   %s\n", ui.RenderStatus(h.Status))
			fmt.Fprintf(stdout, "Agents:   %d\n", h.AgentCount)
			fmt.Fprintf(stdout, "Bus:      %s\n", bus)
			if h.Deadman != nil {
				fmt.Fprintf(stdout, "Deadman:  %s\n", deadmanSummary(h.Deadman))
			}
		}
		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}

func deadmanSummary(st *deadman.Status) string {
	if st.Tripped {
		s := ui.RenderStatus("tripped")
		if st.TrippedAt != nil {
			s += " at " + st.TrippedAt.Local().Format(timeLayout)
		}
		return s + fmt.Sprintf(" (reset: %s)", st.ResetPolicy)
	}
	return fmt.Sprintf("%s, timeout %s, last activity %s",
		ui.RenderStatus("armed"), st.Timeout, st.LastActivity.Local().Format(timeLayout))
}

var deadmanCmd = &cobra.Command{
	Use:     "deadman",
	Short:   "Inspect or re-arm the deadman supervisor",
	GroupID: "response",
}

var deadmanStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the deadman supervisor state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := api.DeadmanStatus(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Fprintln(stdout, deadmanSummary(st))
		return nil
	},
}

var deadmanResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Re-arm a tripped supervisor and restart its idle clock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := api.ResetDeadman(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Fprintln(stdout, deadmanSummary(st))
		return nil
	},
}

func init() {
	deadmanCmd.AddCommand(deadmanStatusCmd)
	deadmanCmd.AddCommand(deadmanResetCmd)
}
