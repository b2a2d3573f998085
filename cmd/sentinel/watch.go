package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream live fleet events",
	GroupID: "fleet",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("types")
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		width := ui.Width()
		return api.Watch(ctx, types, func(evt *hub.Event) error {
			if jsonOutput {
				data, err := json.Marshal(evt)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, string(data))
				return nil
			}
			fmt.Fprintln(stdout, ui.Truncate(formatEvent(evt), width))
			return nil
		})
	},
}

// formatEvent renders one event as a single line.
func formatEvent(evt *hub.Event) string {
	ts := ui.RenderMuted(evt.Time.Local().Format(time.TimeOnly))
	head := fmt.Sprintf("%s %-16s", ts, evt.Type)

	switch evt.Type {
	case hub.EventReport:
		var r model.Report
		if json.Unmarshal(evt.Data, &r) == nil {
			return fmt.Sprintf("%s %s traffic=%.0f findings=%s", head, r.AgentID, r.Data.TrafficVolume, dash(strings.Join(r.Data.Findings, ",")))
		}
	case hub.EventThreatAlert:
		var a model.ThreatAssessment
		if json.Unmarshal(evt.Data, &a) == nil {
			return fmt.Sprintf("%s %s %s score=%.2f pattern=%s suggest=%s",
				head, ui.RenderAlert("ALERT"), a.AgentID, a.Score, dash(a.Pattern), a.SuggestedAction)
		}
	case hub.EventCommand:
		var c model.Command
		if json.Unmarshal(evt.Data, &c) == nil {
			return fmt.Sprintf("%s %s %s -> %s %s", head, c.ID, c.Action, c.AgentID, ui.RenderStatus(string(c.Status)))
		}
	case hub.EventAgentRegistered, hub.EventAgentStale:
		var a model.Agent
		if json.Unmarshal(evt.Data, &a) == nil {
			return fmt.Sprintf("%s %s %s", head, a.ID, ui.RenderStatus(string(a.Status)))
		}
	case hub.EventDirective:
		return fmt.Sprintf("%s %s %s", head, ui.RenderAlert("DIRECTIVE"), evt.Data)
	}
	return fmt.Sprintf("%s %s", head, evt.Data)
}

func init() {
	watchCmd.Flags().StringSlice("types", nil, "event types to stream (default all)")
}
