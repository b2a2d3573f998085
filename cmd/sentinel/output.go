package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

// ago renders t relative to now, e.g. "42s ago".
func ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String() + " ago"
}

func printAgentsTable(agents []*model.Agent) {
	now := time.Now()
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tADDRESS\tPARENT\tGEN\tPRIORITY\tLAST SEEN")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			a.ID,
			ui.RenderStatus(string(a.Status)),
			dash(a.Address),
			dash(a.ParentID),
			a.Generation,
			a.Priority,
			ago(a.LastSeen, now),
		)
	}
	w.Flush()
	fmt.Fprintf(stdout, "\n%d agents\n", len(agents))
}

func printAgent(a *model.Agent) {
	fmt.Fprintf(stdout, "ID:          %s\n", a.ID)
	fmt.Fprintf(stdout, "Status:      %s\n", ui.RenderStatus(string(a.Status)))
	fmt.Fprintf(stdout, "Address:     %s\n", dash(a.Address))
	fmt.Fprintf(stdout, "Last Seen:   %s\n", a.LastSeen.Local().Format(timeLayout))
	if a.ParentID != "" {
		fmt.Fprintf(stdout, "Parent:      %s (generation %d)\n", a.ParentID, a.Generation)
	}
	fmt.Fprintf(stdout, "Priority:    %d\n", a.Priority)
	if len(a.Metadata) > 0 {
		fmt.Fprintf(stdout, "Metadata:    %s\n", a.Metadata)
	}
}

func printCommandsTable(cmds []*model.Command) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tACTION\tTARGET\tSTATUS\tISSUED BY\tCREATED")
	for _, c := range cmds {
		action := string(c.Action)
		if c.Emergency {
			action = ui.RenderAlert(action + "!")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.AgentID,
			action,
			dash(c.Target),
			ui.RenderStatus(string(c.Status)),
			dash(c.IssuedBy),
			c.CreatedAt.Local().Format(timeLayout),
		)
	}
	w.Flush()
}

func printReportsTable(reports []*model.Report) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tTRAFFIC\tFINDINGS\tRECEIVED")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%s\n",
			r.ID,
			r.AgentID,
			r.Data.TrafficVolume,
			dash(strings.Join(r.Data.Findings, ",")),
			r.ReceivedAt.Local().Format(timeLayout),
		)
	}
	w.Flush()
}

func printTacticsTable(tactics []*model.Tactic) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tACTION\tSCORE\tUPDATED")
	for _, t := range tactics {
		updated := "-"
		if !t.UpdatedAt.IsZero() {
			updated = t.UpdatedAt.Local().Format(timeLayout)
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", t.Pattern, t.ResponseAction, t.Score, updated)
	}
	w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
