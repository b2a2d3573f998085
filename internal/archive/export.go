package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

// DefaultLimit caps recent reports and commands in one snapshot.
const DefaultLimit = 1000

// Source is the read side of the store that an export needs.
type Source interface {
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	ListRecentReports(ctx context.Context, agentID string, limit int) ([]*model.Report, error)
	ListRecentCommands(ctx context.Context, agentID string, limit int) ([]*model.Command, error)
	ListTactics(ctx context.Context) ([]*model.Tactic, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	AgentCount   int       `json:"agent_count"`
	ReportCount  int       `json:"report_count"`
	CommandCount int       `json:"command_count"`
	TacticCount  int       `json:"tactic_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a header followed by agents (by ID), the most recent
// reports and commands (oldest first, at most limit each), and tactics
// (by pattern).
func ExportJSONL(ctx context.Context, src Source, limit int, w io.Writer) error {
	agents, err := src.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	reports, err := src.ListRecentReports(ctx, "", limit)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].ReceivedAt.Before(reports[j].ReceivedAt) })

	commands, err := src.ListRecentCommands(ctx, "", limit)
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}
	sort.SliceStable(commands, func(i, j int) bool { return commands[i].CreatedAt.Before(commands[j].CreatedAt) })

	tactics, err := src.ListTactics(ctx)
	if err != nil {
		return fmt.Errorf("list tactics: %w", err)
	}
	sort.Slice(tactics, func(i, j int) bool { return tactics[i].Pattern < tactics[j].Pattern })

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		AgentCount:   len(agents),
		ReportCount:  len(reports),
		CommandCount: len(commands),
		TacticCount:  len(tactics),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, a := range agents {
		if err := enc.Encode(record{Type: "agent", Data: a}); err != nil {
			return fmt.Errorf("encode agent %s: %w", a.ID, err)
		}
	}
	for _, r := range reports {
		if err := enc.Encode(record{Type: "report", Data: r}); err != nil {
			return fmt.Errorf("encode report %s: %w", r.ID, err)
		}
	}
	for _, c := range commands {
		if err := enc.Encode(record{Type: "command", Data: c}); err != nil {
			return fmt.Errorf("encode command %s: %w", c.ID, err)
		}
	}
	for _, t := range tactics {
		if err := enc.Encode(record{Type: "tactic", Data: t}); err != nil {
			return fmt.Errorf("encode tactic %s: %w", t.Pattern, err)
		}
	}
	return nil
}
