package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

// tacticFile is the TOML layout accepted by "tactic import":
//
//	[[tactic]]
//	pattern = "high_traffic+intruder_detected"
//	response_action = "isolate_host"
//	score = 0.9
type tacticFile struct {
	Tactics []*model.Tactic `toml:"tactic"`
}

// loadTacticFile decodes and validates every tactic in path. Patterns are
// canonicalized so reason codes may be listed in any order.
func loadTacticFile(path string) ([]*model.Tactic, error) {
	var f tacticFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("reading %s: unknown keys %v", path, undecoded)
	}
	seen := make(map[string]bool, len(f.Tactics))
	for i, t := range f.Tactics {
		t.Pattern = model.CanonicalPattern(strings.Split(t.Pattern, model.PatternSeparator))
		if err := model.ValidateTactic(t); err != nil {
			return nil, fmt.Errorf("tactic #%d: %w", i+1, err)
		}
		if seen[t.Pattern] {
			return nil, fmt.Errorf("tactic #%d: duplicate pattern %q", i+1, t.Pattern)
		}
		seen[t.Pattern] = true
	}
	return f.Tactics, nil
}

var tacticCmd = &cobra.Command{
	Use:     "tactic",
	Short:   "Manage learned response tactics",
	GroupID: "response",
}

var tacticListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tactics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tactics, err := api.ListTactics(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tactics)
		}
		printTacticsTable(tactics)
		return nil
	},
}

var tacticSetCmd = &cobra.Command{
	Use:   "set <pattern> <action> <score>",
	Short: "Create or replace the tactic for a reason pattern",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[2], err)
		}
		t, err := api.SetTactic(context.Background(), args[0], model.Action(args[1]), score)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(t)
		}
		fmt.Fprintf(stdout, "tactic %s -> %s (%.2f)\n", t.Pattern, t.ResponseAction, t.Score)
		return nil
	},
}

var tacticDeleteCmd = &cobra.Command{
	Use:   "delete <pattern>",
	Short: "Delete a tactic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.DeleteTactic(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "tactic %s deleted\n", args[0])
		return nil
	},
}

var tacticImportCmd = &cobra.Command{
	Use:   "import <file.toml>",
	Short: "Load tactics from a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tactics, err := loadTacticFile(args[0])
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if dryRun {
			printTacticsTable(tactics)
			return nil
		}
		ctx := context.Background()
		for _, t := range tactics {
			if _, err := api.SetTactic(ctx, t.Pattern, t.ResponseAction, t.Score); err != nil {
				return fmt.Errorf("importing %s: %w", t.Pattern, err)
			}
		}
		fmt.Fprintf(stdout, "%d tactics imported\n", len(tactics))
		return nil
	},
}

func init() {
	tacticImportCmd.Flags().Bool("dry-run", false, "validate and print without uploading")

	tacticCmd.AddCommand(tacticListCmd)
	tacticCmd.AddCommand(tacticSetCmd)
	tacticCmd.AddCommand(tacticDeleteCmd)
	tacticCmd.AddCommand(tacticImportCmd)
}
