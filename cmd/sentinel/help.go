package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/ui"
)

var (
	// Group and section headers such as "Fleet:" or "Flags:".
	reHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)
	// A command name in a listing: two-space indent, name, two spaces.
	reCommandName = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)
	// Flag value types, e.g. "--limit int".
	reFlagValue = regexp.MustCompile(`(--?\S+\s+)(string|int|float|duration|strings)\b`)
	reDefault   = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc renders cobra's usage text with ANSI styling when the
// terminal supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reHeader.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reCommandName.ReplaceAllString(s, "$1"+ui.RenderCommand("$2")+"$3")
	s = reFlagValue.ReplaceAllString(s, "$1"+ui.RenderMuted("$2"))
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
