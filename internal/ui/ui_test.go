package ui

import (
	"strings"
	"testing"
)

func TestRenderStatus(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	for status, code := range map[string]string{
		"active":   "114",
		"stale":    "214",
		"rejected": "203",
		"unknown":  "245",
	} {
		got := RenderStatus(status)
		if !strings.Contains(got, "38;5;"+code+"m") || !strings.Contains(got, status) {
			t.Errorf("RenderStatus(%q) = %q, want color %s", status, got, code)
		}
	}

	ForceNoColor()
	if got := RenderStatus("active"); got != "active" {
		t.Fatalf("expected plain text without color, got %q", got)
	}
}

func TestRenderScore(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	if got := RenderScore(0.75, 0.6); !strings.Contains(got, "203") || !strings.Contains(got, "0.75") {
		t.Fatalf("score above threshold should alert: %q", got)
	}
	if got := RenderScore(0.2, 0.6); !strings.Contains(got, "114") {
		t.Fatalf("score below threshold should be ok: %q", got)
	}
}

func TestColorEnabled(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
		tty  bool
		want bool
	}{
		{name: "TTY", tty: true, want: true},
		{name: "Pipe", tty: false, want: false},
		{name: "NoColorWins", env: map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, tty: true, want: false},
		{name: "Forced", env: map[string]string{"CLICOLOR_FORCE": "1"}, tty: false, want: true},
		{name: "Disabled", env: map[string]string{"CLICOLOR": "0"}, tty: true, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			getenv := func(k string) string { return tc.env[k] }
			if got := colorEnabled(getenv, tc.tty); got != tc.want {
				t.Fatalf("colorEnabled = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in    string
		width int
		want  string
	}{
		{"short", 0, "short"},
		{"short", 10, "short"},
		{"a longer line", 8, "a lon..."},
		{"abcdef", 2, "ab"},
		{"\x1b[1mbold\x1b[0m text", 6, "\x1b[1mbol...\x1b[0m"},
		{"\x1b[1mok\x1b[0m", 2, "\x1b[1mok\x1b[0m"},
	} {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}
