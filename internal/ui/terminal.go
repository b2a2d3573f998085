package ui

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ShouldUseColor reports whether stdout gets ANSI colors. NO_COLOR wins,
// then CLICOLOR_FORCE=1, then CLICOLOR=0, then TTY detection.
func ShouldUseColor() bool {
	return colorEnabled(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

func colorEnabled(getenv func(string) string, tty bool) bool {
	switch {
	case getenv("NO_COLOR") != "":
		return false
	case strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1":
		return true
	case strings.TrimSpace(getenv("CLICOLOR")) == "0":
		return false
	}
	return tty
}

// Width returns the stdout terminal width, or 0 when stdout is not a
// terminal.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// Truncate shortens s to at most width visible characters, marking the cut
// with "...". ANSI color sequences are copied through without counting and
// a reset is appended when any were seen. A width of 0 leaves s unchanged.
func Truncate(s string, width int) string {
	if width <= 0 || visibleLen(s) <= width {
		return s
	}
	keep, tail := width-3, "..."
	if width <= 3 {
		keep, tail = width, ""
	}

	var b strings.Builder
	colored := false
	n := 0
	for i := 0; i < len(s); {
		if end := escapeEnd(s, i); end > i {
			b.WriteString(s[i:end])
			colored = true
			i = end
			continue
		}
		if n == keep {
			break
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		b.WriteRune(r)
		n++
		i += size
	}
	b.WriteString(tail)
	if colored {
		b.WriteString("\x1b[0m")
	}
	return b.String()
}

func visibleLen(s string) int {
	n := 0
	for i := 0; i < len(s); {
		if end := escapeEnd(s, i); end > i {
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		n++
		i += size
	}
	return n
}

// escapeEnd returns the index just past an SGR sequence starting at i, or i.
func escapeEnd(s string, i int) int {
	if i+1 >= len(s) || s[i] != 0x1b || s[i+1] != '[' {
		return i
	}
	for j := i + 2; j < len(s); j++ {
		if s[j] == 'm' {
			return j + 1
		}
	}
	return i
}
