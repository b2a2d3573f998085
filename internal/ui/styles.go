package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 214 // amber
	colorAlert  = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderAlert returns s in the alert (red) color.
func RenderAlert(s string) string { return paint(colorAlert, s) }

// RenderStatus colors an agent, command or health status word.
// Unrecognized values are returned muted.
func RenderStatus(status string) string {
	switch status {
	case "active", "sent", "ok", "registered":
		return paint(colorOK, status)
	case "stale", "pending", "degraded":
		return paint(colorWarn, status)
	case "rejected", "tripped":
		return paint(colorAlert, status)
	default:
		return paint(colorMuted, status)
	}
}

// RenderScore colors an anomaly score against threshold.
func RenderScore(score, threshold float64) string {
	s := fmt.Sprintf("%.2f", score)
	if score >= threshold {
		return paint(colorAlert, s)
	}
	return paint(colorOK, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
