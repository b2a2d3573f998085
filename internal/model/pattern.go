package model

import (
	"sort"
	"strings"
)

// Reason codes attached to anomalous reports.
const (
	ReasonHighTraffic        = "high_traffic"
	ReasonKnownVulnerability = "known_vulnerability"
	ReasonIntruderDetected   = "intruder_detected"
	ReasonStatisticalOutlier = "statistical_outlier"
)

// PatternSeparator joins reason codes into a pattern key.
const PatternSeparator = "+"

// CanonicalPattern returns the sorted, de-duplicated reason codes joined by
// PatternSeparator. Empty codes are dropped.
func CanonicalPattern(reasons []string) string {
	set := make(map[string]bool, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		r = strings.TrimSpace(r)
		if r == "" || set[r] {
			continue
		}
		set[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return strings.Join(out, PatternSeparator)
}
