package scorer

import (
	"strings"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

// Finding tags with special meaning.
const (
	cvePrefix        = "cve:"
	honeypotAlertTag = "honeypot_alert"
)

// reasonRules holds the domain thresholds used to explain an outlier.
type reasonRules struct {
	trafficCeiling float64
	knownVulns     map[string]bool
}

func newReasonRules(ceiling float64, known []string) reasonRules {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return reasonRules{trafficCeiling: ceiling, knownVulns: set}
}

func (r reasonRules) isKnownVulnerability(tag string) bool {
	t := strings.ToLower(strings.TrimSpace(tag))
	return strings.HasPrefix(t, cvePrefix) || r.knownVulns[t]
}

// reasons derives the reason codes for a flagged sample. When no domain
// threshold fires the sample is explained as a pure statistical outlier.
func (r reasonRules) reasons(s sample) []string {
	var out []string
	if s.traffic > r.trafficCeiling {
		out = append(out, model.ReasonHighTraffic)
	}
	var vuln, intruder bool
	for _, f := range s.findings {
		if strings.EqualFold(strings.TrimSpace(f), honeypotAlertTag) {
			intruder = true
		} else if r.isKnownVulnerability(f) {
			vuln = true
		}
	}
	if vuln {
		out = append(out, model.ReasonKnownVulnerability)
	}
	if intruder {
		out = append(out, model.ReasonIntruderDetected)
	}
	if len(out) == 0 {
		out = append(out, model.ReasonStatisticalOutlier)
	}
	return out
}
