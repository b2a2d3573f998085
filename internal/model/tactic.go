package model

import "time"

// Tactic maps a canonical reason-code pattern to a previously chosen response.
type Tactic struct {
	Pattern        string    `json:"pattern" toml:"pattern"`
	ResponseAction Action    `json:"response_action" toml:"response_action"`
	Score          float64   `json:"score" toml:"score"`
	UpdatedAt      time.Time `json:"updated_at" toml:"-"`
}

// ThreatAssessment is the scorer's advisory verdict for one report. It is
// never persisted.
type ThreatAssessment struct {
	AgentID         string   `json:"agent_id"`
	ReportID        string   `json:"report_id,omitempty"`
	Evaluated       bool     `json:"evaluated"`
	Anomalous       bool     `json:"anomalous"`
	Score           float64  `json:"score"`
	Reasons         []string `json:"reasons,omitempty"`
	Pattern         string   `json:"pattern,omitempty"`
	SuggestedAction Action   `json:"suggested_action,omitempty"`
	TacticScore     float64  `json:"tactic_score,omitempty"`
	TacticMatched   bool     `json:"tactic_matched"`
}
