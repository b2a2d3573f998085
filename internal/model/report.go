package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Telemetry is the payload carried by a report. Unknown keys are preserved
// in Extra so the stored payload round-trips what the agent sent.
type Telemetry struct {
	TrafficVolume float64  `json:"trafficVolume"`
	Findings      []string `json:"findings,omitempty"`
	Address       string   `json:"ip,omitempty"`
	ParentID      string   `json:"parentId,omitempty"`
	Generation    int      `json:"generation,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var telemetryKeys = map[string]bool{
	"trafficVolume": true,
	"findings":      true,
	"ip":            true,
	"parentId":      true,
	"generation":    true,
}

// UnmarshalJSON decodes the known fields strictly and keeps the rest in Extra.
func (t *Telemetry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type known Telemetry
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*t = Telemetry(k)

	for key, v := range raw {
		if telemetryKeys[key] {
			continue
		}
		if t.Extra == nil {
			t.Extra = make(map[string]json.RawMessage)
		}
		t.Extra[key] = v
	}
	return nil
}

// MarshalJSON merges Extra back into the encoded object.
func (t Telemetry) MarshalJSON() ([]byte, error) {
	type known Telemetry
	base, err := json.Marshal(known(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Report is a single telemetry submission from an agent. Reports are
// append-only once persisted.
type Report struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Data       Telemetry `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

// ReportEnvelope is the wire shape of a report on the bus and the direct channel.
type ReportEnvelope struct {
	AgentID string    `json:"agentId"`
	Data    Telemetry `json:"data"`
}

// DecodeReportEnvelope strictly decodes a report envelope. Unknown top-level
// fields and trailing data are rejected; the agent identity must be valid.
func DecodeReportEnvelope(raw []byte) (*ReportEnvelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var env ReportEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode report envelope: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode report envelope: trailing data")
	}
	if err := ValidateAgentID(env.AgentID); err != nil {
		return nil, err
	}
	if env.Data.TrafficVolume < 0 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "data.trafficVolume", Message: "must not be negative"}}}
	}
	return &env, nil
}
