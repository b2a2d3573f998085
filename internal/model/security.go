package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity grades a security event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks whether the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SecurityEvent is an out-of-band security notification raised by an agent.
type SecurityEvent struct {
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	AgentID     string    `json:"agentId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DecodeSecurityEvent strictly decodes and validates a security event.
func DecodeSecurityEvent(raw []byte) (*SecurityEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var ev SecurityEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode security event: %w", err)
	}

	var ve ValidationError
	if strings.TrimSpace(ev.EventType) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "eventType", Message: "is required"})
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	} else if !ev.Severity.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{Field: "severity", Message: fmt.Sprintf("invalid value %q", ev.Severity)})
	}
	if ev.AgentID != "" && ValidateAgentID(ev.AgentID) != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "agentId", Message: "invalid identity"})
	}
	if ve.HasErrors() {
		return nil, &ve
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return &ev, nil
}

// Directive is the fleet-wide instruction emitted when the deadman trips.
type Directive struct {
	Action   Action        `json:"action"`
	Reason   string        `json:"reason"`
	IdleFor  time.Duration `json:"idle_for"`
	IssuedAt time.Time     `json:"issued_at"`
}
