package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// FleetWide is the agent identity that addresses every agent in the fleet.
const FleetWide = "*"

// Action is an instruction an agent knows how to carry out.
type Action string

// The fixed allow-list of actions. Nothing outside this set is ever
// persisted or published.
const (
	ActionBlockIP         Action = "block_ip"
	ActionUnblockIP       Action = "unblock_ip"
	ActionIsolateHost     Action = "isolate_host"
	ActionReleaseHost     Action = "release_host"
	ActionRedirectTraffic Action = "redirect_traffic"
	ActionDeployHoneypot  Action = "deploy_honeypot"
	ActionCollectData     Action = "collect_data"
	ActionRestartAgent    Action = "restart_agent"
	ActionEnterSafeMode   Action = "enter_safe_mode"
)

var allowedActions = map[Action]bool{
	ActionBlockIP:         true,
	ActionUnblockIP:       true,
	ActionIsolateHost:     true,
	ActionReleaseHost:     true,
	ActionRedirectTraffic: true,
	ActionDeployHoneypot:  true,
	ActionCollectData:     true,
	ActionRestartAgent:    true,
	ActionEnterSafeMode:   true,
}

// IsAllowed reports whether the action is in the allow-list.
func (a Action) IsAllowed() bool {
	return allowedActions[a]
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// AllowedActions returns the allow-list in sorted order.
func AllowedActions() []Action {
	out := make([]Action, 0, len(allowedActions))
	for a := range allowedActions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ErrActionNotAllowed is returned when a command's action is not in the allow-list.
var ErrActionNotAllowed = errors.New("action not allowed")

// CommandStatus is the dispatch state of a command.
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandSent     CommandStatus = "sent"
	CommandRejected CommandStatus = "rejected"
)

// IsTerminal reports whether no further transition is possible.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandSent || s == CommandRejected
}

// Command is an instruction targeted at one agent or the whole fleet.
type Command struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Action    Action          `json:"action"`
	Target    string          `json:"target,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Emergency bool            `json:"emergency,omitempty"`
	Status    CommandStatus   `json:"status"`
	IssuedBy  string          `json:"issued_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// IsFleetWide reports whether the command addresses every agent.
func (c *Command) IsFleetWide() bool {
	return c.AgentID == FleetWide
}

// CommandEnvelope is the wire shape published to agents.
type CommandEnvelope struct {
	ID        string          `json:"id"`
	Action    Action          `json:"action"`
	AgentID   string          `json:"agentId,omitempty"`
	Target    string          `json:"target,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Emergency bool            `json:"emergency,omitempty"`
	IssuedAt  time.Time       `json:"issuedAt"`
}

// Envelope returns the wire envelope for the command.
func (c *Command) Envelope() CommandEnvelope {
	return CommandEnvelope{
		ID:        c.ID,
		Action:    c.Action,
		AgentID:   c.AgentID,
		Target:    c.Target,
		Params:    c.Params,
		Emergency: c.Emergency,
		IssuedAt:  c.CreatedAt,
	}
}

// ValidateCommand checks the parts of a command that decide whether it may
// be dispatched at all. A non-nil error means the command must be rejected.
func ValidateCommand(c *Command) error {
	if !c.Action.IsAllowed() {
		return fmt.Errorf("%w: %q", ErrActionNotAllowed, c.Action)
	}
	if c.AgentID != FleetWide {
		if err := ValidateAgentID(c.AgentID); err != nil {
			return err
		}
	}
	if len(c.Params) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(c.Params, &obj); err != nil || obj == nil {
			return &ValidationError{Errors: []FieldError{{Field: "params", Message: "must be a JSON object"}}}
		}
	}
	if len(c.Target) > 255 {
		return &ValidationError{Errors: []FieldError{{Field: "target", Message: "must be 255 characters or fewer"}}}
	}
	return nil
}

// CommandRequest is a command submission received on the bus.
type CommandRequest struct {
	AgentID   string          `json:"agent_id"`
	Action    Action          `json:"action"`
	Target    string          `json:"target,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Emergency bool            `json:"emergency,omitempty"`
	IssuedBy  string          `json:"issued_by,omitempty"`
}

// DecodeCommandRequest strictly decodes a command request. Unknown fields
// and trailing data are rejected. The allow-list is left to ValidateCommand
// so that a disallowed action is reported as a rejection, not a decode error.
func DecodeCommandRequest(raw []byte) (*Command, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var req CommandRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode command request: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode command request: trailing data")
	}
	if req.AgentID == "" {
		return nil, &ValidationError{Errors: []FieldError{{Field: "agent_id", Message: "is required"}}}
	}
	return &Command{
		AgentID:   req.AgentID,
		Action:    req.Action,
		Target:    req.Target,
		Params:    req.Params,
		Emergency: req.Emergency,
		IssuedBy:  req.IssuedBy,
	}, nil
}
