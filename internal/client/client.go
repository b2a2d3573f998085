// Package client provides a transport-agnostic interface for the sentinel
// control plane and HTTP/JSON and gRPC implementations of it.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/sentinel/internal/deadman"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

// FleetClient is the subset of the control plane both transports serve.
type FleetClient interface {
	Health(ctx context.Context) (*HealthResponse, error)
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	Register(ctx context.Context, req *RegisterRequest) (*model.Agent, error)
	SubmitCommand(ctx context.Context, req *CommandRequest) (*CommandResult, error)
	Close() error
}

// HealthResponse mirrors GET /v1/health.
type HealthResponse struct {
	Status       string          `json:"status"`
	AgentCount   int             `json:"agent_count"`
	BusConnected bool            `json:"bus_connected"`
	Deadman      *deadman.Status `json:"deadman,omitempty"`
}

// RegisterRequest holds parameters for an explicit agent registration.
type RegisterRequest struct {
	AgentID    string          `json:"agent_id"`
	Address    string          `json:"address,omitempty"`
	ParentID   string          `json:"parent_id,omitempty"`
	Generation int             `json:"generation,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// CommandRequest holds parameters for submitting a command.
type CommandRequest struct {
	AgentID   string          `json:"agent_id"`
	Action    string          `json:"action"`
	Target    string          `json:"target,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Emergency bool            `json:"emergency,omitempty"`
	IssuedBy  string          `json:"issued_by,omitempty"`
}

// CommandResult is the outcome of a submission. A rejected command is not
// an error.
type CommandResult struct {
	Status  model.CommandStatus `json:"status"`
	Reason  string              `json:"reason,omitempty"`
	Command *model.Command      `json:"command,omitempty"`
	Warning string              `json:"warning,omitempty"`
	Error   string              `json:"error,omitempty"`
}
