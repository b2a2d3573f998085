package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrSuperseded is returned by a conditional write whose precondition no
// longer holds because a newer write already landed.
var ErrSuperseded = errors.New("superseded by a newer write")

// Store defines the persistence interface for the control plane. Every
// mutating call is a single-row statement and is atomic on its own.
type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	// MarkAgentStale demotes an active agent whose last_seen is not after
	// seenAt. It returns ErrSuperseded when the row is missing, no longer
	// active, or has been seen since.
	MarkAgentStale(ctx context.Context, id string, seenAt time.Time) error

	// Reports (append-only)
	AppendReport(ctx context.Context, report *model.Report) error
	ListRecentReports(ctx context.Context, agentID string, limit int) ([]*model.Report, error)
	CountReports(ctx context.Context) (int, error)

	// Commands
	CreateCommand(ctx context.Context, cmd *model.Command) error
	MarkCommandSent(ctx context.Context, id string, sentAt time.Time) error
	ListRecentCommands(ctx context.Context, agentID string, limit int) ([]*model.Command, error)
	// ListPendingCommands returns the agent's pending commands, oldest first.
	ListPendingCommands(ctx context.Context, agentID string) ([]*model.Command, error)

	// Tactics
	UpsertTactic(ctx context.Context, tactic *model.Tactic) error
	GetTactic(ctx context.Context, pattern string) (*model.Tactic, error)
	ListTactics(ctx context.Context) ([]*model.Tactic, error)
	DeleteTactic(ctx context.Context, pattern string) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
