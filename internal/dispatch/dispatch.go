// Package dispatch validates, persists and publishes commands to agents.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/events"
	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/idgen"
	"github.com/alfredjeanlab/sentinel/internal/metrics"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// ErrPublishFailed wraps bus errors for a command that was persisted but
// could not be published. The command stays pending.
var ErrPublishFailed = errors.New("command publish failed")

// CommandStore is the subset of the store the dispatcher writes to.
type CommandStore interface {
	CreateCommand(ctx context.Context, cmd *model.Command) error
	MarkCommandSent(ctx context.Context, id string, sentAt time.Time) error
	ListPendingCommands(ctx context.Context, agentID string) ([]*model.Command, error)
}

// Result is the outcome of a submission.
type Result struct {
	Status  model.CommandStatus `json:"status"`
	Reason  string              `json:"reason,omitempty"`
	Command *model.Command      `json:"command,omitempty"`
	// Warning is set when the command was sent but its emergency fan-out
	// could not be published.
	Warning string `json:"warning,omitempty"`
}

// Dispatcher submits commands. It is safe for concurrent use.
type Dispatcher struct {
	store   CommandStore
	bus     events.Publisher
	hub     *hub.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a dispatcher. h and m may be nil.
func New(store CommandStore, bus events.Publisher, h *hub.Hub, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		bus:     bus,
		hub:     h,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit dispatches cmd. A command that fails validation is rejected with
// no side effects and a nil error. Otherwise the command is persisted as
// pending, published, and marked sent; an emergency command is also
// published on the emergency topic. A failed emergency fan-out does not
// undo the send and is reported in Result.Warning.
func (d *Dispatcher) Submit(ctx context.Context, cmd *model.Command) (*Result, error) {
	if err := model.ValidateCommand(cmd); err != nil {
		d.metrics.IncCommand(string(model.CommandRejected))
		d.logger.Info("dispatch: command rejected",
			"agent_id", cmd.AgentID,
			"action", cmd.Action,
			"reason", err)
		return &Result{Status: model.CommandRejected, Reason: err.Error()}, nil
	}

	c := *cmd
	id, err := idgen.Command()
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.Status = model.CommandPending
	c.CreatedAt = d.now()
	c.SentAt = nil

	if err := d.store.CreateCommand(ctx, &c); err != nil {
		return nil, fmt.Errorf("persist command: %w", err)
	}

	topic := events.CommandTopic(c.AgentID)
	if c.IsFleetWide() {
		topic = events.TopicBroadcast
	}
	env := c.Envelope()
	if err := d.bus.Publish(ctx, topic, env); err != nil {
		d.metrics.IncCommand("publish_failed")
		d.logger.Warn("dispatch: publish failed, command left pending",
			"command_id", c.ID,
			"topic", topic,
			"err", err)
		d.notify(&c)
		return &Result{Status: model.CommandPending, Reason: err.Error(), Command: &c},
			fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	sentAt := d.now()
	if err := d.store.MarkCommandSent(ctx, c.ID, sentAt); err != nil {
		d.notify(&c)
		return &Result{Status: model.CommandPending, Command: &c},
			fmt.Errorf("mark command %s sent: %w", c.ID, err)
	}
	c.Status = model.CommandSent
	c.SentAt = &sentAt
	d.metrics.IncCommand(string(model.CommandSent))

	res := &Result{Status: model.CommandSent, Command: &c}
	if c.Emergency {
		if err := d.bus.Publish(ctx, events.TopicEmergency, env); err != nil {
			d.metrics.IncCommand("emergency_fanout_failed")
			d.logger.Warn("dispatch: emergency fan-out failed",
				"command_id", c.ID,
				"err", err)
			res.Warning = fmt.Sprintf("emergency fan-out on %s failed: %v", events.TopicEmergency, err)
		}
	}

	d.logger.Info("dispatch: command sent",
		"command_id", c.ID,
		"agent_id", c.AgentID,
		"action", c.Action,
		"emergency", c.Emergency)
	d.notify(&c)
	return res, nil
}

// Pull hands an agent its pending commands, oldest first, and marks each
// one sent. A command another caller marked first is skipped. On a store
// error the commands already marked are returned with the error; the rest
// stay pending for the next pull.
func (d *Dispatcher) Pull(ctx context.Context, agentID string) ([]*model.Command, error) {
	if err := model.ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	pending, err := d.store.ListPendingCommands(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list pending commands: %w", err)
	}
	delivered := make([]*model.Command, 0, len(pending))
	for _, c := range pending {
		sentAt := d.now()
		if err := d.store.MarkCommandSent(ctx, c.ID, sentAt); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return delivered, fmt.Errorf("mark command %s sent: %w", c.ID, err)
		}
		c.Status = model.CommandSent
		c.SentAt = &sentAt
		d.metrics.IncCommand(string(model.CommandSent))
		d.notify(c)
		delivered = append(delivered, c)
	}
	if len(delivered) > 0 {
		d.logger.Info("dispatch: pending commands pulled",
			"agent_id", agentID,
			"count", len(delivered))
	}
	return delivered, nil
}

func (d *Dispatcher) notify(c *model.Command) {
	if d.hub != nil {
		d.hub.Publish(hub.EventCommand, c)
	}
}
