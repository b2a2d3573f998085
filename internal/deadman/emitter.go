package deadman

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/events"
	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/idgen"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

// FleetEmitter sends the directive to every agent on the emergency topic
// and to observers as a directive event.
type FleetEmitter struct {
	Bus events.Publisher
	Hub *hub.Hub
}

// EmitDirective notifies observers first so a bus outage is still visible,
// then publishes the directive as a fleet-wide emergency command.
func (e *FleetEmitter) EmitDirective(ctx context.Context, d *model.Directive) error {
	if e.Hub != nil {
		e.Hub.Publish(hub.EventDirective, d)
	}
	if e.Bus == nil {
		return nil
	}

	id, err := idgen.Directive()
	if err != nil {
		return err
	}
	params, err := json.Marshal(map[string]any{
		"reason":   d.Reason,
		"idle_for": d.IdleFor.Round(time.Second).String(),
	})
	if err != nil {
		return fmt.Errorf("marshal directive params: %w", err)
	}
	env := model.CommandEnvelope{
		ID:        id,
		Action:    d.Action,
		AgentID:   model.FleetWide,
		Params:    params,
		Emergency: true,
		IssuedAt:  d.IssuedAt,
	}
	if err := e.Bus.Publish(ctx, events.TopicEmergency, env); err != nil {
		return fmt.Errorf("publish directive: %w", err)
	}
	return nil
}
