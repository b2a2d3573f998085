// Package registry keeps the authoritative in-memory view of the fleet.
//
// The Registry holds one record per agent identity. Reports and explicit
// registrations merge into that record (non-empty fields win, LastSeen never
// moves backwards). A background sweeper demotes agents that have gone
// quiet for longer than the staleness window.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// AgentLister is the subset of the store needed to rehydrate the registry.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]*model.Agent, error)
}

// StatusWriter persists a stale transition. The write must be conditional
// on the row still being active and unseen since seenAt, and return
// store.ErrSuperseded otherwise.
type StatusWriter interface {
	MarkAgentStale(ctx context.Context, id string, seenAt time.Time) error
}

// SweeperConfig configures the background staleness sweeper.
type SweeperConfig struct {
	// Window is how long an agent may stay silent before it is marked stale.
	// Default: 5 minutes.
	Window time.Duration

	// Interval is how often the sweeper scans the registry.
	// Default: 30 seconds.
	Interval time.Duration

	// Store, when set, receives the stale transition for each agent.
	Store StatusWriter

	// OnStale is called for each agent newly marked stale.
	// Called outside the lock, so it may block.
	OnStale func(agent *model.Agent)
}

// Registry is the in-memory roster of agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*model.Agent
	logger *slog.Logger

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[string]*model.Agent),
		logger: logger,
	}
}

// Rehydrate loads every persisted agent. It must run before traffic is
// accepted; records already present are replaced.
func (r *Registry) Rehydrate(ctx context.Context, src AgentLister) error {
	agents, err := src.ListAgents(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, a := range agents {
		r.agents[a.ID] = a.Clone()
	}
	r.mu.Unlock()
	r.logger.Info("registry: rehydrated", "agents", len(agents))
	return nil
}

// Upsert merges a report into the agent's record, creating it if needed,
// and returns a copy of the result. The agent becomes active.
func (r *Registry) Upsert(report *model.Report) *model.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[report.AgentID]
	if !ok {
		a = &model.Agent{ID: report.AgentID, LastSeen: report.ReceivedAt}
		r.agents[a.ID] = a
	}
	if a.Status == model.AgentStale {
		r.logger.Info("registry: agent returned", "agent_id", a.ID)
	}
	a.Status = model.AgentActive
	if report.ReceivedAt.After(a.LastSeen) {
		a.LastSeen = report.ReceivedAt
	}
	d := report.Data
	if d.Address != "" {
		a.Address = d.Address
	}
	if d.ParentID != "" {
		a.ParentID = d.ParentID
	}
	if d.Generation > 0 {
		a.Generation = d.Generation
	}
	return a.Clone()
}

// Register merges an explicit registration. Non-empty fields of in
// overwrite the stored record; LastSeen never moves backwards.
func (r *Registry) Register(in *model.Agent) *model.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[in.ID]
	if !ok {
		a = &model.Agent{ID: in.ID}
		r.agents[a.ID] = a
	}
	a.Status = model.AgentActive
	if in.LastSeen.After(a.LastSeen) {
		a.LastSeen = in.LastSeen
	}
	if in.Address != "" {
		a.Address = in.Address
	}
	if in.ParentID != "" {
		a.ParentID = in.ParentID
	}
	if in.Generation > 0 {
		a.Generation = in.Generation
	}
	if in.Priority != 0 {
		a.Priority = in.Priority
	}
	if len(in.Metadata) > 0 {
		a.Metadata = append([]byte(nil), in.Metadata...)
	}
	return a.Clone()
}

// MarkStaleIfOlderThan demotes every active agent whose LastSeen is more
// than window before now and returns copies of the agents it changed.
func (r *Registry) MarkStaleIfOlderThan(window time.Duration, now time.Time) []*model.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []*model.Agent
	for _, a := range r.agents {
		if a.Status != model.AgentActive {
			continue
		}
		if now.Sub(a.LastSeen) > window {
			a.Status = model.AgentStale
			changed = append(changed, a.Clone())
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	return changed
}

// Snapshot returns deep copies of all agents, most recently seen first.
func (r *Registry) Snapshot() []*model.Agent {
	r.mu.RLock()
	out := make([]*model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Get returns a copy of the agent with the given identity.
func (r *Registry) Get(id string) (*model.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Len returns the number of known agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Counts returns the number of agents in each status.
func (r *Registry) Counts() map[string]int {
	counts := map[string]int{
		string(model.AgentActive):  0,
		string(model.AgentStale):   0,
		string(model.AgentUnknown): 0,
	}
	r.mu.RLock()
	for _, a := range r.agents {
		counts[string(a.Status)]++
	}
	r.mu.RUnlock()
	return counts
}

// StartSweeper launches a background goroutine that periodically marks
// silent agents stale. Call Stop() to shut it down.
func (r *Registry) StartSweeper(cfg *SweeperConfig) {
	if cfg == nil {
		cfg = &SweeperConfig{}
	}
	if cfg.Window == 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}

	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})

	go r.sweepLoop(cfg)
	r.logger.Info("registry: sweeper started",
		"window", cfg.Window,
		"interval", cfg.Interval)
}

// Stop shuts down the sweeper goroutine.
func (r *Registry) Stop() {
	if r.sweepStop != nil {
		close(r.sweepStop)
		<-r.sweepDone
		r.sweepStop = nil
		r.sweepDone = nil
	}
}

func (r *Registry) sweepLoop(cfg *SweeperConfig) {
	defer close(r.sweepDone)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.sweepStop:
			return
		case now := <-ticker.C:
			r.Sweep(cfg, now)
		}
	}
}

// Sweep runs one staleness pass at now: it marks agents stale, persists
// each transition and invokes OnStale. A transition whose persisted row
// was refreshed by a report in the meantime is dropped from the result;
// that report also reactivates the in-memory record.
func (r *Registry) Sweep(cfg *SweeperConfig, now time.Time) []*model.Agent {
	marked := r.MarkStaleIfOlderThan(cfg.Window, now)
	stale := marked[:0]
	for _, a := range marked {
		if cfg.Store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := cfg.Store.MarkAgentStale(ctx, a.ID, a.LastSeen)
			cancel()
			if errors.Is(err, store.ErrSuperseded) {
				r.logger.Debug("registry: stale transition superseded", "agent_id", a.ID)
				continue
			}
			if err != nil {
				r.logger.Warn("registry: persist stale status failed", "agent_id", a.ID, "err", err)
			}
		}
		r.logger.Info("registry: agent marked stale",
			"agent_id", a.ID,
			"last_seen", a.LastSeen,
			"window", cfg.Window)
		stale = append(stale, a)
		if cfg.OnStale != nil {
			cfg.OnStale(a)
		}
	}
	return stale
}
