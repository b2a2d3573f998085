// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// MemStore is a map-backed store.Store. Merge rules match the Postgres
// implementation. Set the *Err fields to inject failures.
type MemStore struct {
	mu       sync.Mutex
	agents   map[string]*model.Agent
	reports  []*model.Report
	commands []*model.Command
	tactics  map[string]*model.Tactic

	AppendReportErr  error
	UpsertAgentErr   error
	CreateCommandErr error
	ListErr          error
}

var _ store.Store = (*MemStore)(nil)

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		agents:  make(map[string]*model.Agent),
		tactics: make(map[string]*model.Tactic),
	}
}

func (m *MemStore) UpsertAgent(_ context.Context, a *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertAgentErr != nil {
		return m.UpsertAgentErr
	}
	cur, ok := m.agents[a.ID]
	if !ok {
		m.agents[a.ID] = a.Clone()
		return nil
	}
	cur.Status = a.Status
	if a.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = a.LastSeen
	}
	if a.Address != "" {
		cur.Address = a.Address
	}
	if a.ParentID != "" {
		cur.ParentID = a.ParentID
	}
	if a.Generation > 0 {
		cur.Generation = a.Generation
	}
	if a.Priority != 0 {
		cur.Priority = a.Priority
	}
	if len(a.Metadata) > 0 {
		cur.Metadata = append([]byte(nil), a.Metadata...)
	}
	return nil
}

func (m *MemStore) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemStore) ListAgents(_ context.Context) ([]*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]*model.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) MarkAgentStale(_ context.Context, id string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.Status != model.AgentActive || a.LastSeen.After(seenAt) {
		return store.ErrSuperseded
	}
	a.Status = model.AgentStale
	return nil
}

func (m *MemStore) AppendReport(_ context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendReportErr != nil {
		return m.AppendReportErr
	}
	cp := *r
	m.reports = append(m.reports, &cp)
	return nil
}

func (m *MemStore) ListRecentReports(_ context.Context, agentID string, limit int) ([]*model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Report
	for i := len(m.reports) - 1; i >= 0; i-- {
		r := m.reports[i]
		if agentID != "" && r.AgentID != agentID {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) CountReports(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports), nil
}

func (m *MemStore) CreateCommand(_ context.Context, c *model.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateCommandErr != nil {
		return m.CreateCommandErr
	}
	cp := *c
	m.commands = append(m.commands, &cp)
	return nil
}

func (m *MemStore) MarkCommandSent(_ context.Context, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commands {
		if c.ID == id && c.Status == model.CommandPending {
			c.Status = model.CommandSent
			t := sentAt
			c.SentAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MemStore) ListRecentCommands(_ context.Context, agentID string, limit int) ([]*model.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Command
	for i := len(m.commands) - 1; i >= 0; i-- {
		c := m.commands[i]
		if agentID != "" && c.AgentID != agentID {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) ListPendingCommands(_ context.Context, agentID string) ([]*model.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []*model.Command
	for _, c := range m.commands {
		if c.AgentID == agentID && c.Status == model.CommandPending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) UpsertTactic(_ context.Context, t *model.Tactic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.tactics[t.Pattern] = &cp
	return nil
}

func (m *MemStore) GetTactic(_ context.Context, pattern string) (*model.Tactic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tactics[pattern]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) ListTactics(_ context.Context) ([]*model.Tactic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Tactic, 0, len(m.tactics))
	for _, t := range m.tactics {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, nil
}

func (m *MemStore) DeleteTactic(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tactics[pattern]; !ok {
		return store.ErrNotFound
	}
	delete(m.tactics, pattern)
	return nil
}

// RunInTransaction calls fn with the store itself; there is no rollback.
func (m *MemStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *MemStore) Close() error { return nil }

// Reports returns every appended report, oldest first.
func (m *MemStore) Reports() []*model.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Report(nil), m.reports...)
}

// Commands returns every created command, oldest first.
func (m *MemStore) Commands() []*model.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Command(nil), m.commands...)
}
