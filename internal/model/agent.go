package model

import (
	"encoding/json"
	"time"
)

// AgentStatus is the liveness state of an agent as seen by the control plane.
type AgentStatus string

const (
	AgentUnknown AgentStatus = "unknown"
	AgentActive  AgentStatus = "active"
	AgentStale   AgentStatus = "stale"
)

// String returns the string representation of the status.
func (s AgentStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentUnknown, AgentActive, AgentStale:
		return true
	}
	return false
}

// Agent is a remote node that emits telemetry and receives commands.
type Agent struct {
	ID         string          `json:"id"`
	Status     AgentStatus     `json:"status"`
	Address    string          `json:"address,omitempty"`
	LastSeen   time.Time       `json:"last_seen"`
	ParentID   string          `json:"parent_id,omitempty"`
	Generation int             `json:"generation,omitempty"`
	Priority   int             `json:"priority"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), a.Metadata...)
	}
	return &c
}

// GraphEdge is a provenance edge from a parent agent to the agent it introduced.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// FleetStats holds aggregate agent counts by status.
type FleetStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Stale   int `json:"stale"`
	Unknown int `json:"unknown"`
}

// FleetGraph is the derived network view of the fleet.
type FleetGraph struct {
	Nodes []string     `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
	Stats *FleetStats  `json:"stats"`
}

// BuildGraph derives the provenance graph from an agent snapshot. Edges whose
// parent is not a known agent are kept; the parent is added as a node.
func BuildGraph(agents []*Agent) *FleetGraph {
	g := &FleetGraph{Stats: &FleetStats{}}
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if !seen[a.ID] {
			seen[a.ID] = true
			g.Nodes = append(g.Nodes, a.ID)
		}
		g.Stats.Total++
		switch a.Status {
		case AgentActive:
			g.Stats.Active++
		case AgentStale:
			g.Stats.Stale++
		default:
			g.Stats.Unknown++
		}
	}
	for _, a := range agents {
		if a.ParentID == "" {
			continue
		}
		if !seen[a.ParentID] {
			seen[a.ParentID] = true
			g.Nodes = append(g.Nodes, a.ParentID)
		}
		g.Edges = append(g.Edges, &GraphEdge{Source: a.ParentID, Target: a.ID, Type: "parent"})
	}
	return g
}

// AggregatedView is the dashboard view of the fleet.
type AggregatedView struct {
	Agents   []*Agent    `json:"agents"`
	Reports  []*Report   `json:"reports"`
	Commands []*Command  `json:"commands"`
	Graph    *FleetGraph `json:"graph"`
}
