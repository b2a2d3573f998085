package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanAgent scans a single row into a model.Agent.
// The row must contain columns in the order defined by agentColumns.
func scanAgent(row scannable) (*model.Agent, error) {
	var a model.Agent
	var (
		status   string
		address  sql.NullString
		parentID sql.NullString
		metadata []byte
	)

	err := row.Scan(
		&a.ID,
		&status,
		&a.LastSeen,
		&address,
		&parentID,
		&a.Generation,
		&a.Priority,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	a.Status = model.AgentStatus(status)
	a.Address = address.String
	a.ParentID = parentID.String
	if len(metadata) > 0 {
		a.Metadata = json.RawMessage(metadata)
	}
	return &a, nil
}

func scanAgents(rows *sql.Rows) ([]*model.Agent, error) {
	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanReport(row scannable) (*model.Report, error) {
	var r model.Report
	var payload []byte
	if err := row.Scan(&r.ID, &r.AgentID, &payload, &r.ReceivedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.Data); err != nil {
			return nil, fmt.Errorf("decode payload of report %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func scanReports(rows *sql.Rows) ([]*model.Report, error) {
	var out []*model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanCommand scans a row in commandColumns order.
func scanCommand(row scannable) (*model.Command, error) {
	var c model.Command
	var (
		action   string
		status   string
		target   sql.NullString
		params   []byte
		issuedBy sql.NullString
		sentAt   sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.AgentID,
		&action,
		&target,
		&params,
		&status,
		&c.Emergency,
		&issuedBy,
		&c.CreatedAt,
		&sentAt,
	)
	if err != nil {
		return nil, err
	}

	c.Action = model.Action(action)
	c.Status = model.CommandStatus(status)
	c.Target = target.String
	c.IssuedBy = issuedBy.String
	if len(params) > 0 {
		c.Params = json.RawMessage(params)
	}
	if sentAt.Valid {
		t := sentAt.Time
		c.SentAt = &t
	}
	return &c, nil
}

func scanCommands(rows *sql.Rows) ([]*model.Command, error) {
	var out []*model.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTactic(row scannable) (*model.Tactic, error) {
	var t model.Tactic
	var action string
	if err := row.Scan(&t.Pattern, &action, &t.Score, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ResponseAction = model.Action(action)
	return &t, nil
}

func scanTactics(rows *sql.Rows) ([]*model.Tactic, error) {
	var out []*model.Tactic
	for rows.Next() {
		t, err := scanTactic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
