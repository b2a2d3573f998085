package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// agentColumns is the column list used for SELECT statements on the agents table.
const agentColumns = `identity, status, last_seen, address, parent_identity,
	generation, priority, metadata`

// commandColumns is the column list used for SELECT statements on the commands table.
const commandColumns = `id, agent_identity, action, target, params, status,
	emergency, issued_by, created_at, sent_at`

// defaultListLimit caps list queries when the caller passes no limit.
const defaultListLimit = 100

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements every store read and write against one executor, so
// the pooled store and a transaction share the same SQL.
type queries struct {
	db executor
}

// UpsertAgent inserts the agent or merges it into the stored row: empty
// fields keep the stored value and last_seen never moves backwards.
func (q queries) UpsertAgent(ctx context.Context, a *model.Agent) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO agents (
			identity, status, last_seen, address, parent_identity,
			generation, priority, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identity) DO UPDATE SET
			status = EXCLUDED.status,
			last_seen = GREATEST(agents.last_seen, EXCLUDED.last_seen),
			address = COALESCE(EXCLUDED.address, agents.address),
			parent_identity = COALESCE(EXCLUDED.parent_identity, agents.parent_identity),
			generation = CASE WHEN EXCLUDED.generation > 0
				THEN EXCLUDED.generation ELSE agents.generation END,
			priority = CASE WHEN EXCLUDED.priority <> 0
				THEN EXCLUDED.priority ELSE agents.priority END,
			metadata = COALESCE(EXCLUDED.metadata, agents.metadata)`,
		a.ID,
		string(a.Status),
		a.LastSeen,
		nullString(a.Address),
		nullString(a.ParentID),
		a.Generation,
		a.Priority,
		jsonbBytes(a.Metadata),
	)
	return err
}

func (q queries) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE identity = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (q queries) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

// MarkAgentStale only touches a row that is still active and unseen since
// seenAt, so a report persisted after the sweep read the registry wins.
func (q queries) MarkAgentStale(ctx context.Context, id string, seenAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE agents SET status = $2
		WHERE identity = $1 AND status = $3 AND last_seen <= $4`,
		id, string(model.AgentStale), string(model.AgentActive), seenAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrSuperseded
	}
	return nil
}

func (q queries) AppendReport(ctx context.Context, r *model.Report) error {
	payload, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("marshal report payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO reports (id, agent_identity, payload, received_at)
		VALUES ($1, $2, $3, $4)`,
		r.ID, r.AgentID, payload, r.ReceivedAt,
	)
	return err
}

// ListRecentReports returns the newest reports first. An empty agentID
// lists across the fleet.
func (q queries) ListRecentReports(ctx context.Context, agentID string, limit int) ([]*model.Report, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if agentID == "" {
		rows, err = q.db.QueryContext(ctx, `
			SELECT id, agent_identity, payload, received_at FROM reports
			ORDER BY received_at DESC LIMIT $1`, limit)
	} else {
		rows, err = q.db.QueryContext(ctx, `
			SELECT id, agent_identity, payload, received_at FROM reports
			WHERE agent_identity = $1
			ORDER BY received_at DESC LIMIT $2`, agentID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

func (q queries) CountReports(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n)
	return n, err
}

func (q queries) CreateCommand(ctx context.Context, c *model.Command) error {
	if c.Status != model.CommandPending {
		return fmt.Errorf("create command: status must be %q, got %q", model.CommandPending, c.Status)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO commands (
			id, agent_identity, action, target, params, status,
			emergency, issued_by, created_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID,
		c.AgentID,
		string(c.Action),
		nullString(c.Target),
		jsonbBytes(c.Params),
		string(c.Status),
		c.Emergency,
		nullString(c.IssuedBy),
		c.CreatedAt,
		nullTimePtr(c.SentAt),
	)
	return err
}

// MarkCommandSent moves a pending command to sent. A command that is
// already sent (or missing) is reported as store.ErrNotFound.
func (q queries) MarkCommandSent(ctx context.Context, id string, sentAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE commands SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'pending'`, id, sentAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q queries) ListRecentCommands(ctx context.Context, agentID string, limit int) ([]*model.Command, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if agentID == "" {
		rows, err = q.db.QueryContext(ctx, `SELECT `+commandColumns+` FROM commands
			ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = q.db.QueryContext(ctx, `SELECT `+commandColumns+` FROM commands
			WHERE agent_identity = $1
			ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

func (q queries) ListPendingCommands(ctx context.Context, agentID string) ([]*model.Command, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+commandColumns+` FROM commands
		WHERE agent_identity = $1 AND status = 'pending'
		ORDER BY created_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

func (q queries) UpsertTactic(ctx context.Context, t *model.Tactic) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tactics (pattern, response_action, score, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pattern) DO UPDATE SET
			response_action = EXCLUDED.response_action,
			score = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at`,
		t.Pattern, string(t.ResponseAction), t.Score, t.UpdatedAt,
	)
	return err
}

func (q queries) GetTactic(ctx context.Context, pattern string) (*model.Tactic, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT pattern, response_action, score, updated_at
		FROM tactics WHERE pattern = $1`, pattern)
	t, err := scanTactic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (q queries) ListTactics(ctx context.Context) ([]*model.Tactic, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT pattern, response_action, score, updated_at
		FROM tactics ORDER BY pattern`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTactics(rows)
}

func (q queries) DeleteTactic(ctx context.Context, pattern string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM tactics WHERE pattern = $1`, pattern)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
