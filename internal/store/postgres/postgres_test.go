package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// agentRowColumns is the column list for scanAgent results.
var agentRowColumns = []string{
	"identity", "status", "last_seen", "address", "parent_identity",
	"generation", "priority", "metadata",
}

// commandRowColumns is the column list for scanCommand results.
var commandRowColumns = []string{
	"id", "agent_identity", "action", "target", "params", "status",
	"emergency", "issued_by", "created_at", "sent_at",
}

func TestScanHelpers(t *testing.T) {
	// nullTimePtr
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}

	// nullString
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}

	// jsonbBytes
	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	input := json.RawMessage(`{"key":"value"}`)
	if string(jsonbBytes(input)) != `{"key":"value"}` {
		t.Errorf("jsonbBytes = %s", jsonbBytes(input))
	}
}

func TestQueryUpsertAgent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	agent := &model.Agent{
		ID: "a1", Status: model.AgentActive, LastSeen: now,
		Address: "10.0.0.5", Generation: 1, Priority: 3,
	}
	mock.ExpectExec("INSERT INTO agents .+ ON CONFLICT \\(identity\\) DO UPDATE").
		WithArgs("a1", "active", now, "10.0.0.5", nil, 1, 3, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := (queries{db}).UpsertAgent(context.Background(), agent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetAgent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(agentRowColumns).
		AddRow("a1", "stale", now, "10.0.0.5", "root", 2, 1, []byte(`{"os":"linux"}`))
	mock.ExpectQuery("SELECT .+ FROM agents WHERE identity = \\$1").WithArgs("a1").WillReturnRows(rows)

	a, err := queries{db}.GetAgent(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != "a1" || a.Status != model.AgentStale || a.ParentID != "root" || a.Generation != 2 {
		t.Fatalf("got %+v", a)
	}
	if string(a.Metadata) != `{"os":"linux"}` {
		t.Errorf("metadata = %s", a.Metadata)
	}
}

func TestQueryGetAgent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM agents WHERE identity = \\$1").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := queries{db}.GetAgent(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestQueryListAgents(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(agentRowColumns).
		AddRow("a1", "active", now, nil, nil, 0, 0, nil).
		AddRow("a2", "stale", now, "10.0.0.9", nil, 0, 5, nil)
	mock.ExpectQuery("SELECT .+ FROM agents ORDER BY identity").WillReturnRows(rows)

	agents, err := queries{db}.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[1].Address != "10.0.0.9" || agents[1].Priority != 5 {
		t.Errorf("agent[1] = %+v", agents[1])
	}
}

func TestQueryMarkAgentStale(t *testing.T) {
	db, mock := newMockDB(t)
	seen := time.Now().Add(-time.Hour).UTC()

	mock.ExpectExec("UPDATE agents SET status = \\$2\\s+WHERE identity = \\$1 AND status = \\$3 AND last_seen <= \\$4").
		WithArgs("a1", "stale", "active", seen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := (queries{db}).MarkAgentStale(context.Background(), "a1", seen); err != nil {
		t.Fatalf("MarkAgentStale: %v", err)
	}

	// A report landed after the sweep read the registry: no row matches.
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs("a1", "stale", "active", seen).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := queries{db}.MarkAgentStale(context.Background(), "a1", seen)
	if !errors.Is(err, store.ErrSuperseded) {
		t.Fatalf("expected store.ErrSuperseded, got %v", err)
	}
}

func TestQueryAppendReport(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	r := &model.Report{ID: "rp-1", AgentID: "a1", Data: model.Telemetry{TrafficVolume: 5}, ReceivedAt: now}

	mock.ExpectExec("INSERT INTO reports").
		WithArgs("rp-1", "a1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := (queries{db}).AppendReport(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryListRecentReports(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM reports\\s+ORDER BY received_at DESC LIMIT \\$1").
		WithArgs(defaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_identity", "payload", "received_at"}).
			AddRow("rp-2", "a2", []byte(`{"trafficVolume":1500,"findings":["cve:1"]}`), now))
	mock.ExpectQuery("SELECT .+ FROM reports\\s+WHERE agent_identity = \\$1").
		WithArgs("a1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_identity", "payload", "received_at"}))

	reports, err := queries{db}.ListRecentReports(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || reports[0].Data.TrafficVolume != 1500 || len(reports[0].Data.Findings) != 1 {
		t.Fatalf("got %+v", reports)
	}

	reports, err = queries{db}.ListRecentReports(context.Background(), "a1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("expected no reports, got %d", len(reports))
	}
}

func TestQueryCountReports(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := queries{db}.CountReports(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Fatalf("count = %d, want 7", n)
	}
}

func TestQueryCreateCommand(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	cmd := &model.Command{
		ID: "cmd-1", AgentID: "a1", Action: model.ActionIsolateHost, Target: "10.0.0.5",
		Emergency: true, Status: model.CommandPending, CreatedAt: now,
	}
	mock.ExpectExec("INSERT INTO commands").
		WithArgs("cmd-1", "a1", "isolate_host", "10.0.0.5", nil, "pending", true, nil, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := (queries{db}).CreateCommand(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryCreateCommand_RefusesNonPending(t *testing.T) {
	db, _ := newMockDB(t)
	cmd := &model.Command{ID: "cmd-2", AgentID: "a1", Action: "launch_drone", Status: model.CommandRejected}

	if err := (queries{db}).CreateCommand(context.Background(), cmd); err == nil {
		t.Fatal("expected error for rejected command")
	}
}

func TestQueryMarkCommandSent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE commands SET status = 'sent'").
		WithArgs("cmd-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE commands SET status = 'sent'").
		WithArgs("cmd-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := (queries{db}).MarkCommandSent(context.Background(), "cmd-1", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A second transition is a no-op reported as not found.
	if err := (queries{db}).MarkCommandSent(context.Background(), "cmd-1", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestQueryListRecentCommands(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(commandRowColumns).
		AddRow("cmd-1", "a1", "block_ip", "1.2.3.4", []byte(`{"ttl":60}`), "sent", false, "ops", now, now).
		AddRow("cmd-2", "a1", "collect_data", nil, nil, "pending", false, nil, now, nil)
	mock.ExpectQuery("SELECT .+ FROM commands\\s+WHERE agent_identity = \\$1").
		WithArgs("a1", 10).
		WillReturnRows(rows)

	cmds, err := queries{db}.ListRecentCommands(context.Background(), "a1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if cmds[0].SentAt == nil || cmds[0].IssuedBy != "ops" || string(cmds[0].Params) != `{"ttl":60}` {
		t.Errorf("cmd[0] = %+v", cmds[0])
	}
	if cmds[1].SentAt != nil || cmds[1].Status != model.CommandPending {
		t.Errorf("cmd[1] = %+v", cmds[1])
	}
}

func TestQueryListPendingCommands(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(commandRowColumns).
		AddRow("cmd-1", "a1", "collect_data", nil, nil, "pending", false, nil, now, nil).
		AddRow("cmd-2", "a1", "isolate_host", nil, nil, "pending", true, "ops", now.Add(time.Second), nil)
	mock.ExpectQuery("SELECT .+ FROM commands\\s+WHERE agent_identity = \\$1 AND status = 'pending'\\s+ORDER BY created_at").
		WithArgs("a1").
		WillReturnRows(rows)

	cmds, err := queries{db}.ListPendingCommands(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 2 || cmds[0].ID != "cmd-1" || !cmds[1].Emergency {
		t.Fatalf("commands = %+v", cmds)
	}
	for _, c := range cmds {
		if c.Status != model.CommandPending || c.SentAt != nil {
			t.Errorf("%s: status %s sent_at %v", c.ID, c.Status, c.SentAt)
		}
	}
}

func TestQueryListPendingCommands_Error(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM commands").
		WithArgs("a1").
		WillReturnError(errors.New("connection reset"))

	if _, err := (queries{db}).ListPendingCommands(context.Background(), "a1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestQueryTactics(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	tactic := &model.Tactic{Pattern: "high_traffic", ResponseAction: model.ActionBlockIP, Score: 0.8, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO tactics .+ ON CONFLICT \\(pattern\\) DO UPDATE").
		WithArgs("high_traffic", "block_ip", 0.8, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .+ FROM tactics WHERE pattern = \\$1").
		WithArgs("high_traffic").
		WillReturnRows(sqlmock.NewRows([]string{"pattern", "response_action", "score", "updated_at"}).
			AddRow("high_traffic", "block_ip", 0.8, now))
	mock.ExpectQuery("SELECT .+ FROM tactics WHERE pattern = \\$1").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("DELETE FROM tactics WHERE pattern = \\$1").
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := (queries{db}).UpsertTactic(ctx, tactic); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := queries{db}.GetTactic(ctx, "high_traffic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ResponseAction != model.ActionBlockIP || got.Score != 0.8 {
		t.Errorf("got %+v", got)
	}
	if _, err := (queries{db}).GetTactic(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get missing: expected store.ErrNotFound, got %v", err)
	}
	if err := (queries{db}).DeleteTactic(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete missing: expected store.ErrNotFound, got %v", err)
	}
}

func TestRunInTransaction_CommitAndRollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := wrap(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reports").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.AppendReport(context.Background(), &model.Report{ID: "rp-1", AgentID: "a1", ReceivedAt: now})
	})
	if err != nil {
		t.Fatalf("commit path: %v", err)
	}

	boom := errors.New("boom")
	err = s.RunInTransaction(context.Background(), func(tx store.Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("rollback path: expected boom, got %v", err)
	}
}

func TestAcquireInstanceLock(t *testing.T) {
	db, mock := newMockDB(t)
	s := wrap(db)

	mock.ExpectQuery("SELECT pg_try_advisory_lock\\(\\$1\\)").
		WithArgs(instanceLockKey).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	err := s.AcquireInstanceLock(context.Background())
	if !errors.Is(err, ErrInstanceLocked) {
		t.Fatalf("expected ErrInstanceLocked, got %v", err)
	}
	if s.lockConn != nil {
		t.Fatal("lock connection should not be retained on failure")
	}
}
