package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store/storetest"
)

func seed(t *testing.T) *storetest.MemStore {
	t.Helper()
	ms := storetest.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"edge-b", "edge-a"} {
		if err := ms.UpsertAgent(ctx, &model.Agent{ID: id, Status: model.AgentActive, LastSeen: now}); err != nil {
			t.Fatalf("UpsertAgent: %v", err)
		}
	}
	for i, id := range []string{"r1", "r2", "r3"} {
		r := &model.Report{ID: id, AgentID: "edge-a", ReceivedAt: now.Add(time.Duration(i) * time.Second)}
		if err := ms.AppendReport(ctx, r); err != nil {
			t.Fatalf("AppendReport: %v", err)
		}
	}
	if err := ms.CreateCommand(ctx, &model.Command{ID: "c1", AgentID: "edge-a", Action: model.ActionBlockIP, Status: model.CommandPending, CreatedAt: now}); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}
	if err := ms.UpsertTactic(ctx, &model.Tactic{Pattern: "high_traffic", ResponseAction: model.ActionIsolateHost, Score: 0.9}); err != nil {
		t.Fatalf("UpsertTactic: %v", err)
	}
	return ms
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), storetest.New(), DefaultLimit, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.AgentCount != 0 || h.ReportCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_Snapshot(t *testing.T) {
	ms := seed(t)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), ms, 2, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}
	lines := nonEmptyLines(buf.String())

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.AgentCount != 2 || h.ReportCount != 2 || h.CommandCount != 1 || h.TacticCount != 1 {
		t.Fatalf("header counts: %+v", h)
	}
	// header + 2 agents + 2 reports + 1 command + 1 tactic
	if len(lines) != 7 {
		t.Fatalf("expected 7 lines, got %d", len(lines))
	}

	var types []string
	var ids []string
	for _, line := range lines[1:] {
		var rec struct {
			Type string `json:"type"`
			Data struct {
				ID      string `json:"id"`
				Pattern string `json:"pattern"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal %s: %v", line, err)
		}
		types = append(types, rec.Type)
		ids = append(ids, rec.Data.ID+rec.Data.Pattern)
	}
	wantTypes := "agent,agent,report,report,command,tactic"
	if got := strings.Join(types, ","); got != wantTypes {
		t.Fatalf("types = %s, want %s", got, wantTypes)
	}
	// Agents sorted by ID, newest two reports oldest first.
	wantIDs := "edge-a,edge-b,r2,r3,c1,high_traffic"
	if got := strings.Join(ids, ","); got != wantIDs {
		t.Fatalf("ids = %s, want %s", got, wantIDs)
	}
}

func TestExportJSONL_SourceError(t *testing.T) {
	ms := storetest.New()
	ms.ListErr = errors.New("db down")

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), ms, DefaultLimit, &buf); err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written on error, got %q", buf.String())
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
