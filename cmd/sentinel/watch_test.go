package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/ui"
)

func TestFormatEvent(t *testing.T) {
	ui.ForceNoColor()

	mustJSON := func(v any) json.RawMessage {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	now := time.Now()

	tests := []struct {
		name string
		evt  *hub.Event
		want []string
	}{
		{
			name: "report",
			evt: &hub.Event{ID: 1, Type: hub.EventReport, Time: now, Data: mustJSON(&model.Report{
				AgentID: "edge-1",
				Data:    model.Telemetry{TrafficVolume: 1200, Findings: []string{"honeypot_alert"}},
			})},
			want: []string{"edge-1", "traffic=1200", "findings=honeypot_alert"},
		},
		{
			name: "threat alert",
			evt: &hub.Event{ID: 2, Type: hub.EventThreatAlert, Time: now, Data: mustJSON(&model.ThreatAssessment{
				AgentID: "edge-1", Score: 0.81, Pattern: "high_traffic", SuggestedAction: model.ActionBlockIP,
			})},
			want: []string{"ALERT", "score=0.81", "pattern=high_traffic", "suggest=block_ip"},
		},
		{
			name: "command",
			evt: &hub.Event{ID: 3, Type: hub.EventCommand, Time: now, Data: mustJSON(&model.Command{
				ID: "cmd-1", AgentID: "*", Action: model.ActionEnterSafeMode, Status: model.CommandSent,
			})},
			want: []string{"cmd-1", "enter_safe_mode -> *", "sent"},
		},
		{
			name: "unknown type",
			evt:  &hub.Event{ID: 4, Type: "other", Time: now, Data: json.RawMessage(`{"k":1}`)},
			want: []string{"other", `{"k":1}`},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := formatEvent(tc.evt)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent = %q, missing %q", got, w)
				}
			}
		})
	}
}
