package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tactics.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadTacticFile(t *testing.T) {
	path := writeFile(t, `
[[tactic]]
pattern = "intruder_detected+high_traffic"
response_action = "isolate_host"
score = 0.9

[[tactic]]
pattern = "known_vulnerability"
response_action = "collect_data"
score = 0.5
`)
	tactics, err := loadTacticFile(path)
	if err != nil {
		t.Fatalf("loadTacticFile: %v", err)
	}
	if len(tactics) != 2 {
		t.Fatalf("expected 2 tactics, got %d", len(tactics))
	}
	if tactics[0].Pattern != "high_traffic+intruder_detected" {
		t.Errorf("pattern not canonicalized: %q", tactics[0].Pattern)
	}
	if tactics[0].ResponseAction != model.ActionIsolateHost || tactics[0].Score != 0.9 {
		t.Errorf("unexpected tactic %+v", tactics[0])
	}
}

func TestLoadTacticFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown action",
			content: "[[tactic]]\npattern = \"high_traffic\"\nresponse_action = \"wipe_disk\"\nscore = 0.5\n",
			want:    "allow-list",
		},
		{
			name:    "score out of range",
			content: "[[tactic]]\npattern = \"high_traffic\"\nresponse_action = \"block_ip\"\nscore = 1.5\n",
			want:    "score",
		},
		{
			name:    "duplicate after canonicalizing",
			content: "[[tactic]]\npattern = \"a+b\"\nresponse_action = \"block_ip\"\nscore = 0.5\n[[tactic]]\npattern = \"b+a\"\nresponse_action = \"block_ip\"\nscore = 0.6\n",
			want:    "duplicate",
		},
		{
			name:    "unknown key",
			content: "[[tactic]]\npattern = \"high_traffic\"\nresponse_action = \"block_ip\"\nscore = 0.5\ncommand = \"rm -rf\"\n",
			want:    "unknown keys",
		},
		{
			name:    "malformed",
			content: "[[tactic]\n",
			want:    "reading",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadTacticFile(writeFile(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
