package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitConfig points at an existing clone with a configured origin.
type GitConfig struct {
	Repo   string
	File   string // path inside the repo
	Branch string
}

// GitDestination keeps the snapshot as a tracked file, committing and
// pushing only when its content changes.
type GitDestination struct {
	cfg GitConfig
}

func NewGitDestination(cfg GitConfig) *GitDestination {
	return &GitDestination{cfg: cfg}
}

func (d *GitDestination) Name() string { return "git:" + filepath.Join(d.cfg.Repo, d.cfg.File) }

func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if err := d.git(ctx, "checkout", d.cfg.Branch); err != nil {
		return err
	}
	// Fails harmlessly while origin has no such branch.
	_ = d.git(ctx, "pull", "--ff-only", "origin", d.cfg.Branch)

	path := filepath.Join(d.cfg.Repo, d.cfg.File)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if err := d.git(ctx, "add", "--", d.cfg.File); err != nil {
		return err
	}
	if d.git(ctx, "diff", "--cached", "--quiet") == nil {
		return nil
	}

	msg := fmt.Sprintf("archive: fleet snapshot (%d records)", bytes.Count(data, []byte{'\n'}))
	for _, args := range [][]string{
		{"commit", "-m", msg},
		{"push", "origin", d.cfg.Branch},
	} {
		if err := d.git(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// git runs one git subcommand in the clone. Failures carry the subcommand
// name and git's stderr.
func (d *GitDestination) git(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.cfg.Repo
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
