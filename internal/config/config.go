// Package config loads control-plane settings from SENTINEL_* environment
// variables. Secrets have no defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // SENTINEL_DATABASE_URL (required)
	GRPCAddr    string // SENTINEL_GRPC_ADDR (default ":9090")
	HTTPAddr    string // SENTINEL_HTTP_ADDR (default ":8080")
	AuthToken   string // SENTINEL_AUTH_TOKEN (optional, empty = auth disabled)

	// WSAllowedOrigins lists extra origins allowed to open the WebSocket
	// channel. Same-origin requests are always allowed.
	WSAllowedOrigins []string // SENTINEL_WS_ALLOWED_ORIGINS (comma-separated, e.g. "https://ops.example.com")

	// Message bus
	NATSURL      string // SENTINEL_NATS_URL (optional, empty = no bus)
	NATSUser     string // SENTINEL_NATS_USER
	NATSPassword string // SENTINEL_NATS_PASSWORD
	NATSToken    string // SENTINEL_NATS_TOKEN

	// Registry
	StaleWindow   time.Duration // SENTINEL_STALE_WINDOW (default 5m)
	SweepInterval time.Duration // SENTINEL_SWEEP_INTERVAL (default 30s)

	// Threat scorer
	ScoreWindow          int           // SENTINEL_SCORE_WINDOW (default 256)
	ScoreTrees           int           // SENTINEL_SCORE_TREES (default 100)
	ScoreThreshold       float64       // SENTINEL_SCORE_THRESHOLD (default 0.6)
	ScoreInterval        time.Duration // SENTINEL_SCORE_INTERVAL (default 1m; 0 = no batch pass)
	TrafficCeiling       float64       // SENTINEL_TRAFFIC_CEILING (default 1000)
	KnownVulnerabilities []string      // SENTINEL_KNOWN_VULNS (comma-separated finding tags)
	TacticRefresh        time.Duration // SENTINEL_TACTIC_REFRESH (default 1m)
	AutoRespond          bool          // SENTINEL_AUTO_RESPOND (default false)
	MinTacticScore       float64       // SENTINEL_MIN_TACTIC_SCORE (default 0.8)
	CommandIntake        bool          // SENTINEL_COMMAND_INTAKE (default false; consume command-requests from the bus)

	// Deadman supervisor
	DeadmanTimeout  time.Duration // SENTINEL_DEADMAN_TIMEOUT (default 10m; 0 = disabled)
	DeadmanInterval time.Duration // SENTINEL_DEADMAN_INTERVAL (default 30s)
	DeadmanReset    string        // SENTINEL_DEADMAN_RESET (manual|auto, default "manual")
	DeadmanAction   string        // SENTINEL_DEADMAN_ACTION (default "enter_safe_mode")

	// Archive settings
	ArchiveInterval   time.Duration // SENTINEL_ARCHIVE_INTERVAL (default 10m; 0 = disabled)
	ArchiveS3Bucket   string        // SENTINEL_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // SENTINEL_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // SENTINEL_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // SENTINEL_ARCHIVE_S3_KEY (default "sentinel/archive.jsonl")
	ArchiveGitRepo    string        // SENTINEL_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitFile    string        // SENTINEL_ARCHIVE_GIT_FILE (default "sentinel.jsonl")
	ArchiveGitBranch  string        // SENTINEL_ARCHIVE_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("SENTINEL_DATABASE_URL"),
		GRPCAddr:          envOrDefault("SENTINEL_GRPC_ADDR", ":9090"),
		HTTPAddr:          envOrDefault("SENTINEL_HTTP_ADDR", ":8080"),
		AuthToken:         os.Getenv("SENTINEL_AUTH_TOKEN"),
		NATSURL:           os.Getenv("SENTINEL_NATS_URL"),
		NATSUser:          os.Getenv("SENTINEL_NATS_USER"),
		NATSPassword:      os.Getenv("SENTINEL_NATS_PASSWORD"),
		NATSToken:         os.Getenv("SENTINEL_NATS_TOKEN"),
		DeadmanReset:      envOrDefault("SENTINEL_DEADMAN_RESET", "manual"),
		DeadmanAction:     envOrDefault("SENTINEL_DEADMAN_ACTION", "enter_safe_mode"),
		ArchiveS3Bucket:   os.Getenv("SENTINEL_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("SENTINEL_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("SENTINEL_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("SENTINEL_ARCHIVE_S3_KEY", "sentinel/archive.jsonl"),
		ArchiveGitRepo:    os.Getenv("SENTINEL_ARCHIVE_GIT_REPO"),
		ArchiveGitFile:    envOrDefault("SENTINEL_ARCHIVE_GIT_FILE", "sentinel.jsonl"),
		ArchiveGitBranch:  envOrDefault("SENTINEL_ARCHIVE_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("SENTINEL_DATABASE_URL is required")
	}
	if c.NATSUser != "" && c.NATSToken != "" {
		return nil, fmt.Errorf("SENTINEL_NATS_USER and SENTINEL_NATS_TOKEN are mutually exclusive")
	}
	if c.DeadmanReset != "manual" && c.DeadmanReset != "auto" {
		return nil, fmt.Errorf("SENTINEL_DEADMAN_RESET: must be manual or auto, got %q", c.DeadmanReset)
	}
	c.KnownVulnerabilities = splitList(os.Getenv("SENTINEL_KNOWN_VULNS"))
	c.WSAllowedOrigins = splitList(os.Getenv("SENTINEL_WS_ALLOWED_ORIGINS"))
	for _, o := range c.WSAllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return nil, fmt.Errorf("SENTINEL_WS_ALLOWED_ORIGINS: %q must be * or an http(s) origin", o)
		}
	}

	var err error
	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"SENTINEL_STALE_WINDOW", "5m", &c.StaleWindow},
		{"SENTINEL_SWEEP_INTERVAL", "30s", &c.SweepInterval},
		{"SENTINEL_SCORE_INTERVAL", "1m", &c.ScoreInterval},
		{"SENTINEL_TACTIC_REFRESH", "1m", &c.TacticRefresh},
		{"SENTINEL_DEADMAN_TIMEOUT", "10m", &c.DeadmanTimeout},
		{"SENTINEL_DEADMAN_INTERVAL", "30s", &c.DeadmanInterval},
		{"SENTINEL_ARCHIVE_INTERVAL", "10m", &c.ArchiveInterval},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(envOrDefault(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
	}

	if c.ScoreWindow, err = strconv.Atoi(envOrDefault("SENTINEL_SCORE_WINDOW", "256")); err != nil || c.ScoreWindow < 2 {
		return nil, fmt.Errorf("SENTINEL_SCORE_WINDOW: must be an integer >= 2")
	}
	if c.ScoreTrees, err = strconv.Atoi(envOrDefault("SENTINEL_SCORE_TREES", "100")); err != nil || c.ScoreTrees < 1 {
		return nil, fmt.Errorf("SENTINEL_SCORE_TREES: must be a positive integer")
	}
	if c.ScoreThreshold, err = unitFloat("SENTINEL_SCORE_THRESHOLD", "0.6"); err != nil {
		return nil, err
	}
	if c.MinTacticScore, err = unitFloat("SENTINEL_MIN_TACTIC_SCORE", "0.8"); err != nil {
		return nil, err
	}
	if c.TrafficCeiling, err = strconv.ParseFloat(envOrDefault("SENTINEL_TRAFFIC_CEILING", "1000"), 64); err != nil || c.TrafficCeiling <= 0 {
		return nil, fmt.Errorf("SENTINEL_TRAFFIC_CEILING: must be a positive number")
	}
	if c.AutoRespond, err = strconv.ParseBool(envOrDefault("SENTINEL_AUTO_RESPOND", "false")); err != nil {
		return nil, fmt.Errorf("SENTINEL_AUTO_RESPOND: %w", err)
	}
	if c.CommandIntake, err = strconv.ParseBool(envOrDefault("SENTINEL_COMMAND_INTAKE", "false")); err != nil {
		return nil, fmt.Errorf("SENTINEL_COMMAND_INTAKE: %w", err)
	}

	return c, nil
}

// unitFloat parses a value in [0, 1].
func unitFloat(key, fallback string) (float64, error) {
	v, err := strconv.ParseFloat(envOrDefault(key, fallback), 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("%s: must be a number between 0 and 1", key)
	}
	return v, nil
}

// splitList parses a comma-separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
