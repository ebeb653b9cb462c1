package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr   string
	AuthToken  string
	SQLitePath string
	GRPCAddr   string

	IngestRateLimit        int
	IngestRateWindow       time.Duration
	AuthFailAlertThreshold int
	AuthFailAlertWindow    time.Duration

	SubscribeBuffer  int
	RebuildCacheSize int
	MaxListLimit     int64

	UpstreamFeed FeedConfig
}

// FeedConfig points the relay at an upstream agent feed. When BinaryPath is
// set the relay supervises the agent process itself.
type FeedConfig struct {
	Enabled    bool
	Name       string
	GRPCAddr   string
	BinaryPath string
}

func Load() Config {
	ingestRateWindowSec := envInt("CHRONICLE_INGEST_RATE_WINDOW_SECONDS", 10)
	authFailAlertWindowSec := envInt("CHRONICLE_AUTH_FAIL_ALERT_WINDOW_SECONDS", 120)
	baseDir := executableDir()
	return Config{
		HTTPAddr:               env("CHRONICLE_HTTP_ADDR", ":8791"),
		AuthToken:              env("CHRONICLE_AUTH_TOKEN", "chronicle-dev-token"),
		SQLitePath:             envPath("CHRONICLE_SQLITE_PATH", filepath.Join(baseDir, "chronicle.db"), baseDir),
		GRPCAddr:               env("CHRONICLE_GRPC_ADDR", "127.0.0.1:50061"),
		IngestRateLimit:        envInt("CHRONICLE_INGEST_RATE_LIMIT", 600),
		IngestRateWindow:       time.Duration(ingestRateWindowSec) * time.Second,
		AuthFailAlertThreshold: envInt("CHRONICLE_AUTH_FAIL_ALERT_THRESHOLD", 8),
		AuthFailAlertWindow:    time.Duration(authFailAlertWindowSec) * time.Second,
		SubscribeBuffer:        envInt("CHRONICLE_SUBSCRIBE_BUFFER", 256),
		RebuildCacheSize:       envInt("CHRONICLE_REBUILD_CACHE_SIZE", 128),
		MaxListLimit:           int64(envInt("CHRONICLE_MAX_LIST_LIMIT", 1000)),
		UpstreamFeed: FeedConfig{
			Enabled:    envBool("CHRONICLE_UPSTREAM_FEED_ENABLED", false),
			Name:       env("CHRONICLE_UPSTREAM_FEED_NAME", "agent"),
			GRPCAddr:   env("CHRONICLE_UPSTREAM_FEED_ADDR", "127.0.0.1:50062"),
			BinaryPath: envPath("CHRONICLE_UPSTREAM_FEED_BIN", "", baseDir),
		},
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envPath(k, def, baseDir string) string {
	v := env(k, def)
	if v == "" {
		return v
	}
	if filepath.IsAbs(v) {
		return v
	}
	if baseDir == "" {
		return v
	}
	return filepath.Join(baseDir, v)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		return "."
	}
	if real, err := filepath.EvalSymlinks(exe); err == nil && real != "" {
		exe = real
	}
	dir := filepath.Dir(exe)
	if dir == "" {
		return "."
	}
	return dir
}
