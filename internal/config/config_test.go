package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_missingFileWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("default config not written: %v", statErr)
	}
}

func TestLoad_requiresWebhookURL(t *testing.T) {
	path := writeConfig(t, `{"poll_interval_sec": 30}`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "discord_webhook_url") {
		t.Fatalf("err = %v, want webhook URL requirement", err)
	}
}

func TestLoad_defaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"discord_webhook_url": "https://example.com/hook",
		"poll_interval_sec": 120,
		"pagination_size": 500,
		"scrape_user_likes": true
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval() != 2*time.Minute {
		t.Fatalf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.PaginationSize != MaxTrackPageSize {
		t.Fatalf("PaginationSize = %d, want clamp to %d", cfg.PaginationSize, MaxTrackPageSize)
	}
	if !cfg.ScrapeUserLikes {
		t.Fatal("ScrapeUserLikes not applied")
	}
	if cfg.MaxTracksPerUser != 500 || cfg.SaveEveryTracks != 5 {
		t.Fatalf("defaults not kept: max_tracks=%d save_every_tracks=%d", cfg.MaxTracksPerUser, cfg.SaveEveryTracks)
	}
	if cfg.UsersFile != "users.json" || cfg.TracksFile != "tracks.json" {
		t.Fatalf("path defaults not kept: %s %s", cfg.UsersFile, cfg.TracksFile)
	}
}

func TestStagingDir(t *testing.T) {
	cfg := defaults()
	if cfg.StagingDir() != os.TempDir() {
		t.Fatalf("StagingDir = %q, want OS temp", cfg.StagingDir())
	}
	dir := "/data/staging"
	cfg.TempDir = &dir
	if cfg.StagingDir() != dir {
		t.Fatalf("StagingDir = %q, want %q", cfg.StagingDir(), dir)
	}
}

func TestVerbose(t *testing.T) {
	cfg := defaults()
	if cfg.Verbose() {
		t.Fatal("info should not be verbose")
	}
	cfg.LogLevel = "debug"
	if !cfg.Verbose() {
		t.Fatal("debug should be verbose")
	}
}
