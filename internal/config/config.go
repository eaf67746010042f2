// Package config loads config.json. Missing fields keep their defaults so an
// old config keeps working when new knobs are added.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Upstream track endpoints cap limit at 50 per request; followings at 200.
const (
	MaxTrackPageSize     = 50
	MaxFollowingPageSize = 200
)

// Config holds every recognised option. JSON names match the original
// config.json so existing deployments carry over.
type Config struct {
	// Destination webhook. Required.
	DiscordWebhookURL string `json:"discord_webhook_url"`

	// Logging: "debug" enables verbose lines; anything else is normal.
	LogLevel string `json:"log_level"`

	// Seconds between scheduler ticks.
	PollIntervalSec int `json:"poll_interval_sec"`

	// Paths.
	UsersFile  string  `json:"users_file"`
	TracksFile string  `json:"tracks_file"`
	TempDir    *string `json:"temp_dir"` // nil = OS temp

	// Upstream fetch bounds.
	MaxTracksPerUser int `json:"max_tracks_per_user"`
	PaginationSize   int `json:"pagination_size"` // clamped to MaxTrackPageSize
	TrackCountBuffer int `json:"track_count_buffer"`

	// Concurrency gates.
	MaxParallelFetches    int `json:"max_parallel_fetches"`
	MaxParallelProcessing int `json:"max_parallel_processing"`
	MaxParallelWebhooks   int `json:"max_parallel_webhooks"`

	// Likes monitoring.
	ScrapeUserLikes bool `json:"scrape_user_likes"`
	MaxLikesPerUser int  `json:"max_likes_per_user"`

	// Auto-enrollment: mirror this account's followings into the watchlist.
	// May be a bare user id or a profile URL. Empty = disabled.
	AutofollowSource        string `json:"autofollow_source"`
	AutofollowIntervalPolls int    `json:"autofollow_interval_polls"`

	// Store flush triggers.
	SaveEveryPolls  int `json:"save_every_polls"`
	SaveEveryTracks int `json:"save_every_tracks"`

	// Whether the ffmpeg subprocess inherits stdio or is silenced.
	ShowFfmpegOutput bool `json:"show_ffmpeg_output"`

	// Optional prometheus listener, e.g. ":9090". Empty = disabled.
	MetricsAddr string `json:"metrics_addr"`
}

func defaults() Config {
	return Config{
		LogLevel:                "info",
		PollIntervalSec:         60,
		UsersFile:               "users.json",
		TracksFile:              "tracks.json",
		MaxTracksPerUser:        500,
		PaginationSize:          MaxTrackPageSize,
		TrackCountBuffer:        5,
		MaxParallelFetches:      2,
		MaxParallelProcessing:   4,
		MaxParallelWebhooks:     4,
		MaxLikesPerUser:         500,
		AutofollowIntervalPolls: 10,
		SaveEveryPolls:          10,
		SaveEveryTracks:         5,
	}
}

// Load reads path, or writes a default config there when the file is missing
// so the operator has something to fill in. A missing webhook URL is the one
// fatal condition.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		out, merr := json.MarshalIndent(cfg, "", "  ")
		if merr != nil {
			return nil, merr
		}
		if werr := os.WriteFile(path, append(out, '\n'), 0o644); werr != nil {
			return nil, fmt.Errorf("config: write default %s: %w", path, werr)
		}
		return nil, fmt.Errorf("config: %s not found; wrote a default, set discord_webhook_url and restart", path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyLimits()
	if cfg.DiscordWebhookURL == "" {
		return nil, fmt.Errorf("config: discord_webhook_url is required in %s", path)
	}
	return &cfg, nil
}

func (c *Config) applyLimits() {
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = 60
	}
	if c.PaginationSize <= 0 || c.PaginationSize > MaxTrackPageSize {
		c.PaginationSize = MaxTrackPageSize
	}
	if c.MaxTracksPerUser <= 0 {
		c.MaxTracksPerUser = 500
	}
	if c.TrackCountBuffer < 0 {
		c.TrackCountBuffer = 0
	}
	if c.MaxLikesPerUser <= 0 {
		c.MaxLikesPerUser = 500
	}
	if c.AutofollowIntervalPolls <= 0 {
		c.AutofollowIntervalPolls = 10
	}
	if c.SaveEveryPolls <= 0 {
		c.SaveEveryPolls = 10
	}
	if c.SaveEveryTracks <= 0 {
		c.SaveEveryTracks = 5
	}
}

// PollInterval returns the tick period as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Verbose reports whether debug-level lines should be logged.
func (c *Config) Verbose() bool {
	return c.LogLevel == "debug" || c.LogLevel == "trace"
}

// StagingDir returns the configured temp dir, or the OS temp dir.
func (c *Config) StagingDir() string {
	if c.TempDir != nil && *c.TempDir != "" {
		return *c.TempDir
	}
	return os.TempDir()
}
