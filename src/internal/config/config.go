// FILE: src/internal/config/config.go
package config

import (
	"fmt"
	"time"

	"towl/src/internal/core"
)

type Config struct {
	// Runtime behavior flags
	ConfigFile string `toml:"-"`
	Quiet      bool   `toml:"quiet"`

	// Interval for the periodic status log line, 0 disables it
	StatusIntervalSeconds int64 `toml:"status_interval_seconds"`

	Storage StorageConfig `toml:"storage"`
	Journal JournalConfig `toml:"journal"`
	HTTP    HTTPConfig    `toml:"http"`
	TCP     TCPConfig     `toml:"tcp"`
	Logging *LogConfig    `toml:"logging"`
}

type StorageConfig struct {
	DataDir     string `toml:"data_dir"`
	ArchiveDir  string `toml:"archive_dir"`
	CounterPath string `toml:"counter_path"`

	// "never" or "always"
	Fsync string `toml:"fsync"`
}

type JournalConfig struct {
	Org   string `toml:"org"`
	Title string `toml:"title"`

	// "daily" or "weekly"
	Rotation     string `toml:"rotation"`
	WeeklyAnchor string `toml:"weekly_anchor"`

	// IANA zone name, empty means local time
	Timezone string `toml:"timezone"`

	// Per-watcher buffer in entries
	BufferSize int64 `toml:"buffer_size"`
}

// Location resolves the configured time zone
func (j JournalConfig) Location() (*time.Location, error) {
	if j.Timezone == "" || j.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", j.Timezone, err)
	}
	return loc, nil
}

func defaults() *Config {
	return &Config{
		Quiet:                 false,
		StatusIntervalSeconds: 30,
		Storage: StorageConfig{
			DataDir:     core.DefaultDataDir,
			ArchiveDir:  core.DefaultArchiveDir,
			CounterPath: core.DefaultCounterPath,
			Fsync:       "never",
		},
		Journal: JournalConfig{
			Org:          core.DefaultOrg,
			Title:        core.DefaultTitle,
			Rotation:     "daily",
			WeeklyAnchor: "sunday",
			BufferSize:   core.DefaultHubBuffer,
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			IngestPath:   "/ingest",
			LogsPath:     "/logs",
			WatchPath:    "/watch",
			ArchivesPath: "/archives",
			StatusPath:   "/status",
			MaxBodySize:  10 * 1024 * 1024,
			ReadTimeout:  5000,
			WriteTimeout: 0,
			Format:       "json",
			Heartbeat: HeartbeatConfig{
				Enabled:         true,
				IntervalSeconds: 30,
				IncludeStats:    false,
			},
		},
		TCP: TCPConfig{
			Enabled:   false,
			Host:      "0.0.0.0",
			Port:      9090,
			QueueSize: 1000,
		},
		Logging: DefaultLogConfig(),
	}
}
