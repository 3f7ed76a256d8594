// FILE: src/cmd/towl/bootstrap.go
package main

import (
	"context"
	"fmt"

	"towl/src/internal/config"
	"towl/src/internal/ingest"
	"towl/src/internal/journal"
	"towl/src/internal/server"
	"towl/src/internal/towlfile"
	"towl/src/internal/version"

	"github.com/lixenwraith/log"
)

// application holds the running components in start order
type application struct {
	journal *journal.Journal
	http    *server.Server
	tcp     *ingest.Listener
}

// bootstrap opens the journal, then starts the configured listeners
func bootstrap(ctx context.Context, cfg *config.Config) (*application, error) {
	opts, err := journalOptions(cfg)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	app := &application{journal: j}

	if cfg.HTTP.Enabled {
		srv, err := server.New(&cfg.HTTP, j, logger)
		if err != nil {
			app.Shutdown()
			return nil, fmt.Errorf("failed to create HTTP server: %w", err)
		}
		if err := srv.Start(); err != nil {
			app.Shutdown()
			return nil, fmt.Errorf("failed to start HTTP server: %w", err)
		}
		app.http = srv
		displayHTTPEndpoints(&cfg.HTTP)
	}

	if cfg.TCP.Enabled {
		listener, err := ingest.New(&cfg.TCP, j, logger)
		if err != nil {
			app.Shutdown()
			return nil, fmt.Errorf("failed to create TCP listener: %w", err)
		}
		if err := listener.Start(); err != nil {
			app.Shutdown()
			return nil, fmt.Errorf("failed to start TCP listener: %w", err)
		}
		app.tcp = listener

		logger.Info("msg", "TCP ingest configured",
			"component", "main",
			"listen", fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port),
			"queue_size", cfg.TCP.QueueSize)
	}

	if app.http == nil && app.tcp == nil {
		logger.Warn("msg", "No listeners enabled, journal accepts no entries",
			"component", "main")
	}

	logger.Info("msg", "towl started",
		"version", version.Short(),
		"org", opts.Org,
		"title", opts.Title,
		"rotation", opts.Rotation.String(),
		"data_dir", opts.DataDir,
		"archive_dir", opts.ArchiveDir)

	return app, nil
}

// Shutdown stops listeners before closing the journal
func (a *application) Shutdown() {
	if a.http != nil {
		logger.Info("msg", "Stopping HTTP server...")
		a.http.Stop()
	}
	if a.tcp != nil {
		logger.Info("msg", "Stopping TCP listener...")
		a.tcp.Stop()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Error("msg", "Failed to close journal", "error", err)
		}
	}
}

func journalOptions(cfg *config.Config) (journal.Options, error) {
	rotation, err := journal.ParseRotation(cfg.Journal.Rotation)
	if err != nil {
		return journal.Options{}, err
	}
	anchor, err := journal.ParseWeekday(cfg.Journal.WeeklyAnchor)
	if err != nil {
		return journal.Options{}, err
	}
	loc, err := cfg.Journal.Location()
	if err != nil {
		return journal.Options{}, err
	}
	syncMode, err := towlfile.ParseSyncMode(cfg.Storage.Fsync)
	if err != nil {
		return journal.Options{}, err
	}

	return journal.Options{
		Org:          cfg.Journal.Org,
		Title:        cfg.Journal.Title,
		Rotation:     rotation,
		WeeklyAnchor: anchor,
		Location:     loc,
		DataDir:      cfg.Storage.DataDir,
		ArchiveDir:   cfg.Storage.ArchiveDir,
		CounterPath:  cfg.Storage.CounterPath,
		BufferSize:   int(cfg.Journal.BufferSize),
		Sync:         syncMode,
	}, nil
}

func displayHTTPEndpoints(h *config.HTTPConfig) {
	displayHost := h.Host
	if displayHost == "" || displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	scheme := "http"
	if h.TLS != nil && h.TLS.Enabled {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, displayHost, h.Port)

	logger.Info("msg", "HTTP endpoints configured",
		"component", "main",
		"listen", fmt.Sprintf("%s:%d", h.Host, h.Port),
		"ingest_url", base+h.IngestPath,
		"logs_url", base+h.LogsPath,
		"watch_url", base+h.WatchPath,
		"archives_url", base+h.ArchivesPath,
		"status_url", base+h.StatusPath)

	if h.NetLimit != nil && h.NetLimit.Enabled {
		logger.Info("msg", "HTTP net limiting enabled",
			"component", "main",
			"requests_per_second", h.NetLimit.RequestsPerSecond,
			"burst_size", h.NetLimit.BurstSize)
	}
	if h.Auth != nil && h.Auth.Type != "" && h.Auth.Type != "none" {
		logger.Info("msg", "Authentication enabled",
			"component", "main",
			"auth_type", h.Auth.Type)
	}
	if len(h.Filters) > 0 {
		logger.Info("msg", "Filters configured",
			"component", "main",
			"filter_count", len(h.Filters))
	}
}

// initializeLogger sets up the logger based on configuration
func initializeLogger(cfg *config.Config) error {
	logger = log.NewLogger()

	var configArgs []string

	if cfg.Quiet {
		// In quiet mode, disable ALL logging output
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=false",
			"level=255")

		return logger.InitWithDefaults(configArgs...)
	}

	levelValue, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	configArgs = append(configArgs, fmt.Sprintf("level=%d", levelValue))

	switch cfg.Logging.Output {
	case "none":
		configArgs = append(configArgs, "disable_file=true", "enable_stdout=false")

	case "stdout":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stdout")

	case "stderr":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stderr")

	case "file":
		configArgs = append(configArgs, "enable_stdout=false")
		configureFileLogging(&configArgs, cfg.Logging)

	case "both":
		configArgs = append(configArgs, "enable_stdout=true")
		configureFileLogging(&configArgs, cfg.Logging)
		configureConsoleTarget(&configArgs, cfg.Logging)

	default:
		return fmt.Errorf("invalid log output mode: %s", cfg.Logging.Output)
	}

	if cfg.Logging.Console != nil && cfg.Logging.Console.Format != "" {
		configArgs = append(configArgs, fmt.Sprintf("format=%s", cfg.Logging.Console.Format))
	}

	return logger.InitWithDefaults(configArgs...)
}

// configureFileLogging sets up file-based logging parameters
func configureFileLogging(configArgs *[]string, lc *config.LogConfig) {
	if lc.File != nil {
		*configArgs = append(*configArgs,
			fmt.Sprintf("directory=%s", lc.File.Directory),
			fmt.Sprintf("name=%s", lc.File.Name),
			fmt.Sprintf("max_size_mb=%d", lc.File.MaxSizeMB),
			fmt.Sprintf("max_total_size_mb=%d", lc.File.MaxTotalSizeMB))

		if lc.File.RetentionHours > 0 {
			*configArgs = append(*configArgs,
				fmt.Sprintf("retention_period_hrs=%.1f", lc.File.RetentionHours))
		}
	}
}

// configureConsoleTarget sets up console output parameters
func configureConsoleTarget(configArgs *[]string, lc *config.LogConfig) {
	target := "stderr"
	if lc.Console != nil && lc.Console.Target != "" {
		target = lc.Console.Target
	}

	if target == "split" {
		*configArgs = append(*configArgs, "stdout_split_mode=true")
		*configArgs = append(*configArgs, "stdout_target=split")
	} else {
		*configArgs = append(*configArgs, fmt.Sprintf("stdout_target=%s", target))
	}
}
