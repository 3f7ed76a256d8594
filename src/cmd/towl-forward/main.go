// FILE: src/cmd/towl-forward/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"towl/src/internal/config"
	"towl/src/internal/forward"
	"towl/src/internal/version"

	"github.com/lixenwraith/log"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadForward(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Shutdown(2 * time.Second)

	fwd, err := forward.New(cfg, logger)
	if err != nil {
		logger.Error("msg", "Failed to create forwarder", "error", err)
		logger.Shutdown(2 * time.Second)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("msg", "towl-forward starting",
		"version", version.String(),
		"config_file", cfg.ConfigFile,
		"url", cfg.URL,
		"command", cfg.Command+" "+strings.Join(cfg.Args, " "))

	if err := fwd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("msg", "Forwarder stopped", "error", err)
		logger.Shutdown(2 * time.Second)
		os.Exit(1)
	}

	logger.Info("msg", "towl-forward stopped", "stats", fwd.GetStats())
}

// newLogger builds the process logger from the logging section
func newLogger(cfg *config.ForwardConfig) (*log.Logger, error) {
	logger := log.NewLogger()

	if cfg.Quiet || cfg.Logging == nil {
		return logger, logger.InitWithDefaults("disable_file=true", "enable_stdout=false", "level=255")
	}

	lc := cfg.Logging
	level, err := logLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	args := []string{fmt.Sprintf("level=%d", level)}

	switch lc.Output {
	case "none":
		args = append(args, "disable_file=true", "enable_stdout=false")
	case "stdout", "stderr":
		args = append(args, "disable_file=true", "enable_stdout=true", "stdout_target="+lc.Output)
	case "file", "both":
		args = append(args, fmt.Sprintf("enable_stdout=%t", lc.Output == "both"))
		if lc.File != nil {
			args = append(args,
				fmt.Sprintf("directory=%s", lc.File.Directory),
				fmt.Sprintf("name=%s", lc.File.Name),
				fmt.Sprintf("max_size_mb=%d", lc.File.MaxSizeMB),
				fmt.Sprintf("max_total_size_mb=%d", lc.File.MaxTotalSizeMB))
		}
	default:
		return nil, fmt.Errorf("invalid log output mode: %s", lc.Output)
	}

	if lc.Console != nil && lc.Console.Format != "" {
		args = append(args, fmt.Sprintf("format=%s", lc.Console.Format))
	}

	return logger, logger.InitWithDefaults(args...)
}

func logLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "", "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
