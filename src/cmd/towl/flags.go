// FILE: src/cmd/towl/flags.go
package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"towl/src/internal/config"

	"github.com/lixenwraith/log"
)

// Command-line options that are not config keys
type flagConfig struct {
	ConfigFile  string
	ShowVersion bool
	Quiet       bool

	LogOutput  string
	LogLevel   string
	LogDir     string
	LogConsole string

	// Dotted "--section.key=value" arguments handed to the config loader
	Overrides []string
}

func parseFlags(args []string) (*flagConfig, error) {
	fc := &flagConfig{}

	fs := flag.NewFlagSet("towl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&fc.ConfigFile, "config", "", "Config file path")
	fs.StringVar(&fc.ConfigFile, "c", "", "Config file path")
	fs.BoolVar(&fc.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&fc.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&fc.Quiet, "quiet", false, "Suppress all console output")
	fs.BoolVar(&fc.Quiet, "q", false, "Suppress all console output")
	fs.StringVar(&fc.LogOutput, "log-output", "", "Log output: file, stdout, stderr, both, none (overrides config)")
	fs.StringVar(&fc.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&fc.LogDir, "log-dir", "", "Log directory (when using file output)")
	fs.StringVar(&fc.LogConsole, "log-console", "", "Console target: stdout, stderr, split (overrides config)")

	var plain []string
	for _, arg := range args {
		if isConfigOverride(arg) {
			fc.Overrides = append(fc.Overrides, arg)
			continue
		}
		plain = append(plain, arg)
	}

	if err := fs.Parse(plain); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s\n\nRun 'towl help' for usage", fs.Arg(0))
	}

	if fc.LogOutput != "" {
		validOutputs := map[string]bool{
			"file": true, "stdout": true, "stderr": true,
			"both": true, "none": true,
		}
		if !validOutputs[fc.LogOutput] {
			return nil, fmt.Errorf("invalid log-output: %s (valid: file, stdout, stderr, both, none)", fc.LogOutput)
		}
	}
	if fc.LogLevel != "" {
		if _, err := parseLogLevel(fc.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log-level: %s (valid: debug, info, warn, error)", fc.LogLevel)
		}
	}
	if fc.LogConsole != "" {
		validTargets := map[string]bool{
			"stdout": true, "stderr": true, "split": true,
		}
		if !validTargets[fc.LogConsole] {
			return nil, fmt.Errorf("invalid log-console: %s (valid: stdout, stderr, split)", fc.LogConsole)
		}
	}

	return fc, nil
}

// isConfigOverride matches "--journal.org=acme" style arguments
func isConfigOverride(arg string) bool {
	if !strings.HasPrefix(arg, "-") {
		return false
	}
	key, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	return strings.Contains(key, ".")
}

// apply copies flag values over the loaded config
func (fc *flagConfig) apply(cfg *config.Config) {
	if fc.Quiet {
		cfg.Quiet = true
	}
	if cfg.Logging == nil {
		cfg.Logging = config.DefaultLogConfig()
	}
	if fc.LogOutput != "" {
		cfg.Logging.Output = fc.LogOutput
	}
	if fc.LogLevel != "" {
		cfg.Logging.Level = fc.LogLevel
	}
	if fc.LogDir != "" && cfg.Logging.File != nil {
		cfg.Logging.File.Directory = fc.LogDir
	}
	if fc.LogConsole != "" {
		if cfg.Logging.Console == nil {
			cfg.Logging.Console = &config.LogConsoleConfig{}
		}
		cfg.Logging.Console.Target = fc.LogConsole
	}
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
