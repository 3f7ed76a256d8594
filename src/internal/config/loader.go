// FILE: src/internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lconfig "github.com/lixenwraith/config"
)

const (
	EnvPrefix        = "TOWL_"
	ForwardEnvPrefix = "TOWL_FORWARD_"
)

// Load builds the server configuration from defaults, config file,
// environment and CLI arguments, in increasing priority.
func Load(cliArgs []string) (*Config, error) {
	configPath := GetConfigPath(EnvPrefix, "towl.toml")

	final := &Config{}
	if err := load(defaults(), final, EnvPrefix, configPath, cliArgs); err != nil {
		return nil, err
	}
	final.ConfigFile = configPath

	return final, validateConfig(final)
}

// LoadForward builds the towl-forward configuration.
func LoadForward(cliArgs []string) (*ForwardConfig, error) {
	configPath := GetConfigPath(ForwardEnvPrefix, "towl-forward.toml")

	final := &ForwardConfig{}
	if err := load(forwardDefaults(), final, ForwardEnvPrefix, configPath, cliArgs); err != nil {
		return nil, err
	}
	final.ConfigFile = configPath

	return final, validateForwardConfig(final)
}

func load(defaults any, target any, prefix, configPath string, cliArgs []string) error {
	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults).
		WithEnvPrefix(prefix).
		WithFile(configPath).
		WithArgs(cliArgs).
		WithEnvTransform(envTransform(prefix)).
		WithSources(
			lconfig.SourceCLI,
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()

	if err != nil {
		// Missing config file is fine, defaults and env still apply
		if !strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cfg == nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Scan("", target); err != nil {
		return fmt.Errorf("failed to scan config: %w", err)
	}
	return nil
}

func envTransform(prefix string) func(string) string {
	return func(path string) string {
		env := strings.ReplaceAll(path, ".", "_")
		env = strings.ToUpper(env)
		return prefix + env
	}
}

// GetConfigPath resolves the config file from {prefix}CONFIG_FILE,
// {prefix}CONFIG_DIR, the user config directory, then the working directory.
func GetConfigPath(prefix, name string) string {
	if configFile := os.Getenv(prefix + "CONFIG_FILE"); configFile != "" {
		if filepath.IsAbs(configFile) {
			return configFile
		}
		if configDir := os.Getenv(prefix + "CONFIG_DIR"); configDir != "" {
			return filepath.Join(configDir, configFile)
		}
		return configFile
	}

	if configDir := os.Getenv(prefix + "CONFIG_DIR"); configDir != "" {
		return filepath.Join(configDir, name)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config", name)
	}

	return name
}
