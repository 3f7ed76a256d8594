// FILE: src/internal/config/forward.go
package config

import "os"

// ForwardConfig configures the towl-forward agent
type ForwardConfig struct {
	ConfigFile string `toml:"-"`
	Quiet      bool   `toml:"quiet"`

	// Ingest endpoint of the towl server
	URL   string           `toml:"url"`
	Token string           `toml:"token"`
	TLS   *TLSClientConfig `toml:"tls"`

	// Source recorded on every forwarded entry, defaults to the hostname
	SenderName string `toml:"sender_name"`

	// Command whose stdout lines are forwarded
	Command string   `toml:"command"`
	Args    []string `toml:"args"`

	// Delay before restarting the command after it exits
	RestartDelayMs int64 `toml:"restart_delay_ms"`

	// Batching
	BatchSize    int64 `toml:"batch_size"`
	BatchDelayMs int64 `toml:"batch_delay_ms"`
	BufferSize   int64 `toml:"buffer_size"`

	// Delivery
	TimeoutSeconds int64   `toml:"timeout_seconds"`
	MaxRetries     int64   `toml:"max_retries"`
	RetryDelayMs   int64   `toml:"retry_delay_ms"`
	RetryBackoff   float64 `toml:"retry_backoff"`

	Logging *LogConfig `toml:"logging"`
}

func forwardDefaults() *ForwardConfig {
	sender, err := os.Hostname()
	if err != nil || sender == "" {
		sender = "unknown"
	}

	return &ForwardConfig{
		URL:            "http://localhost:8080/ingest",
		SenderName:     sender,
		Command:        "journalctl",
		Args:           []string{"-f", "-o", "json", "--since", "now"},
		RestartDelayMs: 5000,
		BatchSize:      100,
		BatchDelayMs:   1000,
		BufferSize:     1000,
		TimeoutSeconds: 30,
		MaxRetries:     3,
		RetryDelayMs:   1000,
		RetryBackoff:   2.0,
		Logging:        DefaultLogConfig(),
	}
}
