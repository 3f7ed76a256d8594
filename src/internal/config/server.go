// FILE: src/internal/config/server.go
package config

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int64  `toml:"port"`

	// Endpoint paths
	IngestPath   string `toml:"ingest_path"`
	LogsPath     string `toml:"logs_path"`
	WatchPath    string `toml:"watch_path"`
	ArchivesPath string `toml:"archives_path"`
	StatusPath   string `toml:"status_path"`

	MaxBodySize int64 `toml:"max_body_size"`

	// Timeouts in milliseconds, 0 disables the write timeout for long-lived streams
	ReadTimeout  int64 `toml:"read_timeout_ms"`
	WriteTimeout int64 `toml:"write_timeout_ms"`

	// Formatter for the live watch stream: "json", "text", "raw", "yaml"
	Format        string         `toml:"format"`
	FormatOptions map[string]any `toml:"format_options"`

	Heartbeat HeartbeatConfig  `toml:"heartbeat"`
	TLS       *TLSServerConfig `toml:"tls"`
	NetLimit  *NetLimitConfig  `toml:"net_limit"`
	Auth      *AuthConfig      `toml:"auth"`
	Filters   []FilterConfig   `toml:"filters"`
}

type TCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int64  `toml:"port"`

	// Entries buffered between the event loop and the journal writer
	QueueSize int64 `toml:"queue_size"`

	NetLimit *NetLimitConfig `toml:"net_limit"`
	Auth     *AuthConfig     `toml:"auth"`
}

type HeartbeatConfig struct {
	Enabled         bool  `toml:"enabled"`
	IntervalSeconds int64 `toml:"interval_seconds"`
	IncludeStats    bool  `toml:"include_stats"`
}
