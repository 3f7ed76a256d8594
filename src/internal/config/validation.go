// FILE: src/internal/config/validation.go
package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	lconfig "github.com/lixenwraith/config"
)

// validateConfig is the centralized validator for the server configuration.
// It also fills in defaults that cannot be expressed in the defaults struct.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Logging == nil {
		cfg.Logging = DefaultLogConfig()
	}
	if err := validateLogConfig(cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if cfg.StatusIntervalSeconds < 0 {
		return fmt.Errorf("status_interval_seconds cannot be negative")
	}

	if err := validateStorage(&cfg.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validateJournal(&cfg.Journal); err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	if cfg.HTTP.Enabled {
		if err := validateHTTP(&cfg.HTTP); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}
	if cfg.TCP.Enabled {
		if err := validateTCP(&cfg.TCP); err != nil {
			return fmt.Errorf("tcp: %w", err)
		}
	}

	if cfg.HTTP.Enabled && cfg.TCP.Enabled && cfg.HTTP.Port == cfg.TCP.Port {
		return fmt.Errorf("http and tcp cannot share port %d", cfg.HTTP.Port)
	}

	return nil
}

func validateLogConfig(cfg *LogConfig) error {
	validOutputs := map[string]bool{
		"file": true, "stdout": true, "stderr": true,
		"both": true, "none": true,
	}
	if !validOutputs[cfg.Output] {
		return fmt.Errorf("invalid log output mode: %s", cfg.Output)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	if (cfg.Output == "file" || cfg.Output == "both") && cfg.File != nil {
		if err := lconfig.NonEmpty(cfg.File.Directory); err != nil {
			return fmt.Errorf("log file directory: %w", err)
		}
		if err := lconfig.NonEmpty(cfg.File.Name); err != nil {
			return fmt.Errorf("log file name: %w", err)
		}
	}

	if cfg.Console != nil {
		validTargets := map[string]bool{
			"stdout": true, "stderr": true, "split": true, "": true,
		}
		if !validTargets[cfg.Console.Target] {
			return fmt.Errorf("invalid console target: %s", cfg.Console.Target)
		}

		validFormats := map[string]bool{
			"txt": true, "json": true, "": true,
		}
		if !validFormats[cfg.Console.Format] {
			return fmt.Errorf("invalid console format: %s", cfg.Console.Format)
		}
	}

	return nil
}

func validateStorage(s *StorageConfig) error {
	if err := lconfig.NonEmpty(s.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	if err := lconfig.NonEmpty(s.ArchiveDir); err != nil {
		return fmt.Errorf("archive_dir: %w", err)
	}
	if err := lconfig.NonEmpty(s.CounterPath); err != nil {
		return fmt.Errorf("counter_path: %w", err)
	}

	switch strings.ToLower(s.Fsync) {
	case "", "never", "always":
	default:
		return fmt.Errorf("invalid fsync mode '%s' (must be 'never' or 'always')", s.Fsync)
	}
	return nil
}

var weekdays = map[string]bool{
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
	"sun": true, "mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true,
}

func validateJournal(j *JournalConfig) error {
	if err := lconfig.NonEmpty(j.Org); err != nil {
		return fmt.Errorf("org: %w", err)
	}
	if err := lconfig.NonEmpty(j.Title); err != nil {
		return fmt.Errorf("title: %w", err)
	}

	switch strings.ToLower(j.Rotation) {
	case "", "daily", "weekly":
	default:
		return fmt.Errorf("invalid rotation '%s' (must be 'daily' or 'weekly')", j.Rotation)
	}

	if j.WeeklyAnchor != "" && !weekdays[strings.ToLower(j.WeeklyAnchor)] {
		return fmt.Errorf("invalid weekly_anchor '%s'", j.WeeklyAnchor)
	}

	if _, err := j.Location(); err != nil {
		return err
	}

	if j.BufferSize < 0 {
		return fmt.Errorf("buffer_size cannot be negative")
	}
	return nil
}

func validateHTTP(h *HTTPConfig) error {
	if err := lconfig.Port(h.Port); err != nil {
		return err
	}
	if h.Host == "" {
		h.Host = "0.0.0.0"
	}
	if h.Host != "0.0.0.0" {
		if err := lconfig.IPAddress(h.Host); err != nil {
			return err
		}
	}

	paths := map[string]*string{
		"ingest_path":   &h.IngestPath,
		"logs_path":     &h.LogsPath,
		"watch_path":    &h.WatchPath,
		"archives_path": &h.ArchivesPath,
		"status_path":   &h.StatusPath,
	}
	seen := make(map[string]string)
	for name, p := range paths {
		if !strings.HasPrefix(*p, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
		if other, ok := seen[*p]; ok {
			return fmt.Errorf("%s and %s share path %s", name, other, *p)
		}
		seen[*p] = name
	}

	if h.MaxBodySize <= 0 {
		h.MaxBodySize = 10 * 1024 * 1024
	}
	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	switch h.Format {
	case "", "json", "text", "raw", "yaml":
	default:
		return fmt.Errorf("invalid format '%s' (must be json, text, raw or yaml)", h.Format)
	}

	if h.Heartbeat.Enabled && h.Heartbeat.IntervalSeconds < 1 {
		return fmt.Errorf("heartbeat interval must be at least 1 second")
	}

	if err := validateTLSServer(h.TLS); err != nil {
		return err
	}
	if err := validateNetLimit(h.NetLimit); err != nil {
		return err
	}
	if err := validateAuth(h.Auth); err != nil {
		return err
	}
	for i := range h.Filters {
		if err := validateFilter(i, &h.Filters[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateTCP(t *TCPConfig) error {
	if err := lconfig.Port(t.Port); err != nil {
		return err
	}
	if t.Host == "" {
		t.Host = "0.0.0.0"
	}
	if t.Host != "0.0.0.0" {
		if err := lconfig.IPAddress(t.Host); err != nil {
			return err
		}
	}
	if t.QueueSize <= 0 {
		t.QueueSize = 1000
	}

	if err := validateNetLimit(t.NetLimit); err != nil {
		return err
	}
	return validateAuth(t.Auth)
}

func validateTLSServer(t *TLSServerConfig) error {
	if t == nil || !t.Enabled {
		return nil
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("tls requires cert_file and key_file")
	}
	if t.ClientAuth && t.ClientCAFile == "" {
		return fmt.Errorf("tls client_auth requires client_ca_file")
	}
	return validateTLSVersions(t.MinVersion, t.MaxVersion)
}

func validateTLSClient(t *TLSClientConfig) error {
	if t == nil || !t.Enabled {
		return nil
	}
	if (t.ClientCertFile == "") != (t.ClientKeyFile == "") {
		return fmt.Errorf("tls requires both client_cert_file and client_key_file")
	}
	return validateTLSVersions(t.MinVersion, t.MaxVersion)
}

func validateTLSVersions(versions ...string) error {
	for _, v := range versions {
		switch strings.ToUpper(v) {
		case "", "TLS1.2", "TLS12", "TLS1.3", "TLS13":
		default:
			return fmt.Errorf("invalid tls version '%s' (must be TLS1.2 or TLS1.3)", v)
		}
	}
	return nil
}

func validateNetLimit(nl *NetLimitConfig) error {
	if nl == nil {
		return nil
	}

	for _, entry := range append(append([]string{}, nl.IPWhitelist...), nl.IPBlacklist...) {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("net_limit: invalid CIDR entry: %s", entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("net_limit: invalid IP entry: %s", entry)
		}
	}

	if !nl.Enabled {
		return nil
	}

	if nl.RequestsPerSecond <= 0 {
		return fmt.Errorf("net_limit: requests_per_second must be positive")
	}
	if nl.BurstSize < 0 {
		return fmt.Errorf("net_limit: burst_size cannot be negative")
	}
	if nl.MaxConnectionsPerIP < 0 {
		return fmt.Errorf("net_limit: max_connections_per_ip cannot be negative")
	}
	if nl.ResponseCode != 0 && (nl.ResponseCode < 400 || nl.ResponseCode > 599) {
		return fmt.Errorf("net_limit: response_code must be a 4xx or 5xx status")
	}
	return nil
}

func validateAuth(auth *AuthConfig) error {
	if auth == nil || auth.Type == "" || auth.Type == "none" {
		return nil
	}

	switch auth.Type {
	case "basic":
		if auth.Basic == nil || len(auth.Basic.Users) == 0 {
			return fmt.Errorf("basic auth requires at least one user")
		}
		for i, user := range auth.Basic.Users {
			if err := lconfig.NonEmpty(user.Username); err != nil {
				return fmt.Errorf("basic auth user[%d] missing username", i)
			}
			if err := lconfig.NonEmpty(user.PasswordHash); err != nil {
				return fmt.Errorf("basic auth user[%d] missing password_hash", i)
			}
		}
	case "bearer":
		if auth.Bearer == nil {
			return fmt.Errorf("bearer auth type specified but config missing")
		}
		if len(auth.Bearer.Tokens) == 0 && auth.Bearer.JWT == nil {
			return fmt.Errorf("bearer auth requires tokens or jwt configuration")
		}
		if auth.Bearer.JWT != nil {
			if err := lconfig.NonEmpty(auth.Bearer.JWT.SigningKey); err != nil {
				return fmt.Errorf("jwt signing_key: %w", err)
			}
		}
	default:
		return fmt.Errorf("invalid auth type: %s", auth.Type)
	}
	return nil
}

func validateFilter(filterIndex int, cfg *FilterConfig) error {
	switch cfg.Type {
	case FilterTypeInclude, FilterTypeExclude, "":
	default:
		return fmt.Errorf("filter[%d]: invalid type '%s' (must be 'include' or 'exclude')",
			filterIndex, cfg.Type)
	}

	switch cfg.Logic {
	case FilterLogicOr, FilterLogicAnd, "":
	default:
		return fmt.Errorf("filter[%d]: invalid logic '%s' (must be 'or' or 'and')",
			filterIndex, cfg.Logic)
	}

	for i, pattern := range cfg.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("filter[%d] pattern[%d] '%s': invalid regex: %w",
				filterIndex, i, pattern, err)
		}
	}
	return nil
}

func validateForwardConfig(cfg *ForwardConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Logging == nil {
		cfg.Logging = DefaultLogConfig()
	}
	if err := validateLogConfig(cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := lconfig.NonEmpty(cfg.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must use http or https: %s", cfg.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url is missing a host: %s", cfg.URL)
	}
	if err := validateTLSClient(cfg.TLS); err != nil {
		return err
	}

	if err := lconfig.NonEmpty(cfg.Command); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if err := lconfig.NonEmpty(cfg.SenderName); err != nil {
		return fmt.Errorf("sender_name: %w", err)
	}

	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive")
	}
	if cfg.BatchDelayMs < 1 {
		return fmt.Errorf("batch_delay_ms must be positive")
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1000
	}
	if cfg.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if cfg.RetryDelayMs < 0 || cfg.RestartDelayMs < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if cfg.RetryBackoff < 1 {
		return fmt.Errorf("retry_backoff must be at least 1.0")
	}

	return nil
}

// Returns the restart delay as a duration
func (c *ForwardConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}
