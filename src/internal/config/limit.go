// FILE: src/internal/config/limit.go
package config

type NetLimitConfig struct {
	// Enable rate and connection limiting; IP lists apply regardless
	Enabled bool `toml:"enabled"`

	// Requests per second per client IP
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// Burst size (token bucket)
	BurstSize int64 `toml:"burst_size"`

	// Concurrent connections per client IP, 0 means unlimited
	MaxConnectionsPerIP int64 `toml:"max_connections_per_ip"`

	// IP access control, single addresses or CIDR ranges
	IPWhitelist []string `toml:"ip_whitelist"`
	IPBlacklist []string `toml:"ip_blacklist"`

	// Response when rate limited
	ResponseCode    int64  `toml:"response_code"`    // Default: 429
	ResponseMessage string `toml:"response_message"` // Default: "Rate limit exceeded"
}
