// FILE: src/internal/config/tls.go
package config

// TLSServerConfig enables HTTPS on the HTTP listener
type TLSServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// Client certificate authentication
	ClientAuth   bool   `toml:"client_auth"`
	ClientCAFile string `toml:"client_ca_file"`

	// "TLS1.2" or "TLS1.3"
	MinVersion   string `toml:"min_version"`
	MaxVersion   string `toml:"max_version"`
	CipherSuites string `toml:"cipher_suites"`
}

// TLSClientConfig controls how the forwarder and towlctl verify the server
type TLSClientConfig struct {
	Enabled bool `toml:"enabled"`

	// CA file to trust instead of the system pool
	ServerCAFile string `toml:"server_ca_file"`
	ServerName   string `toml:"server_name"`

	// Client certificate for mTLS
	ClientCertFile string `toml:"client_cert_file"`
	ClientKeyFile  string `toml:"client_key_file"`

	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	MinVersion         string `toml:"min_version"`
	MaxVersion         string `toml:"max_version"`
	CipherSuites       string `toml:"cipher_suites"`
}
