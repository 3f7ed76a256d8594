// FILE: src/internal/tls/client.go
package tls

import (
	"crypto/tls"
	"fmt"

	"towl/src/internal/config"

	"github.com/lixenwraith/log"
)

// ClientManager holds the TLS configuration used to reach a towl server
type ClientManager struct {
	config    *config.TLSClientConfig
	tlsConfig *tls.Config
	logger    *log.Logger
}

// NewClientManager returns nil when TLS is disabled
func NewClientManager(cfg *config.TLSClientConfig, logger *log.Logger) (*ClientManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	m := &ClientManager{
		config: cfg,
		logger: logger,
		tlsConfig: &tls.Config{
			MinVersion:         parseTLSVersion(cfg.MinVersion, tls.VersionTLS12),
			MaxVersion:         parseTLSVersion(cfg.MaxVersion, tls.VersionTLS13),
			ServerName:         cfg.ServerName,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	if cfg.CipherSuites != "" {
		m.tlsConfig.CipherSuites = parseCipherSuites(cfg.CipherSuites)
	}

	switch {
	case cfg.ClientCertFile != "" && cfg.ClientKeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		m.tlsConfig.Certificates = []tls.Certificate{cert}
	case cfg.ClientCertFile != "" || cfg.ClientKeyFile != "":
		return nil, fmt.Errorf("both client_cert_file and client_key_file must be provided for mTLS")
	}

	if cfg.ServerCAFile != "" {
		pool, err := loadCertPool(cfg.ServerCAFile)
		if err != nil {
			return nil, err
		}
		m.tlsConfig.RootCAs = pool
	}

	if cfg.InsecureSkipVerify {
		logger.Warn("msg", "TLS certificate verification disabled", "component", "tls")
	}
	return m, nil
}

// GetConfig returns a copy of the client configuration, nil when disabled
func (m *ClientManager) GetConfig() *tls.Config {
	if m == nil {
		return nil
	}
	return m.tlsConfig.Clone()
}

func (m *ClientManager) GetStats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":              true,
		"min_version":          tlsVersionString(m.tlsConfig.MinVersion),
		"has_client_cert":      m.config.ClientCertFile != "",
		"has_server_ca":        m.config.ServerCAFile != "",
		"insecure_skip_verify": m.config.InsecureSkipVerify,
	}
}
