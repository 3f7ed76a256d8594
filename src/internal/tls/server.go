// FILE: src/internal/tls/server.go
package tls

import (
	"crypto/tls"
	"fmt"
	"net"

	"towl/src/internal/config"

	"github.com/lixenwraith/log"
)

// ServerManager holds the TLS configuration of the HTTP listener
type ServerManager struct {
	config    *config.TLSServerConfig
	tlsConfig *tls.Config
	logger    *log.Logger
}

// NewServerManager returns nil when TLS is disabled
func NewServerManager(cfg *config.TLSServerConfig, logger *log.Logger) (*ServerManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server cert/key: %w", err)
	}

	m := &ServerManager{
		config: cfg,
		logger: logger,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   parseTLSVersion(cfg.MinVersion, tls.VersionTLS12),
			MaxVersion:   parseTLSVersion(cfg.MaxVersion, tls.VersionTLS13),
			NextProtos:   []string{"http/1.1"},
		},
	}

	if cfg.CipherSuites != "" {
		m.tlsConfig.CipherSuites = parseCipherSuites(cfg.CipherSuites)
	}

	if cfg.ClientAuth {
		pool, err := loadCertPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		m.tlsConfig.ClientCAs = pool
		m.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	logger.Info("msg", "TLS server manager initialized",
		"component", "tls",
		"min_version", tlsVersionString(m.tlsConfig.MinVersion),
		"client_auth", cfg.ClientAuth)
	return m, nil
}

// Listener wraps ln; a nil manager returns ln unchanged
func (m *ServerManager) Listener(ln net.Listener) net.Listener {
	if m == nil {
		return ln
	}
	return tls.NewListener(ln, m.tlsConfig.Clone())
}

func (m *ServerManager) GetStats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":       true,
		"min_version":   tlsVersionString(m.tlsConfig.MinVersion),
		"max_version":   tlsVersionString(m.tlsConfig.MaxVersion),
		"client_auth":   m.config.ClientAuth,
		"cipher_suites": len(m.tlsConfig.CipherSuites),
	}
}
