// FILE: src/internal/tls/tls_test.go
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"towl/src/internal/config"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

// writeSelfSigned writes a CA-capable certificate for 127.0.0.1 and returns the file paths
func writeSelfSigned(t *testing.T, dir, name string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

// serveHello accepts connections on ln and writes "hello" to each
func serveHello(t *testing.T, ln net.Listener) {
	t.Helper()
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
				_, _ = conn.Write([]byte("hello"))
			}()
		}
	}()
}

func readHello(addr string, cfg *tls.Config) (string, error) {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 5 * time.Second}, "tcp", addr, cfg)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	b, err := io.ReadAll(conn)
	return string(b), err
}

func TestDisabledManagersAreNil(t *testing.T) {
	srv, err := NewServerManager(nil, newTestLogger())
	require.NoError(t, err)
	assert.Nil(t, srv)
	assert.Equal(t, map[string]any{"enabled": false}, srv.GetStats())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.Same(t, ln, srv.Listener(ln))

	cli, err := NewClientManager(&config.TLSClientConfig{Enabled: false}, newTestLogger())
	require.NoError(t, err)
	assert.Nil(t, cli.GetConfig())
}

func TestServerAndClient(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir, "server")

	srv, err := NewServerManager(&config.TLSServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "TLS1.2", srv.GetStats()["min_version"])

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveHello(t, srv.Listener(ln))
	addr := ln.Addr().String()

	t.Run("TrustedCA", func(t *testing.T) {
		cli, err := NewClientManager(&config.TLSClientConfig{Enabled: true, ServerCAFile: certFile}, newTestLogger())
		require.NoError(t, err)
		got, err := readHello(addr, cli.GetConfig())
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("UnknownCA", func(t *testing.T) {
		otherCert, _ := writeSelfSigned(t, dir, "other")
		cli, err := NewClientManager(&config.TLSClientConfig{Enabled: true, ServerCAFile: otherCert}, newTestLogger())
		require.NoError(t, err)
		_, err = readHello(addr, cli.GetConfig())
		assert.Error(t, err)
	})

	t.Run("InsecureSkipVerify", func(t *testing.T) {
		cli, err := NewClientManager(&config.TLSClientConfig{Enabled: true, InsecureSkipVerify: true}, newTestLogger())
		require.NoError(t, err)
		got, err := readHello(addr, cli.GetConfig())
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})
}

func TestMutualTLS(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeSelfSigned(t, dir, "server")
	clientCert, clientKey := writeSelfSigned(t, dir, "client")

	srv, err := NewServerManager(&config.TLSServerConfig{
		Enabled:      true,
		CertFile:     serverCert,
		KeyFile:      serverKey,
		ClientAuth:   true,
		ClientCAFile: clientCert,
		MinVersion:   "TLS1.3",
	}, newTestLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveHello(t, srv.Listener(ln))
	addr := ln.Addr().String()

	withCert, err := NewClientManager(&config.TLSClientConfig{
		Enabled:        true,
		ServerCAFile:   serverCert,
		ClientCertFile: clientCert,
		ClientKeyFile:  clientKey,
	}, newTestLogger())
	require.NoError(t, err)
	got, err := readHello(addr, withCert.GetConfig())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// Under TLS 1.3 the client learns of the rejection on first read
	withoutCert, err := NewClientManager(&config.TLSClientConfig{Enabled: true, ServerCAFile: serverCert}, newTestLogger())
	require.NoError(t, err)
	got, err = readHello(addr, withoutCert.GetConfig())
	assert.True(t, err != nil || got == "", "connection without client certificate must fail")
}

func TestManagerErrors(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir, "server")

	_, err := NewServerManager(&config.TLSServerConfig{Enabled: true, CertFile: filepath.Join(dir, "none.crt"), KeyFile: keyFile}, newTestLogger())
	assert.Error(t, err)

	_, err = NewServerManager(&config.TLSServerConfig{
		Enabled: true, CertFile: certFile, KeyFile: keyFile,
		ClientAuth: true, ClientCAFile: keyFile,
	}, newTestLogger())
	assert.ErrorContains(t, err, "failed to parse CA")

	_, err = NewClientManager(&config.TLSClientConfig{Enabled: true, ClientCertFile: certFile}, newTestLogger())
	assert.ErrorContains(t, err, "both client_cert_file and client_key_file")
}

func TestParseCipherSuites(t *testing.T) {
	ids := parseCipherSuites("TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, bogus ,TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384")
	assert.Equal(t, []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	}, ids)

	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("tls1.3", tls.VersionTLS12))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("", tls.VersionTLS12))
	assert.Equal(t, "TLS1.3", tlsVersionString(tls.VersionTLS13))
}
