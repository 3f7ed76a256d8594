// FILE: src/internal/ingest/tcp_test.go
package ingest

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"towl/src/internal/config"
	"towl/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

type memAppender struct {
	mu      sync.Mutex
	entries []core.LogEntry
}

func (m *memAppender) AddEntry(entry core.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAppender) snapshot() []core.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.LogEntry(nil), m.entries...)
}

func freePort(t *testing.T) int64 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return int64(ln.Addr().(*net.TCPAddr).Port)
}

func startListener(t *testing.T, mutate func(cfg *config.TCPConfig)) (*Listener, *memAppender, string) {
	t.Helper()
	cfg := &config.TCPConfig{
		Enabled:   true,
		Host:      "127.0.0.1",
		Port:      freePort(t),
		QueueSize: 100,
	}
	if mutate != nil {
		mutate(cfg)
	}

	app := &memAppender{}
	l, err := New(cfg, app, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, l.Start())
	t.Cleanup(l.Stop)

	return l, app, fmt.Sprintf("127.0.0.1:%d", cfg.Port)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", addr)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, &memAppender{}, newTestLogger())
	assert.Error(t, err)

	_, err = New(&config.TCPConfig{Port: 0}, &memAppender{}, newTestLogger())
	assert.Error(t, err)

	_, err = New(&config.TCPConfig{Port: 9000, Auth: &config.AuthConfig{Type: "basic"}}, &memAppender{}, newTestLogger())
	assert.Error(t, err)
}

func TestTCPIngest(t *testing.T) {
	l, app, addr := startListener(t, nil)
	conn := dial(t, addr)

	lines := "" +
		`{"source":"api","time":"2024-03-05T10:30:00Z","payload":"first"}` + "\n" +
		"not json\n" +
		"\n" +
		`{"payload":"second"}` + "\r\n" +
		`{"payload":"split`
	_, err := conn.Write([]byte(lines))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(app.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Finish the partial line in a second write
	_, err = conn.Write([]byte(`"}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(app.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)

	entries := app.snapshot()
	assert.Equal(t, "api", entries[0].Source)
	assert.Equal(t, "first", entries[0].Payload)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC), entries[0].Time.UTC())

	assert.Equal(t, "second", entries[1].Payload)
	// Source defaults to the peer address
	assert.Contains(t, entries[1].Source, "127.0.0.1:")
	assert.False(t, entries[1].Time.IsZero())

	assert.Equal(t, "split", entries[2].Payload)

	stats := l.GetStats()
	assert.Equal(t, uint64(3), stats["total_entries"])
	assert.Equal(t, uint64(1), stats["invalid_entries"])
	assert.Equal(t, int64(1), stats["active_connections"])
}

func TestTCPAuth(t *testing.T) {
	_, app, addr := startListener(t, func(cfg *config.TCPConfig) {
		cfg.Auth = &config.AuthConfig{
			Type:   "bearer",
			Bearer: &config.BearerAuthConfig{Tokens: []string{"secret"}},
		}
	})

	t.Run("Accepted", func(t *testing.T) {
		conn := dial(t, addr)
		reader := bufio.NewReader(conn)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		greeting, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "AUTH_REQUIRED\n", greeting)

		// Entry sent right behind the handshake is held until auth completes
		_, err = conn.Write([]byte("AUTH token secret\n" + `{"payload":"after auth"}` + "\n"))
		require.NoError(t, err)

		reply, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "AUTH_OK\n", reply)

		require.Eventually(t, func() bool { return len(app.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, "after auth", app.snapshot()[0].Payload)
	})

	t.Run("Rejected", func(t *testing.T) {
		conn := dial(t, addr)
		reader := bufio.NewReader(conn)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		_, err := reader.ReadString('\n')
		require.NoError(t, err)

		_, err = conn.Write([]byte("HELLO there friend\n"))
		require.NoError(t, err)

		reply, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "AUTH_FAIL\n", reply)

		// Server closes the connection after the failure
		_, err = reader.ReadString('\n')
		assert.Error(t, err)
	})
}

func TestTCPBlacklist(t *testing.T) {
	_, app, addr := startListener(t, func(cfg *config.TCPConfig) {
		cfg.NetLimit = &config.NetLimitConfig{IPBlacklist: []string{"127.0.0.1"}}
	})

	conn := dial(t, addr)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _ = conn.Write([]byte(`{"payload":"x"}` + "\n"))

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	assert.Error(t, err)
	assert.Empty(t, app.snapshot())
}

func TestQueueOverflowDrops(t *testing.T) {
	l, err := New(&config.TCPConfig{Port: 9000, QueueSize: 2}, &memAppender{}, newTestLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		l.enqueue(core.LogEntry{Payload: fmt.Sprint(i)})
	}
	assert.Equal(t, uint64(3), l.droppedEntries.Load())
	assert.Equal(t, 2, len(l.queue))

	// Stop without Start flushes the queue through the writer path
	l.wg.Add(1)
	go l.writerLoop()
	l.Stop()
	assert.Equal(t, uint64(2), l.totalEntries.Load())
}
