// FILE: src/internal/ingest/tcp.go
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"towl/src/internal/auth"
	"towl/src/internal/config"
	"towl/src/internal/core"
	"towl/src/internal/limit"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
)

const (
	maxClientBufferSize = 10 * 1024 * 1024 // 10MB max per client
	maxLineLength       = 1 * 1024 * 1024  // 1MB max per log line
	authTimeout         = 30 * time.Second
)

// Appender receives parsed entries; *journal.Journal satisfies it
type Appender interface {
	AddEntry(entry core.LogEntry) error
}

// Listener accepts NDJSON log entries over TCP. The event loop only parses;
// a single writer goroutine drains the queue into the appender.
type Listener struct {
	config   *config.TCPConfig
	appender Appender
	logger   *log.Logger

	authenticator *auth.Authenticator
	netLimiter    *limit.NetLimiter

	queue    chan core.LogEntry
	server   *tcpServer
	engine   gnet.Engine
	running  bool
	engineMu sync.Mutex
	booted   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Statistics
	totalEntries   atomic.Uint64
	droppedEntries atomic.Uint64
	invalidEntries atomic.Uint64
	writeErrors    atomic.Uint64
	activeConns    atomic.Int64
	authFailures   atomic.Uint64
	authSuccesses  atomic.Uint64
	startTime      time.Time
	lastEntryTime  atomic.Value // time.Time
}

// New creates a TCP ingestion listener writing to appender
func New(cfg *config.TCPConfig, appender Appender, logger *log.Logger) (*Listener, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TCP config cannot be nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("tcp listener requires a valid port, got %d", cfg.Port)
	}

	authenticator, err := auth.New(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &Listener{
		config:        cfg,
		appender:      appender,
		logger:        logger,
		authenticator: authenticator,
		netLimiter:    limit.NewNetLimiter(cfg.NetLimit, logger),
		queue:         make(chan core.LogEntry, queueSize),
		booted:        make(chan struct{}),
		done:          make(chan struct{}),
		startTime:     time.Now(),
	}
	l.lastEntryTime.Store(time.Time{})
	l.server = &tcpServer{
		listener: l,
		clients:  make(map[gnet.Conn]*tcpClient),
	}
	return l, nil
}

// Start runs the writer and the gnet engine; it returns once the engine
// is accepting or failed to start
func (l *Listener) Start() error {
	l.wg.Add(1)
	go l.writerLoop()

	addr := fmt.Sprintf("tcp://%s:%d", l.config.Host, l.config.Port)
	errChan := make(chan error, 1)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.logger.Info("msg", "TCP ingest server starting",
			"component", "tcp_ingest",
			"address", addr,
			"auth", l.authenticator.Required())

		err := gnet.Run(l.server, addr,
			gnet.WithLogger(compat.NewGnetAdapter(l.logger)),
			gnet.WithMulticore(true),
			gnet.WithReusePort(true),
		)
		if err != nil {
			l.logger.Error("msg", "TCP ingest server failed",
				"component", "tcp_ingest",
				"address", addr,
				"error", err)
		}
		errChan <- err
	}()

	select {
	case err := <-errChan:
		l.Stop()
		if err == nil {
			err = fmt.Errorf("tcp ingest server exited during startup")
		}
		return err
	case <-l.booted:
		return nil
	}
}

// Stop shuts the engine down, then flushes queued entries
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.logger.Info("msg", "Stopping TCP ingest server", "component", "tcp_ingest")

		l.engineMu.Lock()
		engine, running := l.engine, l.running
		l.engineMu.Unlock()

		if running {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := engine.Stop(ctx); err != nil {
				l.logger.Debug("msg", "Engine stop returned error",
					"component", "tcp_ingest",
					"error", err)
			}
			cancel()
		}

		close(l.done)
		l.wg.Wait()

		l.netLimiter.Shutdown()
		l.authenticator.Close()

		l.logger.Info("msg", "TCP ingest server stopped",
			"component", "tcp_ingest",
			"total_entries", l.totalEntries.Load(),
			"dropped_entries", l.droppedEntries.Load())
	})
}

// GetStats returns listener statistics
func (l *Listener) GetStats() map[string]any {
	lastEntry, _ := l.lastEntryTime.Load().(time.Time)

	authStats := l.authenticator.GetStats()
	authStats["failures"] = l.authFailures.Load()
	authStats["successes"] = l.authSuccesses.Load()

	return map[string]any{
		"type":               "tcp",
		"host":               l.config.Host,
		"port":               l.config.Port,
		"total_entries":      l.totalEntries.Load(),
		"dropped_entries":    l.droppedEntries.Load(),
		"invalid_entries":    l.invalidEntries.Load(),
		"write_errors":       l.writeErrors.Load(),
		"active_connections": l.activeConns.Load(),
		"queue_length":       len(l.queue),
		"queue_capacity":     cap(l.queue),
		"uptime_seconds":     int(time.Since(l.startTime).Seconds()),
		"last_entry_time":    lastEntry,
		"auth":               authStats,
		"net_limit":          l.netLimiter.GetStats(),
	}
}

// enqueue never blocks the event loop; a full queue drops the entry
func (l *Listener) enqueue(entry core.LogEntry) {
	select {
	case l.queue <- entry:
	default:
		n := l.droppedEntries.Add(1)
		if n == 1 || n%1000 == 0 {
			l.logger.Warn("msg", "Ingest queue full, dropping entries",
				"component", "tcp_ingest",
				"dropped_total", n,
				"queue_capacity", cap(l.queue))
		}
	}
}

func (l *Listener) writerLoop() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.queue:
			l.write(entry)
		case <-l.done:
			for {
				select {
				case entry := <-l.queue:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Listener) write(entry core.LogEntry) {
	if err := l.appender.AddEntry(entry); err != nil {
		l.writeErrors.Add(1)
		l.logger.Error("msg", "Failed to store TCP entry",
			"component", "tcp_ingest",
			"source", entry.Source,
			"error", err)
		return
	}
	l.totalEntries.Add(1)
	l.lastEntryTime.Store(time.Now())
}

// Authentication progress of a client
const (
	authPending int32 = iota
	authInFlight
	authDone
)

// Represents a connected TCP client
type tcpClient struct {
	conn          gnet.Conn
	remoteAddr    string
	buffer        bytes.Buffer
	state         atomic.Int32
	authDeadline  time.Time
	session       *auth.Session
	maxBufferSeen int
}

// Handles gnet events
type tcpServer struct {
	gnet.BuiltinEventEngine
	listener *Listener
	clients  map[gnet.Conn]*tcpClient
	mu       sync.RWMutex
}

func (s *tcpServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.listener.engineMu.Lock()
	s.listener.engine = eng
	s.listener.running = true
	s.listener.engineMu.Unlock()
	close(s.listener.booted)

	s.listener.logger.Debug("msg", "TCP ingest server booted",
		"component", "tcp_ingest",
		"port", s.listener.config.Port)
	return gnet.None
}

func (s *tcpServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	l := s.listener
	remoteAddr := c.RemoteAddr().String()

	if !l.netLimiter.CheckTCP(c.RemoteAddr()) {
		l.logger.Warn("msg", "TCP connection net limited",
			"component", "tcp_ingest",
			"remote_addr", remoteAddr)
		return nil, gnet.Close
	}
	l.netLimiter.AddConnection(remoteAddr)

	client := &tcpClient{
		conn:       c,
		remoteAddr: remoteAddr,
	}
	if l.authenticator.Required() {
		client.authDeadline = time.Now().Add(authTimeout)
	} else {
		client.session, _ = l.authenticator.AuthenticateTCP("", "", remoteAddr)
		client.state.Store(authDone)
	}

	s.mu.Lock()
	s.clients[c] = client
	s.mu.Unlock()

	count := l.activeConns.Add(1)
	l.logger.Debug("msg", "TCP connection opened",
		"component", "tcp_ingest",
		"remote_addr", remoteAddr,
		"active_connections", count,
		"requires_auth", l.authenticator.Required())

	if l.authenticator.Required() {
		return []byte("AUTH_REQUIRED\n"), gnet.None
	}
	return nil, gnet.None
}

func (s *tcpServer) OnClose(c gnet.Conn, err error) gnet.Action {
	l := s.listener

	s.mu.Lock()
	client, exists := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if !exists {
		return gnet.None
	}

	l.netLimiter.RemoveConnection(client.remoteAddr)
	if client.state.Load() == authDone && client.session != nil {
		l.authenticator.EndSession(client.session.ID)
	}

	count := l.activeConns.Add(-1)
	l.logger.Debug("msg", "TCP connection closed",
		"component", "tcp_ingest",
		"remote_addr", client.remoteAddr,
		"active_connections", count,
		"error", err)
	return gnet.None
}

func (s *tcpServer) OnTraffic(c gnet.Conn) gnet.Action {
	l := s.listener

	s.mu.RLock()
	client, exists := s.clients[c]
	s.mu.RUnlock()
	if !exists {
		return gnet.Close
	}

	data, err := c.Next(-1)
	if err != nil {
		l.logger.Error("msg", "Error reading from connection",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr,
			"error", err)
		return gnet.Close
	}

	if client.buffer.Len()+len(data) > maxClientBufferSize {
		l.logger.Warn("msg", "Client buffer limit exceeded, closing connection",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr,
			"buffer_size", client.buffer.Len(),
			"incoming_size", len(data),
			"limit", maxClientBufferSize)
		l.invalidEntries.Add(1)
		return gnet.Close
	}
	client.buffer.Write(data)
	if client.buffer.Len() > client.maxBufferSeen {
		client.maxBufferSeen = client.buffer.Len()
	}

	switch client.state.Load() {
	case authPending:
		return s.startAuth(c, client)
	case authInFlight:
		// Buffered until the handshake completes
		return gnet.None
	}

	if client.buffer.Len() > maxLineLength && bytes.IndexByte(client.buffer.Bytes(), '\n') < 0 {
		l.logger.Warn("msg", "Line too long without newline",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr,
			"buffer_size", client.buffer.Len())
		l.invalidEntries.Add(1)
		return gnet.Close
	}

	for {
		line, err := client.buffer.ReadBytes('\n')
		if err != nil {
			// Keep the partial line for the next read
			client.buffer.Write(line)
			break
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLineLength {
			l.invalidEntries.Add(1)
			continue
		}

		entry, err := ParseEntry(line, client.remoteAddr)
		if err != nil {
			l.invalidEntries.Add(1)
			l.logger.Debug("msg", "Invalid log entry",
				"component", "tcp_ingest",
				"remote_addr", client.remoteAddr,
				"error", err)
			continue
		}
		l.enqueue(entry)
	}

	return gnet.None
}

// startAuth reads the AUTH line and verifies it off the event loop.
// Lines arriving meanwhile stay buffered and are replayed via Wake.
func (s *tcpServer) startAuth(c gnet.Conn, client *tcpClient) gnet.Action {
	l := s.listener

	if time.Now().After(client.authDeadline) {
		l.logger.Warn("msg", "Authentication timeout",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr)
		return gnet.Close
	}

	idx := bytes.IndexByte(client.buffer.Bytes(), '\n')
	if idx < 0 {
		if client.buffer.Len() > maxLineLength {
			return gnet.Close
		}
		return gnet.None
	}
	line := strings.TrimRight(string(client.buffer.Next(idx+1)), "\r\n")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || parts[0] != "AUTH" {
		l.authFailures.Add(1)
		c.AsyncWrite([]byte("AUTH_FAIL\n"), closeAfterWrite)
		return gnet.None
	}

	client.state.Store(authInFlight)
	go func() {
		session, err := l.authenticator.AuthenticateTCP(parts[1], parts[2], client.remoteAddr)
		if err != nil {
			l.authFailures.Add(1)
			l.logger.Warn("msg", "Authentication failed",
				"component", "tcp_ingest",
				"remote_addr", client.remoteAddr,
				"error", err)
			c.AsyncWrite([]byte("AUTH_FAIL\n"), closeAfterWrite)
			return
		}

		l.authSuccesses.Add(1)
		client.session = session
		client.state.Store(authDone)

		l.logger.Info("msg", "TCP client authenticated",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr,
			"username", session.Username,
			"method", session.Method)

		c.AsyncWrite([]byte("AUTH_OK\n"), nil)
		// Process anything sent behind the AUTH line
		c.Wake(nil)
	}()
	return gnet.None
}

func closeAfterWrite(c gnet.Conn, _ error) error {
	return c.Close()
}
