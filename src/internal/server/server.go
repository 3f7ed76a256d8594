// FILE: src/internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"towl/src/internal/auth"
	"towl/src/internal/config"
	"towl/src/internal/filter"
	"towl/src/internal/format"
	"towl/src/internal/journal"
	"towl/src/internal/limit"
	ltls "towl/src/internal/tls"
	"towl/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/valyala/fasthttp"
)

// Server exposes a journal over HTTP: ingest, query, live tail, archive
// listing and status.
type Server struct {
	// Configuration reference (NOT a copy)
	config  *config.HTTPConfig
	journal *journal.Journal
	logger  *log.Logger

	formatter     format.Formatter
	filters       *filter.Chain
	authenticator *auth.Authenticator
	netLimiter    *limit.NetLimiter
	tlsManager    *ltls.ServerManager

	server    *fasthttp.Server
	startTime time.Time
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Statistics
	activeWatchers  atomic.Int64
	totalIngested   atomic.Uint64
	rejectedEntries atomic.Uint64
	totalQueries    atomic.Uint64
	authFailures    atomic.Uint64
	authSuccesses   atomic.Uint64
}

// New builds a server for j. Nothing listens until Start or Serve.
func New(cfg *config.HTTPConfig, j *journal.Journal, logger *log.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("HTTP config cannot be nil")
	}

	formatter, err := format.New(cfg.Format, cfg.FormatOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	filters, err := filter.NewChain(cfg.Filters, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter chain: %w", err)
	}

	authenticator, err := auth.New(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	tlsManager, err := ltls.NewServerManager(cfg.TLS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}

	s := &Server{
		config:        cfg,
		journal:       j,
		logger:        logger,
		formatter:     formatter,
		filters:       filters,
		authenticator: authenticator,
		tlsManager:    tlsManager,
		netLimiter:    limit.NewNetLimiter(cfg.NetLimit, logger),
		startTime:     time.Now(),
		done:          make(chan struct{}),
	}

	s.server = &fasthttp.Server{
		Name:               version.UserAgent("towl"),
		Handler:            s.requestHandler,
		DisableKeepalive:   false,
		Logger:             compat.NewFastHTTPAdapter(logger),
		ReadTimeout:        time.Duration(cfg.ReadTimeout) * time.Millisecond,
		WriteTimeout:       time.Duration(cfg.WriteTimeout) * time.Millisecond,
		MaxRequestBodySize: int(cfg.MaxBodySize),
		CloseOnShutdown:    true,
	}

	return s, nil
}

// Start listens on the configured host and port and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(ln); err != nil {
			s.logger.Error("msg", "HTTP server failed",
				"component", "http_server",
				"address", addr,
				"error", err)
		}
	}()
	return nil
}

// Serve blocks serving requests from ln until Stop
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("msg", "HTTP server started",
		"component", "http_server",
		"address", ln.Addr().String(),
		"ingest_path", s.config.IngestPath,
		"logs_path", s.config.LogsPath,
		"watch_path", s.config.WatchPath,
		"archives_path", s.config.ArchivesPath,
		"status_path", s.config.StatusPath,
		"auth", s.authenticator.Required(),
		"tls", s.tlsManager != nil)

	return s.server.Serve(s.tlsManager.Listener(ln))
}

// Stop ends live streams with a disconnect event, then shuts the listener down
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("msg", "Stopping HTTP server", "component", "http_server")

		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.ShutdownWithContext(ctx); err != nil {
			s.logger.Warn("msg", "HTTP server shutdown incomplete",
				"component", "http_server",
				"error", err)
		}

		s.wg.Wait()
		s.netLimiter.Shutdown()
		s.authenticator.Close()

		s.logger.Info("msg", "HTTP server stopped", "component", "http_server")
	})
}

// GetStats returns server statistics
func (s *Server) GetStats() map[string]any {
	authStats := s.authenticator.GetStats()
	authStats["failures"] = s.authFailures.Load()
	authStats["successes"] = s.authSuccesses.Load()

	return map[string]any{
		"type":             "http",
		"host":             s.config.Host,
		"port":             s.config.Port,
		"active_watchers":  s.activeWatchers.Load(),
		"total_ingested":   s.totalIngested.Load(),
		"rejected_entries": s.rejectedEntries.Load(),
		"total_queries":    s.totalQueries.Load(),
		"uptime_seconds":   int(time.Since(s.startTime).Seconds()),
		"format":           s.formatter.Name(),
		"filters":          s.filters.GetStats(),
		"auth":             authStats,
		"net_limit":        s.netLimiter.GetStats(),
		"tls":              s.tlsManager.GetStats(),
	}
}

func (s *Server) requestHandler(ctx *fasthttp.RequestCtx) {
	remoteAddr := ctx.RemoteAddr().String()
	path := string(ctx.Path())

	// Status endpoint bypasses limits and auth
	if path == s.config.StatusPath {
		s.handleStatus(ctx)
		return
	}

	if allowed, statusCode, message := s.netLimiter.CheckHTTP(remoteAddr); !allowed {
		s.logger.Warn("msg", "Net limited",
			"component", "http_server",
			"remote_addr", remoteAddr,
			"status_code", statusCode,
			"error", message)
		writeError(ctx, int(statusCode), message)
		return
	}

	session, err := s.authenticator.AuthenticateHTTP(string(ctx.Request.Header.Peek("Authorization")), remoteAddr)
	if err != nil {
		s.authFailures.Add(1)
		s.logger.Warn("msg", "Authentication failed",
			"component", "http_server",
			"remote_addr", remoteAddr,
			"error", err)
		ctx.Response.Header.Set("WWW-Authenticate", s.authenticator.Challenge())
		writeError(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
		return
	}
	if s.authenticator.Required() {
		s.authSuccesses.Add(1)
	}

	switch path {
	case s.config.IngestPath:
		defer s.authenticator.EndSession(session.ID)
		if !requireMethod(ctx, fasthttp.MethodPost) {
			return
		}
		s.handleIngest(ctx, session)
	case s.config.LogsPath:
		if !requireMethod(ctx, fasthttp.MethodGet) {
			s.authenticator.EndSession(session.ID)
			return
		}
		s.handleLogs(ctx, session)
	case s.config.WatchPath:
		if !requireMethod(ctx, fasthttp.MethodGet) {
			s.authenticator.EndSession(session.ID)
			return
		}
		s.handleWatch(ctx, session)
	case s.config.ArchivesPath:
		defer s.authenticator.EndSession(session.ID)
		if !requireMethod(ctx, fasthttp.MethodGet) {
			return
		}
		s.handleArchives(ctx)
	default:
		s.authenticator.EndSession(session.ID)
		writeError(ctx, fasthttp.StatusNotFound, "Not Found")
	}
}

func requireMethod(ctx *fasthttp.RequestCtx, method string) bool {
	if string(ctx.Method()) == method {
		return true
	}
	ctx.Response.Header.Set("Allow", method)
	writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method Not Allowed")
	return false
}

func writeJSON(ctx *fasthttp.RequestCtx, statusCode int, v any) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func writeError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	writeJSON(ctx, statusCode, map[string]string{"error": message})
}

// streamContext is cancelled when the server stops or the stream returns
func (s *Server) streamContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
