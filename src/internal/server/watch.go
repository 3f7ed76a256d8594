// FILE: src/internal/server/watch.go
package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"towl/src/internal/auth"
	"towl/src/internal/core"

	"github.com/valyala/fasthttp"
)

// handleWatch tails the journal as Server-Sent Events
func (s *Server) handleWatch(ctx *fasthttp.RequestCtx, session *auth.Session) {
	remoteAddr := ctx.RemoteAddr().String()

	sub, err := s.journal.Watch()
	if err != nil {
		s.authenticator.EndSession(session.ID)
		writeError(ctx, fasthttp.StatusServiceUnavailable, err.Error())
		return
	}

	s.netLimiter.AddConnection(remoteAddr)

	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		active := s.activeWatchers.Add(1)
		s.logger.Debug("msg", "Watch client connected",
			"component", "http_server",
			"remote_addr", remoteAddr,
			"username", session.Username,
			"auth_method", session.Method,
			"subscription", sub.ID(),
			"active_watchers", active)

		defer func() {
			sub.Close()
			s.netLimiter.RemoveConnection(remoteAddr)
			s.authenticator.EndSession(session.ID)
			active := s.activeWatchers.Add(-1)
			s.logger.Debug("msg", "Watch client disconnected",
				"component", "http_server",
				"remote_addr", remoteAddr,
				"subscription", sub.ID(),
				"active_watchers", active)
		}()

		info, _ := json.Marshal(map[string]any{
			"subscription": sub.ID(),
			"username":     session.Username,
			"auth_method":  session.Method,
			"format":       s.formatter.Name(),
		})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", info)
		if err := w.Flush(); err != nil {
			return
		}

		var tickerChan <-chan time.Time
		if s.config.Heartbeat.Enabled && s.config.Heartbeat.IntervalSeconds > 0 {
			ticker := time.NewTicker(time.Duration(s.config.Heartbeat.IntervalSeconds) * time.Second)
			defer ticker.Stop()
			tickerChan = ticker.C
		}

		for {
			select {
			case entry, ok := <-sub.C():
				if !ok {
					// Hub closed with the journal
					writeEvent(w, "disconnect", []byte(`{"reason":"journal_closed"}`))
					w.Flush()
					return
				}
				if missed := sub.Missed(); missed > 0 {
					writeEvent(w, "lagged", []byte(fmt.Sprintf(`{"missed":%d}`, missed)))
				}
				if !s.filters.Apply(entry) {
					continue
				}
				if err := s.writeEntry(w, entry); err != nil {
					s.logger.Error("msg", "Failed to format log entry",
						"component", "http_server",
						"subscription", sub.ID(),
						"entry_source", entry.Source,
						"error", err)
					continue
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-tickerChan:
				if !s.authenticator.ValidateSession(session.ID) {
					writeEvent(w, "disconnect", []byte(`{"reason":"session_expired"}`))
					w.Flush()
					return
				}
				writeEvent(w, "heartbeat", s.heartbeatData())
				if err := w.Flush(); err != nil {
					return
				}

			case <-s.done:
				writeEvent(w, "disconnect", []byte(`{"reason":"server_shutdown"}`))
				w.Flush()
				return
			}
		}
	})
}

func (s *Server) heartbeatData() []byte {
	hb := map[string]any{
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	if s.config.Heartbeat.IncludeStats {
		hb["active_watchers"] = s.activeWatchers.Load()
		hb["uptime_seconds"] = int(time.Since(s.startTime).Seconds())
		if _, idx, ok := s.journal.Working(); ok {
			hb["count"] = idx.Count
		}
	}
	data, _ := json.Marshal(hb)
	return data
}

func (s *Server) writeEntry(w *bufio.Writer, entry core.LogEntry) error {
	formatted, err := s.formatter.Format(entry)
	if err != nil {
		return err
	}
	writeEvent(w, "", bytes.TrimSuffix(formatted, []byte{'\n'}))
	return nil
}

// writeEvent emits one SSE event; each line of data gets its own "data:" field
func writeEvent(w *bufio.Writer, event string, data []byte) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	w.WriteString("\n")
}
