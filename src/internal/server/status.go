// FILE: src/internal/server/status.go
package server

import (
	"time"

	"towl/src/internal/version"

	"github.com/valyala/fasthttp"
)

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	if !requireMethod(ctx, fasthttp.MethodGet) {
		return
	}

	status := map[string]any{
		"service": "towl",
		"version": version.Short(),
		"journal": s.journal.Stats(),
		"server": map[string]any{
			"type":            "http",
			"port":            s.config.Port,
			"active_watchers": s.activeWatchers.Load(),
			"uptime_seconds":  int(time.Since(s.startTime).Seconds()),
		},
		"endpoints": map[string]string{
			"ingest":   s.config.IngestPath,
			"logs":     s.config.LogsPath,
			"watch":    s.config.WatchPath,
			"archives": s.config.ArchivesPath,
			"status":   s.config.StatusPath,
		},
		"features": map[string]any{
			"heartbeat": map[string]any{
				"enabled":  s.config.Heartbeat.Enabled,
				"interval": s.config.Heartbeat.IntervalSeconds,
			},
			"format":    s.formatter.Name(),
			"auth":      s.authenticator.GetStats(),
			"net_limit": s.netLimiter.GetStats(),
		},
		"statistics": map[string]any{
			"total_ingested":   s.totalIngested.Load(),
			"rejected_entries": s.rejectedEntries.Load(),
			"total_queries":    s.totalQueries.Load(),
			"auth_failures":    s.authFailures.Load(),
			"auth_successes":   s.authSuccesses.Load(),
		},
	}

	writeJSON(ctx, fasthttp.StatusOK, status)
}
