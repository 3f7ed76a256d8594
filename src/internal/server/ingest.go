// FILE: src/internal/server/ingest.go
package server

import (
	"bytes"
	"errors"
	"fmt"

	"towl/src/internal/auth"
	"towl/src/internal/ingest"
	"towl/src/internal/journal"

	"github.com/valyala/fasthttp"
)

func (s *Server) handleIngest(ctx *fasthttp.RequestCtx, session *auth.Session) {
	body := ctx.PostBody()
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(ctx, fasthttp.StatusBadRequest, "Empty request body")
		return
	}

	entries, err := ingest.ParseEntries(body, session.RemoteAddr)
	if err != nil {
		s.rejectedEntries.Add(1)
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("Invalid log format: %v", err))
		return
	}

	accepted := 0
	for _, entry := range entries {
		if err := s.journal.AddEntry(entry); err != nil {
			s.rejectedEntries.Add(1)
			if errors.Is(err, journal.ErrNotActive) {
				writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]any{
					"error":    err.Error(),
					"accepted": accepted,
					"total":    len(entries),
				})
				return
			}
			s.logger.Error("msg", "Failed to add entry",
				"component", "http_server",
				"source", entry.Source,
				"error", err)
			continue
		}
		accepted++
	}
	s.totalIngested.Add(uint64(accepted))

	status := fasthttp.StatusAccepted
	if accepted == 0 {
		status = fasthttp.StatusInternalServerError
	}
	writeJSON(ctx, status, map[string]any{
		"accepted": accepted,
		"total":    len(entries),
	})
}
