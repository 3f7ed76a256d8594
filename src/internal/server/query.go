// FILE: src/internal/server/query.go
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"time"

	"towl/src/internal/auth"
	"towl/src/internal/core"
	"towl/src/internal/journal"

	"github.com/valyala/fasthttp"
)

// ArchiveView is the JSON shape of one archive listing row
type ArchiveView struct {
	Name   string     `json:"name"`
	ID     uint64     `json:"id"`
	Org    string     `json:"org"`
	Title  string     `json:"title"`
	Opened time.Time  `json:"opened"`
	Closed *time.Time `json:"closed,omitempty"`
	Count  uint64     `json:"count"`
	First  *time.Time `json:"first,omitempty"`
	Last   *time.Time `json:"last,omitempty"`
	Size   int64      `json:"size"`
}

// handleLogs streams stored entries as NDJSON. Query parameters:
// after (RFC3339), archive (file name) and match (regex).
func (s *Server) handleLogs(ctx *fasthttp.RequestCtx, session *auth.Session) {
	defer s.authenticator.EndSession(session.ID)

	args := ctx.QueryArgs()

	var after time.Time
	if v := string(args.Peek("after")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(ctx, fasthttp.StatusBadRequest, "after must be an RFC3339 timestamp")
			return
		}
		after = t
	}

	chain := s.filters
	if m := string(args.Peek("match")); m != "" {
		withMatch, err := chain.WithMatch(m, s.logger)
		if err != nil {
			writeError(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		chain = withMatch
	}

	archive := string(args.Peek("archive"))
	if archive != "" {
		if _, err := s.journal.ArchivePath(archive); err != nil {
			if errors.Is(err, journal.ErrArchiveNotFound) {
				writeError(ctx, fasthttp.StatusNotFound, err.Error())
				return
			}
			writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
			return
		}
	}

	s.totalQueries.Add(1)
	remoteAddr := ctx.RemoteAddr().String()

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/x-ndjson")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := s.streamContext()
		defer cancel()

		enc := json.NewEncoder(w)
		emit := chain.Sink(func(entry core.LogEntry) error {
			return enc.Encode(entry)
		})

		var err error
		if archive != "" {
			err = s.journal.StreamArchive(streamCtx, archive, after, emit)
		} else {
			err = s.journal.Stream(streamCtx, after, emit)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("msg", "Log query ended with error",
				"component", "http_server",
				"remote_addr", remoteAddr,
				"archive", archive,
				"error", err)
		}
		w.Flush()
	})
}

func (s *Server) handleArchives(ctx *fasthttp.RequestCtx) {
	archives, err := s.journal.Archives()
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	views := make([]ArchiveView, 0, len(archives))
	for _, a := range archives {
		views = append(views, ArchiveView{
			Name:   a.Name,
			ID:     a.Header.ID,
			Org:    a.Header.Org,
			Title:  a.Header.Title,
			Opened: a.Index.Opened,
			Closed: a.Index.Closed,
			Count:  a.Index.Count,
			First:  a.Index.First,
			Last:   a.Index.Last,
			Size:   a.Size,
		})
	}
	writeJSON(ctx, fasthttp.StatusOK, views)
}
