// FILE: src/cmd/towl/status.go
package main

import (
	"context"
	"time"
)

// Periodically logs journal and listener status
func statusReporter(ctx context.Context, app *application, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("msg", "Panic in status reporter",
							"component", "status_reporter",
							"panic", r)
					}
				}()
				logStatus(app)
			}()
		}
	}
}

func logStatus(app *application) {
	stats := app.journal.Stats()

	statusFields := []any{
		"msg", "Status report",
		"component", "status_reporter",
		"state", stats["state"],
		"total_entries", stats["total_entries"],
		"failed_entries", stats["failed_entries"],
		"rotations", stats["rotations"],
	}

	if working, ok := stats["working"].(map[string]any); ok {
		if open, _ := working["open"].(bool); open {
			statusFields = append(statusFields,
				"working_id", working["id"],
				"working_count", working["count"])
		}
	}
	if hub, ok := stats["hub"].(map[string]any); ok {
		statusFields = append(statusFields,
			"watchers", hub["subscribers"],
			"dropped", hub["dropped"])
	}

	if app.http != nil {
		httpStats := app.http.GetStats()
		statusFields = append(statusFields,
			"http_ingested", httpStats["total_ingested"],
			"http_watchers", httpStats["active_watchers"])
	}
	if app.tcp != nil {
		tcpStats := app.tcp.GetStats()
		statusFields = append(statusFields,
			"tcp_entries", tcpStats["total_entries"],
			"tcp_dropped", tcpStats["dropped_entries"],
			"tcp_connections", tcpStats["active_connections"])
	}

	logger.Debug(statusFields...)
}
