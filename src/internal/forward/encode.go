// FILE: src/internal/forward/encode.go
package forward

import (
	"encoding/json"
	"time"

	"towl/src/internal/core"
)

// Wire form accepted by the server's ingest endpoint
type wireEntry struct {
	ID      string `json:"id,omitempty"`
	Source  string `json:"source"`
	Time    string `json:"time"`
	Payload string `json:"payload"`
}

func encodeBatch(batch []core.LogEntry) ([]byte, error) {
	wire := make([]wireEntry, len(batch))
	for i, entry := range batch {
		wire[i] = wireEntry{
			ID:      entry.ID,
			Source:  entry.Source,
			Time:    entry.Time.Format(time.RFC3339Nano),
			Payload: entry.Payload,
		}
	}
	return json.Marshal(wire)
}
