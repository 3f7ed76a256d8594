// FILE: src/internal/ingest/parse.go
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"towl/src/internal/core"
)

// Wire form of an ingested entry. Payload may be a JSON string or any
// other JSON value, which is stored as its compact text.
type ingestEntry struct {
	ID      string          `json:"id"`
	Source  string          `json:"source"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// ParseEntry decodes one JSON entry line
func ParseEntry(line []byte, defaultSource string) (core.LogEntry, error) {
	var raw ingestEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return core.LogEntry{}, err
	}
	return raw.toEntry(defaultSource)
}

// ParseEntries accepts a single JSON object, a JSON array or NDJSON.
// Entries without a source are attributed to defaultSource.
func ParseEntries(body []byte, defaultSource string) ([]core.LogEntry, error) {
	body = bytes.TrimSpace(body)

	var raw []ingestEntry
	switch {
	case len(body) > 0 && body[0] == '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
	default:
		var single ingestEntry
		if err := json.Unmarshal(body, &single); err == nil {
			raw = append(raw, single)
			break
		}
		for i, line := range splitLines(body) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var entry ingestEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			raw = append(raw, entry)
		}
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("no log entries found")
	}

	entries := make([]core.LogEntry, 0, len(raw))
	for i, r := range raw {
		entry, err := r.toEntry(defaultSource)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r ingestEntry) toEntry(defaultSource string) (core.LogEntry, error) {
	payload, err := payloadText(r.Payload)
	if err != nil {
		return core.LogEntry{}, err
	}
	if payload == "" {
		return core.LogEntry{}, fmt.Errorf("missing required field: payload")
	}
	source := r.Source
	if source == "" {
		source = defaultSource
	}
	return core.LogEntry{
		ID:      r.ID,
		Source:  source,
		Time:    r.Time,
		Payload: payload,
	}, nil
}

func payloadText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// splitLines splits bytes into lines, handling both \n and \r\n
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0

	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			end := i
			if i > 0 && data[i-1] == '\r' {
				end = i - 1
			}
			lines = append(lines, data[start:end])
			start = i + 1
		}
	}

	if start < len(data) {
		lines = append(lines, data[start:])
	}

	return lines
}
