// FILE: src/internal/format/json.go
package format

import (
	"encoding/json"
	"fmt"
	"time"

	"towl/src/internal/core"

	"github.com/lixenwraith/log"
)

// JSONFormatter produces one JSON object per entry
type JSONFormatter struct {
	pretty       bool
	timeField    string
	sourceField  string
	payloadField string
	idField      string
	logger       *log.Logger
}

// NewJSONFormatter reads "pretty", "time_field", "source_field",
// "payload_field" and "id_field" from options.
func NewJSONFormatter(options map[string]any, logger *log.Logger) (*JSONFormatter, error) {
	f := &JSONFormatter{
		pretty:       boolOption(options, "pretty"),
		timeField:    stringOption(options, "time_field", "time"),
		sourceField:  stringOption(options, "source_field", "source"),
		payloadField: stringOption(options, "payload_field", "payload"),
		idField:      stringOption(options, "id_field", "id"),
		logger:       logger,
	}
	if f.timeField == f.sourceField || f.timeField == f.payloadField || f.sourceField == f.payloadField {
		return nil, fmt.Errorf("json formatter field names must be distinct")
	}
	return f, nil
}

// Format emits entry metadata. A payload holding a JSON object is merged
// into the output; metadata fields win on conflict.
func (f *JSONFormatter) Format(entry core.LogEntry) ([]byte, error) {
	output := make(map[string]any)

	output[f.timeField] = entry.Time.Format(time.RFC3339Nano)
	output[f.sourceField] = entry.Source
	if entry.ID != "" {
		output[f.idField] = entry.ID
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(entry.Payload), &payload); err == nil && payload != nil {
		for k, v := range payload {
			if _, reserved := output[k]; !reserved {
				output[k] = v
			}
		}
	} else {
		output[f.payloadField] = entry.Payload
	}

	var result []byte
	var err error
	if f.pretty {
		result, err = json.MarshalIndent(output, "", "  ")
	} else {
		result, err = json.Marshal(output)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return append(result, '\n'), nil
}

// Name returns the formatter's type name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// FormatBatch formats entries as a single JSON array
func (f *JSONFormatter) FormatBatch(entries []core.LogEntry) ([]byte, error) {
	batch := make([]json.RawMessage, 0, len(entries))

	for _, entry := range entries {
		formatted, err := f.Format(entry)
		if err != nil {
			f.logger.Warn("msg", "Failed to format entry in batch",
				"component", "json_formatter",
				"error", err)
			continue
		}
		if n := len(formatted); n > 0 && formatted[n-1] == '\n' {
			formatted = formatted[:n-1]
		}
		batch = append(batch, formatted)
	}

	if f.pretty {
		return json.MarshalIndent(batch, "", "  ")
	}
	return json.Marshal(batch)
}
