// FILE: src/internal/format/text.go
package format

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"towl/src/internal/core"

	"github.com/lixenwraith/log"
)

const (
	DefaultTextTemplate    = "[{{.Timestamp | FmtTime}}] {{.Source}} - {{.Payload}}"
	DefaultTimestampFormat = time.RFC3339
)

// Produces human-readable text logs using templates
type TextFormatter struct {
	timestampFormat string
	template        *template.Template
	logger          *log.Logger
}

// Creates a new text formatter from "template" and "timestamp_format" options
func NewTextFormatter(options map[string]any, logger *log.Logger) (*TextFormatter, error) {
	f := &TextFormatter{
		timestampFormat: stringOption(options, "timestamp_format", DefaultTimestampFormat),
		logger:          logger,
	}

	funcMap := template.FuncMap{
		"FmtTime": func(t time.Time) string {
			return t.Format(f.timestampFormat)
		},
		"ToUpper":   strings.ToUpper,
		"ToLower":   strings.ToLower,
		"TrimSpace": strings.TrimSpace,
	}

	tmpl, err := template.New("log").Funcs(funcMap).Parse(stringOption(options, "template", DefaultTextTemplate))
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	f.template = tmpl
	return f, nil
}

// Formats the log entry using the template
func (f *TextFormatter) Format(entry core.LogEntry) ([]byte, error) {
	data := map[string]any{
		"Timestamp": entry.Time,
		"Source":    entry.Source,
		"Payload":   entry.Payload,
		"ID":        entry.ID,
	}

	var buf bytes.Buffer
	if err := f.template.Execute(&buf, data); err != nil {
		f.logger.Debug("msg", "Template execution failed, using fallback",
			"component", "text_formatter",
			"error", err)

		fallback := fmt.Sprintf("[%s] %s - %s\n",
			entry.Time.Format(f.timestampFormat),
			entry.Source,
			entry.Payload)
		return []byte(fallback), nil
	}

	result := buf.Bytes()
	if len(result) == 0 || result[len(result)-1] != '\n' {
		result = append(result, '\n')
	}

	return result, nil
}

// Returns the formatter name
func (f *TextFormatter) Name() string {
	return "text"
}
