// FILE: src/internal/format/raw.go
package format

import (
	"towl/src/internal/core"

	"github.com/lixenwraith/log"
)

// Outputs the payload as-is with a newline
type RawFormatter struct {
	logger *log.Logger
}

func NewRawFormatter(options map[string]any, logger *log.Logger) (*RawFormatter, error) {
	return &RawFormatter{
		logger: logger,
	}, nil
}

func (f *RawFormatter) Format(entry core.LogEntry) ([]byte, error) {
	return append([]byte(entry.Payload), '\n'), nil
}

func (f *RawFormatter) Name() string {
	return "raw"
}
