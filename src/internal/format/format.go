// FILE: src/internal/format/format.go
package format

import (
	"fmt"

	"towl/src/internal/core"

	"github.com/lixenwraith/log"
)

// Formatter defines the interface for transforming a LogEntry into a byte slice.
type Formatter interface {
	// Format takes a LogEntry and returns the formatted log as a byte slice.
	Format(entry core.LogEntry) ([]byte, error)

	// Name returns the formatter type name
	Name() string
}

// New creates a new Formatter based on the provided configuration.
func New(name string, options map[string]any, logger *log.Logger) (Formatter, error) {
	if name == "" {
		name = "json"
	}

	switch name {
	case "json":
		return NewJSONFormatter(options, logger)
	case "text", "txt":
		return NewTextFormatter(options, logger)
	case "raw":
		return NewRawFormatter(options, logger)
	case "yaml":
		return NewYAMLFormatter(options, logger)
	default:
		return nil, fmt.Errorf("unknown formatter type: %s", name)
	}
}

func stringOption(options map[string]any, key, def string) string {
	if v, ok := options[key].(string); ok && v != "" {
		return v
	}
	return def
}

func boolOption(options map[string]any, key string) bool {
	v, _ := options[key].(bool)
	return v
}
