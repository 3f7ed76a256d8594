// FILE: src/internal/format/yaml.go
package format

import (
	"fmt"
	"time"

	"towl/src/internal/core"

	"github.com/lixenwraith/log"
	"gopkg.in/yaml.v3"
)

// YAMLFormatter emits each entry as a YAML document
type YAMLFormatter struct {
	logger *log.Logger
}

type yamlEntry struct {
	ID      string `yaml:"id,omitempty"`
	Source  string `yaml:"source"`
	Time    string `yaml:"time"`
	Payload string `yaml:"payload"`
}

func NewYAMLFormatter(options map[string]any, logger *log.Logger) (*YAMLFormatter, error) {
	return &YAMLFormatter{logger: logger}, nil
}

// Format returns a "---" separated document
func (f *YAMLFormatter) Format(entry core.LogEntry) ([]byte, error) {
	out, err := yaml.Marshal(yamlEntry{
		ID:      entry.ID,
		Source:  entry.Source,
		Time:    entry.Time.Format(time.RFC3339Nano),
		Payload: entry.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return append([]byte("---\n"), out...), nil
}

func (f *YAMLFormatter) Name() string {
	return "yaml"
}
