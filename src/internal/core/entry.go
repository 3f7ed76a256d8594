// FILE: src/internal/core/entry.go
package core

import (
	"time"
)

// Represents a single log record as stored in a towl file
type LogEntry struct {
	ID      string    `json:"id,omitempty"`
	Source  string    `json:"source"`
	Time    time.Time `json:"time"`
	Payload string    `json:"payload"`
}
