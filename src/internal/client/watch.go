// FILE: src/internal/client/watch.go
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Event is one Server-Sent Event
type Event struct {
	Name string
	Data []byte
}

// ErrDisconnected carries the reason given by the server on disconnect
type ErrDisconnected struct {
	Reason string
}

func (e *ErrDisconnected) Error() string {
	return fmt.Sprintf("server closed the stream: %s", e.Reason)
}

// Watch tails live entries. fn receives the data of each entry event as
// formatted by the server; onLag, if set, receives dropped-entry counts.
// Heartbeats are consumed silently.
func (c *Client) Watch(ctx context.Context, fn func(data []byte) error, onLag func(missed uint64)) error {
	return c.stream(ctx, c.endpoint(c.opts.WatchPath, nil), "text/event-stream", func(body io.Reader) error {
		return readEvents(body, func(ev Event) error {
			switch ev.Name {
			case "", "message":
				return fn(ev.Data)
			case "lagged":
				var lag struct {
					Missed uint64 `json:"missed"`
				}
				if err := json.Unmarshal(ev.Data, &lag); err == nil && onLag != nil {
					onLag(lag.Missed)
				}
			case "disconnect":
				var d struct {
					Reason string `json:"reason"`
				}
				_ = json.Unmarshal(ev.Data, &d)
				return &ErrDisconnected{Reason: d.Reason}
			}
			return nil
		})
	})
}

// readEvents parses an SSE stream, joining multi-line data fields
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		name string
		data [][]byte
	)
	dispatch := func() error {
		if name == "" && data == nil {
			return nil
		}
		ev := Event{Name: name, Data: bytes.Join(data, []byte{'\n'})}
		name, data = "", nil
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte{':'})
		value = bytes.TrimPrefix(value, []byte{' '})
		switch string(field) {
		case "event":
			name = string(value)
		case "data":
			data = append(data, append([]byte(nil), value...))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return dispatch()
}
