// FILE: src/internal/client/query.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"towl/src/internal/core"
)

// FetchOptions narrows a log query
type FetchOptions struct {
	After   time.Time
	Archive string
	Match   string
}

// Archive describes one rotated file as listed by the server
type Archive struct {
	Name   string     `json:"name"`
	ID     uint64     `json:"id"`
	Org    string     `json:"org"`
	Title  string     `json:"title"`
	Opened time.Time  `json:"opened"`
	Closed *time.Time `json:"closed,omitempty"`
	Count  uint64     `json:"count"`
	First  *time.Time `json:"first,omitempty"`
	Last   *time.Time `json:"last,omitempty"`
	Size   int64      `json:"size"`
}

// Fetch streams stored entries to fn in file order. Returning an error
// from fn stops the stream.
func (c *Client) Fetch(ctx context.Context, opts FetchOptions, fn func(core.LogEntry) error) error {
	query := url.Values{}
	if !opts.After.IsZero() {
		query.Set("after", opts.After.Format(time.RFC3339Nano))
	}
	if opts.Archive != "" {
		query.Set("archive", opts.Archive)
	}
	if opts.Match != "" {
		query.Set("match", opts.Match)
	}

	return c.stream(ctx, c.endpoint(c.opts.LogsPath, query), "application/x-ndjson", func(body io.Reader) error {
		dec := json.NewDecoder(body)
		for {
			var entry core.LogEntry
			if err := dec.Decode(&entry); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("failed to decode entry: %w", err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
	})
}

// Archives lists rotated files
func (c *Client) Archives(ctx context.Context) ([]Archive, error) {
	var archives []Archive
	if err := c.getJSON(ctx, c.endpoint(c.opts.ArchivesPath, nil), &archives); err != nil {
		return nil, err
	}
	return archives, nil
}

// Status returns the server status document
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.getJSON(ctx, c.endpoint(c.opts.StatusPath, nil), &status); err != nil {
		return nil, err
	}
	return status, nil
}
