// FILE: src/internal/filter/chain.go
package filter

import (
	"fmt"
	"sync/atomic"

	"towl/src/internal/config"
	"towl/src/internal/core"

	"github.com/lixenwraith/log"
)

// Chain is an ordered set of filters an entry must all pass.
// A nil or empty chain passes everything.
type Chain struct {
	filters []*Filter
	logger  *log.Logger

	processed atomic.Uint64
	passed    atomic.Uint64
	// Indexed like filters
	rejected []atomic.Uint64
}

func newChain(filters []*Filter, logger *log.Logger) *Chain {
	return &Chain{
		filters:  filters,
		logger:   logger,
		rejected: make([]atomic.Uint64, len(filters)),
	}
}

// NewChain compiles the configured filters in order
func NewChain(configs []config.FilterConfig, logger *log.Logger) (*Chain, error) {
	filters := make([]*Filter, 0, len(configs))
	for i, cfg := range configs {
		f, err := NewFilter(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("filter[%d]: %w", i, err)
		}
		filters = append(filters, f)
	}

	logger.Debug("msg", "Filter chain compiled",
		"component", "filter_chain",
		"filters", len(filters))
	return newChain(filters, logger), nil
}

// WithMatch returns a per-query chain: c's filters plus an include filter
// for pattern. c itself is not modified.
func (c *Chain) WithMatch(pattern string, logger *log.Logger) (*Chain, error) {
	match, err := NewFilter(config.FilterConfig{
		Type:     config.FilterTypeInclude,
		Patterns: []string{pattern},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	var base []*Filter
	if c != nil {
		base = c.filters
	}
	filters := make([]*Filter, 0, len(base)+1)
	filters = append(append(filters, base...), match)
	return newChain(filters, logger), nil
}

// Apply reports whether entry passes every filter
func (c *Chain) Apply(entry core.LogEntry) bool {
	if c == nil {
		return true
	}
	c.processed.Add(1)

	for i, f := range c.filters {
		if !f.Apply(entry) {
			c.rejected[i].Add(1)
			return false
		}
	}
	c.passed.Add(1)
	return true
}

// Sink wraps a stream callback so only passing entries reach fn
func (c *Chain) Sink(fn func(core.LogEntry) error) func(core.LogEntry) error {
	return func(entry core.LogEntry) error {
		if !c.Apply(entry) {
			return nil
		}
		return fn(entry)
	}
}

func (c *Chain) GetStats() map[string]any {
	if c == nil {
		return map[string]any{"filter_count": 0}
	}

	filters := make([]map[string]any, len(c.filters))
	for i, f := range c.filters {
		stats := f.GetStats()
		stats["rejected_in_chain"] = c.rejected[i].Load()
		filters[i] = stats
	}
	return map[string]any{
		"filter_count":    len(c.filters),
		"total_processed": c.processed.Load(),
		"total_passed":    c.passed.Load(),
		"filters":         filters,
	}
}
