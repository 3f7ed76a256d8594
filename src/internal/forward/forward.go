// FILE: src/internal/forward/forward.go
package forward

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"towl/src/internal/config"
	"towl/src/internal/core"
	ltls "towl/src/internal/tls"
	"towl/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

const maxLineLength = 1 * 1024 * 1024 // 1MB max per forwarded line

// Forwarder runs a command and ships each stdout line to a towl server
type Forwarder struct {
	config *config.ForwardConfig
	client *fasthttp.Client
	logger *log.Logger

	entries chan core.LogEntry
	wg      sync.WaitGroup
	now     func() time.Time

	// Statistics
	totalLines     atomic.Uint64
	skippedLines   atomic.Uint64
	totalBatches   atomic.Uint64
	failedBatches  atomic.Uint64
	sentEntries    atomic.Uint64
	restarts       atomic.Uint64
	lastBatchSent  atomic.Value // time.Time
	commandRunning atomic.Bool
	startTime      time.Time
}

// New creates a forwarder; the command starts with Run
func New(cfg *config.ForwardConfig, logger *log.Logger) (*Forwarder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("forward config cannot be nil")
	}

	tlsManager, err := ltls.NewClientManager(cfg.TLS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	f := &Forwarder{
		config:  cfg,
		logger:  logger,
		entries: make(chan core.LogEntry, cfg.BufferSize),
		now:     time.Now,
		client: &fasthttp.Client{
			Name:                          version.UserAgent("towl-forward"),
			MaxConnsPerHost:               4,
			MaxIdleConnDuration:           10 * time.Second,
			ReadTimeout:                   timeout,
			WriteTimeout:                  timeout,
			DisableHeaderNamesNormalizing: true,
			TLSConfig:                     tlsManager.GetConfig(),
		},
		startTime: time.Now(),
	}
	f.lastBatchSent.Store(time.Time{})
	return f, nil
}

// NewEntry wraps one output line; the id is the hex sha256 of the line
func NewEntry(line []byte, sender string, received time.Time) core.LogEntry {
	sum := sha256.Sum256(line)
	return core.LogEntry{
		ID:      hex.EncodeToString(sum[:]),
		Source:  sender,
		Time:    received,
		Payload: string(line),
	}
}

// Run blocks until ctx is cancelled, restarting the command whenever it
// exits. Pending entries are flushed before returning.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info("msg", "Forwarder started",
		"component", "forwarder",
		"url", f.config.URL,
		"command", f.config.Command,
		"args", f.config.Args,
		"sender", f.config.SenderName,
		"batch_size", f.config.BatchSize)

	stop := make(chan struct{})
	f.wg.Add(1)
	go f.batchLoop(ctx, stop)

	for {
		err := f.runCommand(ctx)
		if ctx.Err() != nil {
			break
		}

		f.restarts.Add(1)
		f.logger.Warn("msg", "Command exited, restarting",
			"component", "forwarder",
			"command", f.config.Command,
			"error", err,
			"restart_delay", f.config.RestartDelay())

		timer := time.NewTimer(f.config.RestartDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(stop)
	f.wg.Wait()

	f.logger.Info("msg", "Forwarder stopped",
		"component", "forwarder",
		"total_lines", f.totalLines.Load(),
		"sent_entries", f.sentEntries.Load(),
		"failed_batches", f.failedBatches.Load())
	return nil
}

// GetStats returns forwarder statistics
func (f *Forwarder) GetStats() map[string]any {
	lastBatch, _ := f.lastBatchSent.Load().(time.Time)
	return map[string]any{
		"url":             f.config.URL,
		"command":         f.config.Command,
		"command_running": f.commandRunning.Load(),
		"restarts":        f.restarts.Load(),
		"total_lines":     f.totalLines.Load(),
		"skipped_lines":   f.skippedLines.Load(),
		"sent_entries":    f.sentEntries.Load(),
		"total_batches":   f.totalBatches.Load(),
		"failed_batches":  f.failedBatches.Load(),
		"pending_entries": len(f.entries),
		"last_batch_sent": lastBatch,
		"uptime_seconds":  int(time.Since(f.startTime).Seconds()),
	}
}

// runCommand returns when the command exits or ctx is cancelled
func (f *Forwarder) runCommand(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.config.Command, f.config.Args...)
	cmd.Stderr = &stderrLogger{logger: f.logger, command: f.config.Command}
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	f.commandRunning.Store(true)
	defer f.commandRunning.Store(false)

	f.logger.Debug("msg", "Command started",
		"component", "forwarder",
		"command", f.config.Command,
		"pid", cmd.Process.Pid)

	readErr := f.readLines(ctx, stdout)
	waitErr := cmd.Wait()

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return readErr
	}
	return waitErr
}

func (f *Forwarder) readLines(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var line []byte

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read command output: %w", err)
		}

		if len(line)+len(chunk) <= maxLineLength {
			line = append(line, chunk...)
		} else {
			line = line[:maxLineLength+1]
		}
		if isPrefix {
			continue
		}

		f.totalLines.Add(1)
		trimmed := bytes.TrimSpace(line)
		switch {
		case len(trimmed) == 0:
		case len(line) > maxLineLength:
			f.skippedLines.Add(1)
			f.logger.Warn("msg", "Dropping oversized line",
				"component", "forwarder",
				"limit", maxLineLength)
		default:
			entry := NewEntry(trimmed, f.config.SenderName, f.now())
			select {
			case f.entries <- entry:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		line = line[:0]
	}
}

// batchLoop sends when the batch fills or the delay elapses. After stop
// closes, whatever is still queued goes out as one final batch.
func (f *Forwarder) batchLoop(ctx context.Context, stop <-chan struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(time.Duration(f.config.BatchDelayMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]core.LogEntry, 0, f.config.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		f.sendBatch(ctx, batch)
		batch = make([]core.LogEntry, 0, f.config.BatchSize)
	}

	for {
		select {
		case entry := <-f.entries:
			batch = append(batch, entry)
			if int64(len(batch)) >= f.config.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)

		case <-stop:
		drain:
			for {
				select {
				case entry := <-f.entries:
					batch = append(batch, entry)
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.Background(), time.Duration(f.config.TimeoutSeconds)*time.Second)
			flush(final)
			cancel()
			return
		}
	}
}

// sendBatch POSTs a JSON array with retry and exponential backoff.
// 4xx responses are final.
func (f *Forwarder) sendBatch(ctx context.Context, batch []core.LogEntry) bool {
	f.totalBatches.Add(1)
	f.lastBatchSent.Store(time.Now())

	body, err := encodeBatch(batch)
	if err != nil {
		f.logger.Error("msg", "Failed to encode batch",
			"component", "forwarder",
			"batch_size", len(batch),
			"error", err)
		f.failedBatches.Add(1)
		return false
	}

	timeout := time.Duration(f.config.TimeoutSeconds) * time.Second
	retryDelay := time.Duration(f.config.RetryDelayMs) * time.Millisecond
	var lastErr error

	for attempt := int64(0); attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				f.logger.Error("msg", "Batch abandoned on shutdown",
					"component", "forwarder",
					"batch_size", len(batch),
					"last_error", lastErr)
				f.failedBatches.Add(1)
				return false
			case <-timer.C:
			}

			newDelay := time.Duration(float64(retryDelay) * f.config.RetryBackoff)
			if newDelay > timeout || newDelay < retryDelay {
				retryDelay = timeout
			} else {
				retryDelay = newDelay
			}
		}

		statusCode, responseBody, err := f.post(body, timeout)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			f.logger.Warn("msg", "HTTP request failed",
				"component", "forwarder",
				"attempt", attempt+1,
				"max_retries", f.config.MaxRetries,
				"error", err)
			continue
		}

		if statusCode >= 200 && statusCode < 300 {
			f.sentEntries.Add(uint64(len(batch)))
			f.logger.Debug("msg", "Batch sent successfully",
				"component", "forwarder",
				"batch_size", len(batch),
				"status_code", statusCode,
				"attempt", attempt+1)
			return true
		}

		lastErr = fmt.Errorf("server returned status %d: %s", statusCode, responseBody)

		if statusCode >= 400 && statusCode < 500 {
			f.logger.Error("msg", "Batch rejected by server",
				"component", "forwarder",
				"status_code", statusCode,
				"response", string(responseBody),
				"batch_size", len(batch))
			f.failedBatches.Add(1)
			return false
		}

		f.logger.Warn("msg", "Server returned error status",
			"component", "forwarder",
			"attempt", attempt+1,
			"status_code", statusCode,
			"response", string(responseBody))
	}

	f.logger.Error("msg", "Failed to send batch after all retries",
		"component", "forwarder",
		"batch_size", len(batch),
		"retries", f.config.MaxRetries,
		"last_error", lastErr)
	f.failedBatches.Add(1)
	return false
}

func (f *Forwarder) post(body []byte, timeout time.Duration) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(f.config.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if f.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.config.Token)
	}
	req.SetBody(body)

	if err := f.client.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, err
	}

	var responseBody []byte
	if len(resp.Body()) > 0 {
		responseBody = append([]byte(nil), resp.Body()...)
	}
	return resp.StatusCode(), responseBody, nil
}

// stderrLogger surfaces command diagnostics in the forwarder log
type stderrLogger struct {
	logger  *log.Logger
	command string
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	if msg := bytes.TrimSpace(p); len(msg) > 0 {
		w.logger.Warn("msg", "Command stderr",
			"component", "forwarder",
			"command", w.command,
			"output", string(msg))
	}
	return len(p), nil
}
