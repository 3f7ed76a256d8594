// FILE: src/internal/journal/journal.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"towl/src/internal/core"
	"towl/src/internal/counter"
	"towl/src/internal/hub"
	"towl/src/internal/towlfile"

	"github.com/lixenwraith/log"
)

var (
	// Journal is not in the active state
	ErrNotActive = errors.New("journal is not accepting entries")

	ErrArchiveNotFound = errors.New("archive not found")
)

// Lifecycle state of a journal
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateRotating
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateRotating:
		return "rotating"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a journal. Zero values fall back to defaults.
type Options struct {
	Org   string
	Title string

	Rotation     Rotation
	WeeklyAnchor time.Weekday
	Location     *time.Location

	DataDir     string
	ArchiveDir  string
	CounterPath string

	BufferSize int
	Sync       towlfile.SyncMode

	// Rotation only happens through explicit Archive calls
	DisableScheduler bool

	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Org == "" {
		o.Org = core.DefaultOrg
	}
	if o.Title == "" {
		o.Title = core.DefaultTitle
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.DataDir == "" {
		o.DataDir = core.DefaultDataDir
	}
	if o.ArchiveDir == "" {
		o.ArchiveDir = core.DefaultArchiveDir
	}
	if o.CounterPath == "" {
		o.CounterPath = core.DefaultCounterPath
	}
	if o.BufferSize <= 0 {
		o.BufferSize = core.DefaultHubBuffer
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Journal owns the working towl file, rotates it into the archive and
// republishes every appended entry to live watchers.
type Journal struct {
	opts    Options
	logger  *log.Logger
	counter *counter.Store
	hub     *hub.Hub

	// Serializes appends, rotation and working file ownership
	mu      sync.Mutex
	working *towlfile.LogFile
	state   atomic.Int32

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	// Statistics
	totalEntries    atomic.Uint64
	failedEntries   atomic.Uint64
	rotations       atomic.Uint64
	failedRotations atomic.Uint64
	lastEntryTime   atomic.Value // time.Time
	lastRotation    atomic.Value // time.Time
}

// Open initializes the journal: directories, counter, working file, hub and
// the rotation scheduler. The scheduler stops when ctx is cancelled or on Close.
func Open(ctx context.Context, opts Options, logger *log.Logger) (*Journal, error) {
	opts.applyDefaults()

	j := &Journal{
		opts:      opts,
		logger:    logger,
		counter:   counter.New(opts.CounterPath),
		hub:       hub.New(opts.BufferSize, logger),
		startTime: opts.Now(),
	}
	j.setState(StateInitializing)
	j.lastEntryTime.Store(time.Time{})
	j.lastRotation.Store(time.Time{})

	for _, dir := range []string{opts.DataDir, opts.ArchiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := j.openWorking(); err != nil {
		return nil, err
	}
	j.warnOrphans()

	schedCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	if !opts.DisableScheduler {
		j.wg.Add(1)
		go j.rotationLoop(schedCtx)
	}

	j.setState(StateActive)

	header := j.working.Header()
	logger.Info("msg", "Journal opened",
		"component", "journal",
		"org", header.Org,
		"title", header.Title,
		"id", header.ID,
		"entries", j.working.Index().Count,
		"rotation", opts.Rotation.String(),
		"data_dir", opts.DataDir,
		"archive_dir", opts.ArchiveDir)

	return j, nil
}

// AddEntry appends entry to the working file and, once durable, publishes it.
func (j *Journal) AddEntry(entry core.LogEntry) error {
	if entry.Time.IsZero() {
		entry.Time = j.opts.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if s := j.State(); s != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, s)
	}

	if j.working == nil {
		if err := j.openWorking(); err != nil {
			j.failedEntries.Add(1)
			return fmt.Errorf("no working file: %w", err)
		}
	}

	if err := j.working.Append(entry); err != nil {
		j.failedEntries.Add(1)
		return err
	}

	j.totalEntries.Add(1)
	j.lastEntryTime.Store(entry.Time)

	// Published under the lock so watchers see file order
	j.hub.Publish(entry)
	return nil
}

// Archive moves the working file into the archive directory, advances the
// sequence counter and opens a fresh working file. Returns the archive path.
// On failure the previous working file stays in service.
func (j *Journal) Archive() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if s := j.State(); s != StateActive {
		return "", fmt.Errorf("%w: %s", ErrNotActive, s)
	}
	j.setState(StateRotating)
	defer j.setState(StateActive)

	target, err := j.archiveLocked()
	if err != nil {
		j.failedRotations.Add(1)
		j.restoreLocked()
		return "", err
	}

	j.rotations.Add(1)
	j.lastRotation.Store(j.opts.Now())

	if err := j.openWorking(); err != nil {
		return target, fmt.Errorf("archived to %s but failed to open new working file: %w", target, err)
	}

	j.logger.Info("msg", "Working file archived",
		"component", "journal",
		"archive", target,
		"new_id", j.working.Header().ID)
	return target, nil
}

// Watch registers a live subscriber. Entries already on disk are not replayed.
func (j *Journal) Watch() (*hub.Subscription, error) {
	return j.hub.Subscribe()
}

// Stream calls fn for each entry in the working file newer than after.
func (j *Journal) Stream(ctx context.Context, after time.Time, fn func(core.LogEntry) error) error {
	for attempt := 0; ; attempt++ {
		j.mu.Lock()
		lf := j.working
		j.mu.Unlock()

		if lf == nil {
			return fmt.Errorf("%w: no working file", ErrNotActive)
		}

		err := lf.Stream(ctx, after, fn)
		// Rotation closed the file between lookup and scan
		if errors.Is(err, towlfile.ErrClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

// Returns the current lifecycle state
func (j *Journal) State() State {
	return State(j.state.Load())
}

// Working returns header and index of the working file, if there is one
func (j *Journal) Working() (towlfile.Header, towlfile.Index, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.working == nil {
		return towlfile.Header{}, towlfile.Index{}, false
	}
	return j.working.Header(), j.working.Index(), true
}

// Returns journal statistics
func (j *Journal) Stats() map[string]any {
	lastEntry, _ := j.lastEntryTime.Load().(time.Time)
	lastRotation, _ := j.lastRotation.Load().(time.Time)

	working := map[string]any{"open": false}
	if h, idx, ok := j.Working(); ok {
		working = map[string]any{
			"open":    true,
			"id":      h.ID,
			"org":     h.Org,
			"title":   h.Title,
			"count":   idx.Count,
			"opened":  idx.Opened,
			"first":   idx.First,
			"last":    idx.Last,
			"version": h.Version,
		}
	}

	return map[string]any{
		"state":            j.State().String(),
		"rotation":         j.opts.Rotation.String(),
		"uptime_seconds":   int(j.opts.Now().Sub(j.startTime).Seconds()),
		"total_entries":    j.totalEntries.Load(),
		"failed_entries":   j.failedEntries.Load(),
		"rotations":        j.rotations.Load(),
		"failed_rotations": j.failedRotations.Load(),
		"last_entry_time":  lastEntry,
		"last_rotation":    lastRotation,
		"working":          working,
		"hub":              j.hub.Stats(),
	}
}

// Close stops the scheduler, closes the working file and ends all watches.
func (j *Journal) Close() error {
	j.mu.Lock()
	if s := j.State(); s == StateShuttingDown || s == StateClosed {
		j.mu.Unlock()
		return nil
	}
	j.setState(StateShuttingDown)
	j.mu.Unlock()

	j.cancel()
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	var err error
	if j.working != nil {
		err = j.working.Close()
		j.working = nil
	}
	j.hub.Close()
	j.setState(StateClosed)

	j.logger.Info("msg", "Journal closed",
		"component", "journal",
		"total_entries", j.totalEntries.Load(),
		"rotations", j.rotations.Load())
	return err
}

func (j *Journal) setState(s State) {
	j.state.Store(int32(s))
}

func (j *Journal) fileOptions() []towlfile.Option {
	return []towlfile.Option{
		towlfile.WithSync(j.opts.Sync),
		towlfile.WithClock(j.opts.Now),
	}
}

// Opens the working file for the current counter value, creating it if needed
func (j *Journal) openWorking() error {
	id, err := j.counter.Read()
	if err != nil {
		return fmt.Errorf("failed to read sequence counter: %w", err)
	}

	path := filepath.Join(j.opts.DataDir, towlfile.FileName(id))
	_, statErr := os.Stat(path)

	var lf *towlfile.LogFile
	switch {
	case statErr == nil:
		lf, err = towlfile.Open(path, j.fileOptions()...)
		if errors.Is(err, towlfile.ErrCorrupt) {
			aside := fmt.Sprintf("%s.corrupt-%d", path, j.opts.Now().Unix())
			if rerr := os.Rename(path, aside); rerr != nil {
				return fmt.Errorf("failed to move corrupt working file %s: %w", path, rerr)
			}
			j.logger.Error("msg", "Working file is corrupt, moved aside and starting a new one",
				"component", "journal",
				"path", path,
				"moved_to", aside,
				"error", err)
			lf, err = towlfile.Create(j.opts.DataDir, j.opts.Org, j.opts.Title, id, j.fileOptions()...)
			if err != nil {
				return fmt.Errorf("failed to create working file: %w", err)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("failed to open working file %s: %w", path, err)
		}
		if n := lf.Truncated(); n > 0 {
			j.logger.Warn("msg", "Discarded torn tail of working file",
				"component", "journal",
				"path", path,
				"bytes", n,
				"entries", lf.Index().Count)
		}
		h := lf.Header()
		if h.Org != j.opts.Org || h.Title != j.opts.Title {
			j.logger.Warn("msg", "Working file header differs from configuration, keeping file header",
				"component", "journal",
				"path", path,
				"file_org", h.Org,
				"file_title", h.Title,
				"config_org", j.opts.Org,
				"config_title", j.opts.Title)
		}
		j.logger.Debug("msg", "Working file reopened",
			"component", "journal",
			"path", path,
			"entries", lf.Index().Count)

	case errors.Is(statErr, fs.ErrNotExist):
		lf, err = towlfile.Create(j.opts.DataDir, j.opts.Org, j.opts.Title, id, j.fileOptions()...)
		if err != nil {
			return fmt.Errorf("failed to create working file: %w", err)
		}
		j.logger.Debug("msg", "Working file created",
			"component", "journal",
			"path", lf.Path(),
			"id", id)

	default:
		return fmt.Errorf("failed to stat working file: %w", statErr)
	}

	j.working = lf
	return nil
}

// Closes the working file and moves it into the archive directory
func (j *Journal) archiveLocked() (string, error) {
	if j.working == nil {
		return "", fmt.Errorf("%w: no working file to archive", ErrNotActive)
	}

	header := j.working.Header()
	src := j.working.Path()
	target := filepath.Join(j.opts.ArchiveDir, ArchiveName(header, j.opts.Now().In(j.opts.Location)))

	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s", towlfile.ErrAlreadyExists, target)
	}

	if err := j.working.Close(); err != nil {
		// Data stays recoverable through reindex, the closed stamp is best effort
		j.logger.Warn("msg", "Failed to close working file cleanly before archiving",
			"component", "journal",
			"path", src,
			"error", err)
	}
	j.working = nil

	moved := false
	if _, err := os.Stat(src); err == nil {
		if err := os.Rename(src, target); err != nil {
			return "", fmt.Errorf("failed to move working file to archive: %w", err)
		}
		moved = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to stat working file: %w", err)
	}

	if _, err := j.counter.Increment(); err != nil {
		if moved {
			if rerr := os.Rename(target, src); rerr != nil {
				j.logger.Error("msg", "Failed to roll back archive move",
					"component", "journal",
					"archive", target,
					"error", rerr)
			}
		}
		return "", fmt.Errorf("failed to increment sequence counter: %w", err)
	}

	return target, nil
}

// Puts a working file back in service after a failed archive
func (j *Journal) restoreLocked() {
	if j.working != nil {
		return
	}
	if err := j.openWorking(); err != nil {
		j.logger.Error("msg", "Failed to restore working file after archive failure",
			"component", "journal",
			"error", err)
	}
}

// Logs towl files in the data directory that are not the working file
func (j *Journal) warnOrphans() {
	entries, err := os.ReadDir(j.opts.DataDir)
	if err != nil {
		return
	}
	current := filepath.Base(j.working.Path())
	for _, e := range entries {
		if e.IsDir() || e.Name() == current || !strings.HasSuffix(e.Name(), "."+towlfile.Extension) {
			continue
		}
		j.logger.Warn("msg", "Ignoring towl file in data directory that is not the working file",
			"component", "journal",
			"file", e.Name())
	}
}
