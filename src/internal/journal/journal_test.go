// FILE: src/internal/journal/journal_test.go
package journal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"towl/src/internal/core"
	"towl/src/internal/counter"
	"towl/src/internal/hub"
	"towl/src/internal/towlfile"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func testOptions(t *testing.T, clock *testClock) Options {
	t.Helper()
	root := t.TempDir()
	return Options{
		Org:              "gz",
		Title:            "log",
		Location:         time.UTC,
		DataDir:          filepath.Join(root, "working"),
		ArchiveDir:       filepath.Join(root, "archive"),
		CounterPath:      filepath.Join(root, "internal_data.db"),
		BufferSize:       8,
		DisableScheduler: true,
		Now:              clock.Now,
	}
}

func openTestJournal(t *testing.T, opts Options) *Journal {
	t.Helper()
	j, err := Open(context.Background(), opts, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
}

func TestOpenCreatesWorkingFile(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)
	j := openTestJournal(t, opts)

	assert.Equal(t, StateActive, j.State())

	h, idx, ok := j.Working()
	require.True(t, ok)
	assert.Equal(t, "gz", h.Org)
	assert.Equal(t, "log", h.Title)
	assert.Equal(t, counter.Initial, h.ID)
	assert.Equal(t, uint64(0), idx.Count)
	assert.FileExists(t, filepath.Join(opts.DataDir, "1.towl"))
	assert.DirExists(t, opts.ArchiveDir)
	assert.FileExists(t, opts.CounterPath)
}

func TestOpenDefaults(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)
	opts.Org = ""
	opts.Title = ""
	j := openTestJournal(t, opts)

	h, _, ok := j.Working()
	require.True(t, ok)
	assert.Equal(t, core.DefaultOrg, h.Org)
	assert.Equal(t, core.DefaultTitle, h.Title)
}

func TestOpenReopensExistingWorkingFile(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)

	j, err := Open(context.Background(), opts, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, j.AddEntry(core.LogEntry{Source: "a", Time: clock.Advance(time.Second), Payload: "1"}))
	require.NoError(t, j.AddEntry(core.LogEntry{Source: "a", Time: clock.Advance(time.Second), Payload: "2"}))
	require.NoError(t, j.Close())

	j2 := openTestJournal(t, opts)
	h, idx, ok := j2.Working()
	require.True(t, ok)
	assert.Equal(t, uint64(1), h.ID)
	assert.Equal(t, uint64(2), idx.Count)
}

func TestAddEntryPublishesToWatchers(t *testing.T) {
	clock := newClock()
	j := openTestJournal(t, testOptions(t, clock))

	sub, err := j.Watch()
	require.NoError(t, err)

	e := core.LogEntry{ID: "x", Source: "src", Time: clock.Advance(time.Second), Payload: "hello"}
	require.NoError(t, j.AddEntry(e))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, e.ID, got.ID)

	_, idx, _ := j.Working()
	assert.Equal(t, uint64(1), idx.Count)
}

func TestAddEntryDefaultsTime(t *testing.T) {
	clock := newClock()
	j := openTestJournal(t, testOptions(t, clock))

	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Payload: "p"}))

	_, idx, _ := j.Working()
	require.NotNil(t, idx.Last)
	assert.True(t, clock.Now().Equal(*idx.Last))
}

func TestStream(t *testing.T) {
	clock := newClock()
	j := openTestJournal(t, testOptions(t, clock))

	var times []time.Time
	for i := 0; i < 5; i++ {
		ts := clock.Advance(time.Minute)
		times = append(times, ts)
		require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: ts, Payload: "p"}))
	}

	var got []core.LogEntry
	require.NoError(t, j.Stream(context.Background(), times[1], func(e core.LogEntry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 3)
	assert.True(t, times[2].Equal(got[0].Time))
}

func TestArchiveRotatesWorkingFile(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)
	j := openTestJournal(t, opts)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))
	}

	path, err := j.Archive()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.ArchiveDir, "gz_log_2024_03_05_1.towl"), path)
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(opts.DataDir, "1.towl"))
	assert.FileExists(t, filepath.Join(opts.DataDir, "2.towl"))

	h, idx, ok := j.Working()
	require.True(t, ok)
	assert.Equal(t, uint64(2), h.ID)
	assert.Equal(t, uint64(0), idx.Count)
	assert.Equal(t, StateActive, j.State())

	id, err := counter.New(opts.CounterPath).Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	ah, aidx, err := towlfile.Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ah.ID)
	assert.Equal(t, uint64(3), aidx.Count)
	assert.NotNil(t, aidx.Closed)

	archives, err := j.Archives()
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "gz_log_2024_03_05_1.towl", archives[0].Name)
	assert.Equal(t, uint64(3), archives[0].Index.Count)

	var n int
	require.NoError(t, j.StreamArchive(context.Background(), archives[0].Name, time.Time{}, func(core.LogEntry) error {
		n++
		return nil
	}))
	assert.Equal(t, 3, n)

	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "after"}))
	_, idx, _ = j.Working()
	assert.Equal(t, uint64(1), idx.Count)
}

func TestArchiveCollisionKeepsWorkingFile(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)
	j := openTestJournal(t, opts)

	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))

	blocker := filepath.Join(opts.ArchiveDir, "gz_log_2024_03_05_1.towl")
	require.NoError(t, os.WriteFile(blocker, []byte("occupied"), 0o644))

	_, err := j.Archive()
	require.ErrorIs(t, err, towlfile.ErrAlreadyExists)

	content, err := os.ReadFile(blocker)
	require.NoError(t, err)
	assert.Equal(t, "occupied", string(content))

	h, idx, ok := j.Working()
	require.True(t, ok)
	assert.Equal(t, uint64(1), h.ID)
	assert.Equal(t, uint64(1), idx.Count)
	assert.Equal(t, StateActive, j.State())
	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))

	assert.Equal(t, uint64(1), j.Stats()["failed_rotations"])
}

func TestStreamSinkDoesNotBlockAddEntry(t *testing.T) {
	clock := newClock()
	j := openTestJournal(t, testOptions(t, clock))

	for i := 0; i < 2; i++ {
		require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		first := true
		done <- j.Stream(context.Background(), time.Time{}, func(core.LogEntry) error {
			if first {
				first = false
				close(started)
				<-release
			}
			return nil
		})
	}()
	<-started

	added := make(chan error, 1)
	go func() {
		added <- j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "during"})
	}()
	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(release)
		t.Fatal("AddEntry blocked behind a slow stream consumer")
	}

	_, err := j.Archive()
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestAddEntryFailureIsNotPublished(t *testing.T) {
	clock := newClock()
	j := openTestJournal(t, testOptions(t, clock))

	sub, err := j.Watch()
	require.NoError(t, err)

	// Working file closed underneath the journal
	require.NoError(t, j.working.Close())

	err = j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "lost"})
	require.ErrorIs(t, err, towlfile.ErrClosed)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stats := j.Stats()
	assert.Equal(t, uint64(1), stats["failed_entries"])
	assert.Equal(t, uint64(0), stats["total_entries"])
}

func TestArchiveRollsBackOnCounterFailure(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)
	j := openTestJournal(t, opts)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))
	}

	// A directory where the counter record should be makes Increment fail
	require.NoError(t, os.Remove(opts.CounterPath))
	require.NoError(t, os.Mkdir(opts.CounterPath, 0o755))

	_, err := j.Archive()
	require.ErrorContains(t, err, "sequence counter")
	assert.Equal(t, uint64(1), j.Stats()["failed_rotations"])
	assert.Equal(t, StateActive, j.State())

	assert.NoFileExists(t, filepath.Join(opts.ArchiveDir, "gz_log_2024_03_05_1.towl"))
	working := filepath.Join(opts.DataDir, "1.towl")
	require.FileExists(t, working)
	h, idx, err := towlfile.Inspect(working)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.ID)
	assert.Equal(t, uint64(3), idx.Count)

	require.NoError(t, os.Remove(opts.CounterPath))
	id, err := counter.New(opts.CounterPath).Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))
	h, idx, ok := j.Working()
	require.True(t, ok)
	assert.Equal(t, uint64(1), h.ID)
	assert.Equal(t, uint64(4), idx.Count)
}

func TestOpenDiscardsTornTail(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)

	j, err := Open(context.Background(), opts, newTestLogger())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))
	}
	require.NoError(t, j.Close())

	path := filepath.Join(opts.DataDir, "1.towl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	partial := towlfile.AppendEntry(nil, core.LogEntry{Source: "s", Time: clock.Now(), Payload: "torn"})
	_, err = f.Write(partial[:len(partial)/2])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2 := openTestJournal(t, opts)
	_, idx, ok := j2.Working()
	require.True(t, ok)
	assert.Equal(t, uint64(2), idx.Count)
}

func TestOpenMovesCorruptWorkingFileAside(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)

	j, err := Open(context.Background(), opts, newTestLogger())
	require.NoError(t, err)
	first := core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}
	require.NoError(t, j.AddEntry(first))
	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Advance(time.Second), Payload: "p"}))
	require.NoError(t, j.Close())

	path := filepath.Join(opts.DataDir, "1.towl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Last byte of the first record's checksum
	data[towlfile.EntryStart+len(towlfile.AppendEntry(nil, first))-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	j2 := openTestJournal(t, opts)
	h, idx, ok := j2.Working()
	require.True(t, ok)
	assert.Equal(t, uint64(1), h.ID)
	assert.Equal(t, uint64(0), idx.Count)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, aside, 1)
	moved, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, data, moved)
}

func TestArchivesSkipsForeignFiles(t *testing.T) {
	clock := newClock()
	opts := testOptions(t, clock)
	j := openTestJournal(t, opts)

	require.NoError(t, os.WriteFile(filepath.Join(opts.ArchiveDir, "junk.towl"), []byte("not a towl file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(opts.ArchiveDir, "notes.txt"), []byte("x"), 0o644))

	archives, err := j.Archives()
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestStreamArchiveRejectsBadNames(t *testing.T) {
	clock := newClock()
	j := openTestJournal(t, testOptions(t, clock))

	noop := func(core.LogEntry) error { return nil }
	for _, name := range []string{"", "../1.towl", "missing.towl", "file.txt", "a/b.towl"} {
		err := j.StreamArchive(context.Background(), name, time.Time{}, noop)
		assert.ErrorIs(t, err, ErrArchiveNotFound, name)
	}
}

func TestClosedJournalRejectsOperations(t *testing.T) {
	clock := newClock()
	j, err := Open(context.Background(), testOptions(t, clock), newTestLogger())
	require.NoError(t, err)

	sub, err := j.Watch()
	require.NoError(t, err)

	require.NoError(t, j.Close())
	assert.Equal(t, StateClosed, j.State())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.AddEntry(core.LogEntry{Source: "s", Payload: "p"}), ErrNotActive)
	_, err = j.Archive()
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = j.Watch()
	assert.ErrorIs(t, err, hub.ErrClosed)

	_, err = sub.Recv(context.Background())
	assert.Error(t, err)

	_, _, ok := j.Working()
	assert.False(t, ok)
}

func TestSchedulerRotatesAtBoundary(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 3, 5, 23, 59, 58, 900_000_000, time.UTC)}
	opts := testOptions(t, clock)
	opts.DisableScheduler = false

	j := openTestJournal(t, opts)
	require.NoError(t, j.AddEntry(core.LogEntry{Source: "s", Time: clock.Now(), Payload: "p"}))

	require.Eventually(t, func() bool {
		archives, err := j.Archives()
		return err == nil && len(archives) > 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, j.Close())
	assert.FileExists(t, filepath.Join(opts.ArchiveDir, "gz_log_2024_03_05_1.towl"))
}
