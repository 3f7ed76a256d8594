// FILE: src/internal/towlfile/file_test.go
package towlfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"towl/src/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testEntries(n int) []core.LogEntry {
	entries := make([]core.LogEntry, n)
	for i := range entries {
		entries[i] = core.LogEntry{
			ID:      fmt.Sprintf("id-%d", i),
			Source:  "test",
			Time:    baseTime.Add(time.Duration(i) * time.Second),
			Payload: fmt.Sprintf(`{"n":%d}`, i),
		}
	}
	return entries
}

func collect(t *testing.T, lf *LogFile, after time.Time) []core.LogEntry {
	t.Helper()
	var out []core.LogEntry
	require.NoError(t, lf.Stream(context.Background(), after, func(e core.LogEntry) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	lf, err := Create(dir, "gz", "log", 0)
	require.NoError(t, err)
	defer lf.Close()

	assert.Equal(t, filepath.Join(dir, "0.towl"), lf.Path())

	h := lf.Header()
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, FormatVersion, h.Version)
	assert.Equal(t, "gz", h.Org)
	assert.Equal(t, "log", h.Title)
	assert.Equal(t, uint64(0), h.ID)

	idx := lf.Index()
	assert.Zero(t, idx.Count)
	assert.Nil(t, idx.First)
	assert.Nil(t, idx.Last)
	assert.Nil(t, idx.Closed)
	assert.False(t, idx.Opened.IsZero())

	info, err := os.Stat(lf.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(EntryStart), info.Size())
	assert.True(t, HasMagic(lf.Path()))
}

func TestCreateExisting(t *testing.T) {
	dir := t.TempDir()

	lf, err := Create(dir, "org", "title", 5)
	require.NoError(t, err)
	require.NoError(t, lf.Close())

	_, err = Create(dir, "org", "title", 5)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateHeaderTooLarge(t *testing.T) {
	long := make([]byte, 1100)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Create(t.TempDir(), string(long), "title", 1)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestOpenForeignFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("WrongMagic", func(t *testing.T) {
		path := filepath.Join(dir, "foreign.towl")
		require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

		lf, err := Open(path)
		assert.ErrorIs(t, err, ErrNotATowlFile)
		assert.Nil(t, lf)
		assert.False(t, HasMagic(path))
	})

	t.Run("Empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty.towl")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		_, err := Open(path)
		assert.ErrorIs(t, err, ErrNotATowlFile)
	})

	t.Run("CorruptedMagic", func(t *testing.T) {
		lf, err := Create(dir, "org", "title", 9)
		require.NoError(t, err)
		require.NoError(t, lf.Close())

		f, err := os.OpenFile(lf.Path(), os.O_RDWR, 0)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("X"), 3)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = Open(lf.Path())
		assert.ErrorIs(t, err, ErrNotATowlFile)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "missing.towl"))
		assert.True(t, errors.Is(err, os.ErrNotExist))
		assert.False(t, HasMagic(filepath.Join(dir, "missing.towl")))
	})
}

func TestAppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	entries := testEntries(3)

	lf, err := Create(dir, "gz", "log", 0)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, lf.Append(e))
	}
	require.NoError(t, lf.Close())

	reopened, err := Open(filepath.Join(dir, "0.towl"))
	require.NoError(t, err)
	defer reopened.Close()

	idx := reopened.Index()
	assert.Equal(t, uint64(3), idx.Count)
	require.NotNil(t, idx.First)
	require.NotNil(t, idx.Last)
	assert.True(t, entries[0].Time.Equal(*idx.First))
	assert.True(t, entries[2].Time.Equal(*idx.Last))
	assert.NotNil(t, idx.Closed, "closed stamp survives reindex")
}

func TestIndexInvariants(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 1)
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.Append(testEntries(1)[0]))
	idx := lf.Index()
	assert.Equal(t, uint64(1), idx.Count)
	require.NotNil(t, idx.First)
	require.NotNil(t, idx.Last)
	assert.True(t, idx.First.Equal(*idx.Last))
}

func TestIndexOutOfOrderTimes(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 1)
	require.NoError(t, err)

	entries := testEntries(3)
	entries[1].Time = baseTime.Add(-time.Hour)
	for _, e := range entries {
		require.NoError(t, lf.Append(e))
	}

	check := func(idx Index) {
		t.Helper()
		assert.Equal(t, uint64(3), idx.Count)
		require.NotNil(t, idx.First)
		require.NotNil(t, idx.Last)
		assert.True(t, baseTime.Add(-time.Hour).Equal(*idx.First))
		assert.True(t, baseTime.Add(2*time.Second).Equal(*idx.Last))
		assert.False(t, idx.Last.Before(*idx.First))
	}
	check(lf.Index())
	require.NoError(t, lf.Close())

	reopened, err := Open(lf.Path())
	require.NoError(t, err)
	defer reopened.Close()
	check(reopened.Index())

	// File order is kept on read
	got := collect(t, reopened, time.Time{})
	require.Len(t, got, 3)
	assert.Equal(t, entries[1].ID, got[1].ID)
}

func TestAppendAfterClose(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 1)
	require.NoError(t, err)
	require.NoError(t, lf.Close())

	assert.ErrorIs(t, lf.Append(testEntries(1)[0]), ErrClosed)
	assert.ErrorIs(t, lf.Close(), ErrClosed)
}

func TestStream(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 1)
	require.NoError(t, err)
	defer lf.Close()

	entries := testEntries(10)
	for _, e := range entries {
		require.NoError(t, lf.Append(e))
	}

	t.Run("AfterEach", func(t *testing.T) {
		for k := range entries {
			got := collect(t, lf, entries[k].Time)
			require.Len(t, got, len(entries)-k-1)
			for i, e := range got {
				assert.Equal(t, entries[k+1+i].ID, e.ID)
			}
		}
	})

	t.Run("BeforeAll", func(t *testing.T) {
		assert.Len(t, collect(t, lf, time.Time{}), len(entries))
	})

	t.Run("AfterAll", func(t *testing.T) {
		assert.Empty(t, collect(t, lf, entries[9].Time.Add(time.Hour)))
	})

	t.Run("SinkStops", func(t *testing.T) {
		stop := errors.New("stop")
		seen := 0
		err := lf.Stream(context.Background(), time.Time{}, func(core.LogEntry) error {
			seen++
			if seen == 3 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 3, seen)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := lf.Stream(ctx, time.Time{}, func(core.LogEntry) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReindexRecoversStaleIndex(t *testing.T) {
	dir := t.TempDir()
	lf, err := Create(dir, "org", "title", 2)
	require.NoError(t, err)

	stale := lf.Index()
	for _, e := range testEntries(4) {
		require.NoError(t, lf.Append(e))
	}

	// Entry bytes are on disk but the persisted index predates them
	require.NoError(t, writeIndex(lf.file, stale))
	require.NoError(t, lf.file.Close())

	reopened, err := Open(lf.Path())
	require.NoError(t, err)
	defer reopened.Close()

	idx := reopened.Index()
	assert.Equal(t, uint64(4), idx.Count)
	assert.True(t, baseTime.Equal(*idx.First))
	assert.True(t, baseTime.Add(3*time.Second).Equal(*idx.Last))
}

func TestReindexTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	lf, err := Create(dir, "org", "title", 3)
	require.NoError(t, err)

	entries := testEntries(3)
	require.NoError(t, lf.Append(entries[0]))
	require.NoError(t, lf.Append(entries[1]))
	goodSize := lf.Size()
	require.NoError(t, lf.Close())

	// Half of a third record, as left by a crash mid-write
	partial := AppendEntry(nil, entries[2])
	f, err := os.OpenFile(lf.Path(), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(partial[:len(partial)/2], goodSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(lf.Path())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.Index().Count)
	assert.Equal(t, goodSize, reopened.Size())
	assert.Equal(t, int64(len(partial)/2), reopened.Truncated())

	require.NoError(t, reopened.Append(entries[2]))
	got := collect(t, reopened, time.Time{})
	require.Len(t, got, 3)
	assert.Equal(t, entries[2].ID, got[2].ID)
}

func TestReindexZeroFilledTail(t *testing.T) {
	dir := t.TempDir()
	lf, err := Create(dir, "org", "title", 3)
	require.NoError(t, err)
	for _, e := range testEntries(2) {
		require.NoError(t, lf.Append(e))
	}
	goodSize := lf.Size()
	require.NoError(t, lf.Close())

	require.NoError(t, os.Truncate(lf.Path(), goodSize+512))

	reopened, err := Open(lf.Path())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.Index().Count)
	assert.Equal(t, int64(512), reopened.Truncated())
	info, err := os.Stat(lf.Path())
	require.NoError(t, err)
	assert.Equal(t, goodSize, info.Size())
}

func TestOpenRefusesMidFileCorruption(t *testing.T) {
	dir := t.TempDir()
	lf, err := Create(dir, "org", "title", 3)
	require.NoError(t, err)

	entries := testEntries(3)
	require.NoError(t, lf.Append(entries[0]))
	secondAt := lf.Size()
	require.NoError(t, lf.Append(entries[1]))
	require.NoError(t, lf.Append(entries[2]))
	require.NoError(t, lf.Close())

	before, err := os.ReadFile(lf.Path())
	require.NoError(t, err)

	// Corrupt the checksum of the middle record
	second := AppendEntry(nil, entries[1])
	corrupted := append([]byte(nil), before...)
	corrupted[secondAt+int64(len(second))-1] ^= 0xff
	require.NoError(t, os.WriteFile(lf.Path(), corrupted, 0o644))

	_, err = Open(lf.Path())
	require.ErrorIs(t, err, ErrCorrupt)

	after, err := os.ReadFile(lf.Path())
	require.NoError(t, err)
	assert.Equal(t, corrupted, after, "corrupt file must not be truncated")

	// Readers still see the records before the damage
	var got []core.LogEntry
	require.NoError(t, Scan(context.Background(), lf.Path(), time.Time{}, func(e core.LogEntry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, entries[0].ID, got[0].ID)
}

func TestStreamDoesNotBlockAppend(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 5)
	require.NoError(t, err)
	defer lf.Close()

	entries := testEntries(4)
	require.NoError(t, lf.Append(entries[0]))
	require.NoError(t, lf.Append(entries[1]))

	started := make(chan struct{})
	release := make(chan struct{})
	var seen []core.LogEntry
	done := make(chan error, 1)
	go func() {
		done <- lf.Stream(context.Background(), time.Time{}, func(e core.LogEntry) error {
			seen = append(seen, e)
			if len(seen) == 1 {
				close(started)
				<-release
			}
			return nil
		})
	}()
	<-started

	appended := make(chan error, 1)
	go func() { appended <- lf.Append(entries[2]) }()
	select {
	case err := <-appended:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(release)
		t.Fatal("append blocked behind a stream sink")
	}
	assert.Equal(t, uint64(3), lf.Index().Count)

	close(release)
	require.NoError(t, <-done)
	// Entries appended during the stream are not visited
	assert.Len(t, seen, 2)
}

func TestConcurrentAppends(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 4)
	require.NoError(t, err)
	defer lf.Close()

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				e := core.LogEntry{
					ID:      fmt.Sprintf("%d-%d", w, i),
					Source:  fmt.Sprintf("writer-%d", w),
					Time:    baseTime.Add(time.Duration(i) * time.Millisecond),
					Payload: fmt.Sprintf("payload from writer %d number %d", w, i),
				}
				assert.NoError(t, lf.Append(e))
			}
		}(w)
	}
	wg.Wait()

	got := collect(t, lf, time.Time{})
	assert.Len(t, got, writers*perWriter)
	assert.Equal(t, uint64(writers*perWriter), lf.Index().Count)

	// Per-writer order is preserved within the total order
	next := make(map[string]int)
	for _, e := range got {
		var w, i int
		_, err := fmt.Sscanf(e.ID, "%d-%d", &w, &i)
		require.NoError(t, err)
		assert.Equal(t, next[e.Source], i)
		next[e.Source] = i + 1
	}
}

func TestInspectAndScanReadOnly(t *testing.T) {
	dir := t.TempDir()
	lf, err := Create(dir, "org", "title", 6)
	require.NoError(t, err)
	entries := testEntries(5)
	for _, e := range entries {
		require.NoError(t, lf.Append(e))
	}
	require.NoError(t, lf.Close())

	before, err := os.ReadFile(lf.Path())
	require.NoError(t, err)

	h, idx, err := Inspect(lf.Path())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), h.ID)
	assert.Equal(t, uint64(5), idx.Count)
	assert.NotNil(t, idx.Closed)

	var got []core.LogEntry
	require.NoError(t, Scan(context.Background(), lf.Path(), entries[1].Time, func(e core.LogEntry) error {
		got = append(got, e)
		return nil
	}))
	assert.Len(t, got, 3)

	after, err := os.ReadFile(lf.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSyncAlways(t *testing.T) {
	lf, err := Create(t.TempDir(), "org", "title", 7, WithSync(SyncAlways))
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.Append(testEntries(1)[0]))
	assert.Equal(t, uint64(1), lf.Index().Count)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	lf, err := Create(t.TempDir(), "org", "title", 8, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	assert.True(t, fixed.Equal(lf.Index().Opened))
	require.NoError(t, lf.Close())

	_, idx, err := Inspect(lf.Path())
	require.NoError(t, err)
	require.NotNil(t, idx.Closed)
	assert.True(t, fixed.Equal(*idx.Closed))
}

func TestParseSyncMode(t *testing.T) {
	cases := []struct {
		in      string
		want    SyncMode
		wantErr bool
	}{
		{"", SyncNever, false},
		{"never", SyncNever, false},
		{"ALWAYS", SyncAlways, false},
		{"sometimes", SyncNever, true},
	}
	for _, tc := range cases {
		got, err := ParseSyncMode(tc.in)
		if tc.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
