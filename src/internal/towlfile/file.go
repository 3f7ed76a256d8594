// FILE: src/internal/towlfile/file.go
package towlfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"towl/src/internal/core"
)

// Extension of towl files on disk
const Extension = "towl"

// Controls fsync behavior on append
type SyncMode int

const (
	SyncNever SyncMode = iota
	SyncAlways
)

// Parses a sync mode name from configuration
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(s) {
	case "", "never":
		return SyncNever, nil
	case "always":
		return SyncAlways, nil
	default:
		return SyncNever, fmt.Errorf("invalid fsync mode: %s (valid: never, always)", s)
	}
}

func (m SyncMode) String() string {
	if m == SyncAlways {
		return "always"
	}
	return "never"
}

type options struct {
	sync SyncMode
	now  func() time.Time
}

// Option configures a LogFile
type Option func(*options)

// Sets the fsync policy applied after each append
func WithSync(mode SyncMode) Option {
	return func(o *options) { o.sync = mode }
}

// Overrides the clock used for opened and closed stamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LogFile owns one towl file and its in-memory header and index.
// Mutations are serialized by its mutex. Stream reads through its own handle.
type LogFile struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	header Header
	index  Index
	end    int64 // offset just past the last well-formed entry
	opts   options

	// Bytes cut off the tail by the last Reindex
	truncated int64
}

// Returns the file name used for a given id
func FileName(id uint64) string {
	return strconv.FormatUint(id, 10) + "." + Extension
}

// Create makes a new towl file named after id in parentDir, then opens it.
func Create(parentDir, org, title string, id uint64, opts ...Option) (*LogFile, error) {
	o := buildOptions(opts)

	var hb bytes.Buffer
	header := Header{Magic: Magic, Version: FormatVersion, Org: org, Title: title, ID: id}
	if err := EncodeHeader(&hb, header); err != nil {
		return nil, err
	}
	if hb.Len() > IndexStart-HeaderStart {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, hb.Len())
	}

	path := filepath.Join(parentDir, FileName(id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to create towl file: %w", err)
	}

	if err := initialize(f, hb.Bytes(), Index{Opened: o.now().UTC()}); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close new towl file: %w", err)
	}

	return Open(path, opts...)
}

// Pre-extends the file to the entry region and writes header and index
func initialize(f *os.File, header []byte, idx Index) error {
	if err := f.Truncate(EntryStart); err != nil {
		return fmt.Errorf("failed to size towl file: %w", err)
	}
	if _, err := f.WriteAt(header, HeaderStart); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writeIndex(f, idx); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync towl file: %w", err)
	}
	return nil
}

// Open loads an existing towl file and rebuilds its index from the entries.
func Open(path string, opts ...Option) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open towl file: %w", err)
	}

	header, idx, err := readMeta(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	lf := &LogFile{
		path:   path,
		file:   f,
		header: header,
		index:  idx,
		opts:   buildOptions(opts),
	}

	if err := lf.Reindex(); err != nil {
		f.Close()
		return nil, err
	}
	return lf, nil
}

// HasMagic reports whether path starts with the towl magic sentinel.
func HasMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [9]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic == Magic
}

// Append writes one entry at the end of the entry region and persists the index.
func (lf *LogFile) Append(entry core.LogEntry) error {
	buf := AppendEntry(nil, entry)
	if len(buf)-8 > MaxFieldSize {
		return fmt.Errorf("entry of %d bytes exceeds limit of %d", len(buf)-8, MaxFieldSize)
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.file == nil {
		return ErrClosed
	}

	if _, err := lf.file.WriteAt(buf, lf.end); err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	lf.end += int64(len(buf))
	lf.index.fold(entry)

	if err := writeIndex(lf.file, lf.index); err != nil {
		return err
	}
	if lf.opts.sync == SyncAlways {
		if err := lf.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync towl file: %w", err)
		}
	}
	return nil
}

// Reindex rebuilds the index by scanning every well-formed entry.
// A torn trailing record is cut off so later appends stay visible. A
// malformed record with data after it fails with ErrCorrupt and leaves
// the file untouched.
func (lf *LogFile) Reindex() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.file == nil {
		return ErrClosed
	}

	info, err := lf.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat towl file: %w", err)
	}

	lf.index.reset()
	lf.truncated = 0
	end, err := scanEntries(context.Background(), lf.file, info.Size(), func(entry core.LogEntry) error {
		lf.index.fold(entry)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			return err
		}
		torn := errors.Is(err, ErrTruncated)
		if !torn {
			if torn, err = zeroFilled(lf.file, end, info.Size()); err != nil {
				return err
			}
		}
		if !torn {
			return fmt.Errorf("%w: %s: bad record at offset %d of %d", ErrCorrupt, lf.path, end, info.Size())
		}
		if err := lf.file.Truncate(end); err != nil {
			return fmt.Errorf("failed to truncate torn tail: %w", err)
		}
		lf.truncated = info.Size() - end
	}
	lf.end = end

	return writeIndex(lf.file, lf.index)
}

// Truncated returns how many tail bytes the last Reindex discarded
func (lf *LogFile) Truncated() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.truncated
}

// Stream calls fn for every entry strictly after the given time, in file order.
// An error returned by fn stops the scan and is returned. Entries appended
// after the call starts are not visited, and fn runs without holding the
// file lock so appends proceed meanwhile.
func (lf *LogFile) Stream(ctx context.Context, after time.Time, fn func(core.LogEntry) error) error {
	lf.mu.Lock()
	if lf.file == nil {
		lf.mu.Unlock()
		return ErrClosed
	}
	end := lf.end
	f, err := os.Open(lf.path)
	lf.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to open towl file: %w", err)
	}
	defer f.Close()

	_, err = scanEntries(ctx, f, end, afterFilter(after, fn))
	return readStop(err)
}

// Close stamps the closed time, persists the index and releases the file.
func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.file == nil {
		return ErrClosed
	}

	now := lf.opts.now().UTC()
	lf.index.Closed = &now

	werr := writeIndex(lf.file, lf.index)
	var serr error
	if err := lf.file.Sync(); err != nil {
		serr = fmt.Errorf("failed to sync towl file: %w", err)
	}
	var cerr error
	if err := lf.file.Close(); err != nil {
		cerr = fmt.Errorf("failed to close towl file: %w", err)
	}
	lf.file = nil

	return errors.Join(werr, serr, cerr)
}

// Header returns the file header
func (lf *LogFile) Header() Header {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.header
}

// Index returns a copy of the in-memory index
func (lf *LogFile) Index() Index {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.index.clone()
}

func (lf *LogFile) Path() string {
	return lf.path
}

// Size returns the logical file size in bytes
func (lf *LogFile) Size() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.end
}

// Inspect reads header and index of a towl file without modifying it.
// The returned index is rebuilt from the entries in memory.
func Inspect(path string) (Header, Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, Index{}, fmt.Errorf("failed to open towl file: %w", err)
	}
	defer f.Close()

	header, idx, err := readMeta(f)
	if err != nil {
		return Header{}, Index{}, err
	}
	info, err := f.Stat()
	if err != nil {
		return Header{}, Index{}, fmt.Errorf("failed to stat towl file: %w", err)
	}

	idx.reset()
	if _, err := scanEntries(context.Background(), f, info.Size(), func(entry core.LogEntry) error {
		idx.fold(entry)
		return nil
	}); readStop(err) != nil {
		return Header{}, Index{}, err
	}
	return header, idx, nil
}

// Scan streams entries strictly after the given time from a file opened read-only.
func Scan(ctx context.Context, path string, after time.Time, fn func(core.LogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open towl file: %w", err)
	}
	defer f.Close()

	if _, _, err := readMeta(f); err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat towl file: %w", err)
	}

	_, err = scanEntries(ctx, f, info.Size(), afterFilter(after, fn))
	return readStop(err)
}

func afterFilter(after time.Time, fn func(core.LogEntry) error) func(core.LogEntry) error {
	return func(entry core.LogEntry) error {
		if entry.Time.After(after) {
			return fn(entry)
		}
		return nil
	}
}

func readMeta(r io.ReaderAt) (Header, Index, error) {
	header, err := DecodeHeader(io.NewSectionReader(r, HeaderStart, IndexStart-HeaderStart))
	if err != nil {
		return Header{}, Index{}, err
	}
	idx, err := DecodeIndex(io.NewSectionReader(r, IndexStart, EntryStart-IndexStart))
	if err != nil {
		return Header{}, Index{}, err
	}
	return header, idx, nil
}

func writeIndex(w io.WriterAt, idx Index) error {
	var buf bytes.Buffer
	if err := EncodeIndex(&buf, idx); err != nil {
		return err
	}
	if _, err := w.WriteAt(buf.Bytes(), IndexStart); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// Decodes entries from the entry region up to limit. Returns the offset past
// the last good record, and the ErrDecode error of the first bad one if any.
func scanEntries(ctx context.Context, r io.ReaderAt, limit int64, fn func(core.LogEntry) error) (int64, error) {
	offset := int64(EntryStart)
	if limit <= offset {
		return offset, nil
	}

	br := bufio.NewReaderSize(io.NewSectionReader(r, EntryStart, limit-EntryStart), 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}

		entry, n, err := DecodeEntry(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, err
		}
		offset += n

		if err := fn(entry); err != nil {
			return offset, err
		}
	}
}

// Readers stop quietly at the first bad record
func readStop(err error) error {
	if errors.Is(err, ErrDecode) {
		return nil
	}
	return err
}

// Reports whether [from, to) holds only zero bytes, as a crash after the
// size update but before the data write leaves behind.
func zeroFilled(r io.ReaderAt, from, to int64) (bool, error) {
	br := bufio.NewReader(io.NewSectionReader(r, from, to-from))
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read towl tail: %w", err)
		}
		if b != 0 {
			return false, nil
		}
	}
}
