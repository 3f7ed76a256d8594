// FILE: src/internal/towlfile/codec.go
package towlfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"towl/src/internal/core"
)

// File layout
const (
	HeaderStart = 0
	IndexStart  = 1024
	EntryStart  = 2048

	FormatVersion uint32 = 1

	// Upper bound for any single length-prefixed field or entry body
	MaxFieldSize = 16 * 1024 * 1024
)

// Magic is the sentinel every towl file starts with.
var Magic = [9]byte{'t', 'o', 'w', 'l', 'f', 'i', 'l', 'e', '*'}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errMalformed = errors.New("malformed field")

// Header is the fixed record at offset 0.
type Header struct {
	Magic   [9]byte
	Version uint32
	Org     string
	Title   string
	ID      uint64
}

// Index summarizes the entry region. It is a cache rebuilt by Reindex.
type Index struct {
	Opened time.Time
	Closed *time.Time
	Count  uint64
	First  *time.Time
	Last   *time.Time
}

// Adds an entry to the summary. First and Last track the earliest and
// latest entry times, whatever order entries arrive in.
func (i *Index) fold(entry core.LogEntry) {
	t := entry.Time.UTC()
	i.Count++
	if i.First == nil || t.Before(*i.First) {
		first := t
		i.First = &first
	}
	if i.Last == nil || t.After(*i.Last) {
		last := t
		i.Last = &last
	}
}

// Clears the entry summary, keeping opened and closed
func (i *Index) reset() {
	i.Count = 0
	i.First = nil
	i.Last = nil
}

func (i Index) clone() Index {
	out := Index{Opened: i.Opened, Count: i.Count}
	out.Closed = cloneTime(i.Closed)
	out.First = cloneTime(i.First)
	out.Last = cloneTime(i.Last)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// EncodeHeader writes h to w.
func EncodeHeader(w io.Writer, h Header) error {
	buf := make([]byte, 0, 64+len(h.Org)+len(h.Title))
	buf = append(buf, h.Magic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = appendString(buf, h.Org)
	buf = appendString(buf, h.Title)
	buf = binary.LittleEndian.AppendUint64(buf, h.ID)
	_, err := w.Write(buf)
	return err
}

// DecodeHeader reads a header from r. A magic mismatch yields ErrNotATowlFile.
func DecodeHeader(r io.Reader) (Header, error) {
	var h Header
	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrNotATowlFile
		}
		return Header{}, fmt.Errorf("failed to read header magic: %w", err)
	}
	if h.Magic != Magic {
		return Header{}, ErrNotATowlFile
	}

	var err error
	if h.Version, err = readUint32(r); err != nil {
		return Header{}, decodeErr("header version", err)
	}
	if h.Org, err = readString(r); err != nil {
		return Header{}, decodeErr("header org", err)
	}
	if h.Title, err = readString(r); err != nil {
		return Header{}, decodeErr("header title", err)
	}
	if h.ID, err = readUint64(r); err != nil {
		return Header{}, decodeErr("header id", err)
	}
	return h, nil
}

// EncodeIndex writes idx to w.
func EncodeIndex(w io.Writer, idx Index) error {
	buf := make([]byte, 0, 64)
	buf = appendTime(buf, idx.Opened)
	buf = appendOptTime(buf, idx.Closed)
	buf = binary.LittleEndian.AppendUint64(buf, idx.Count)
	buf = appendOptTime(buf, idx.First)
	buf = appendOptTime(buf, idx.Last)
	_, err := w.Write(buf)
	return err
}

// DecodeIndex reads an index from r.
func DecodeIndex(r io.Reader) (Index, error) {
	var idx Index
	var err error
	if idx.Opened, err = readTime(r); err != nil {
		return Index{}, decodeErr("index opened", err)
	}
	if idx.Closed, err = readOptTime(r); err != nil {
		return Index{}, decodeErr("index closed", err)
	}
	if idx.Count, err = readUint64(r); err != nil {
		return Index{}, decodeErr("index count", err)
	}
	if idx.First, err = readOptTime(r); err != nil {
		return Index{}, decodeErr("index first", err)
	}
	if idx.Last, err = readOptTime(r); err != nil {
		return Index{}, decodeErr("index last", err)
	}
	return idx, nil
}

// AppendEntry appends the framed encoding of entry to dst.
// Frame: u32 body length | body | u32 crc32c(body)
func AppendEntry(dst []byte, entry core.LogEntry) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = appendString(dst, entry.ID)
	dst = appendString(dst, entry.Source)
	dst = appendTime(dst, entry.Time)
	dst = appendString(dst, entry.Payload)

	body := dst[start+4:]
	binary.LittleEndian.PutUint32(dst[start:start+4], uint32(len(body)))
	return binary.LittleEndian.AppendUint32(dst, crc32.Checksum(body, castagnoli))
}

// EncodeEntry writes one framed entry to w with a single Write call.
func EncodeEntry(w io.Writer, entry core.LogEntry) error {
	_, err := w.Write(AppendEntry(nil, entry))
	return err
}

// DecodeEntry reads one framed entry from r. io.EOF is returned unwrapped
// when r is exhausted exactly at a record boundary.
func DecodeEntry(r io.Reader) (core.LogEntry, int64, error) {
	n, err := readUint32(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.LogEntry{}, 0, io.EOF
		}
		return core.LogEntry{}, 0, shortErr("entry length", err)
	}
	if n == 0 || n > MaxFieldSize {
		return core.LogEntry{}, 0, fmt.Errorf("%w: entry length %d out of range", ErrDecode, n)
	}

	frame := make([]byte, int(n)+4)
	if _, err := io.ReadFull(r, frame); err != nil {
		return core.LogEntry{}, 0, shortErr("entry body", err)
	}
	body := frame[:n]
	if crc32.Checksum(body, castagnoli) != binary.LittleEndian.Uint32(frame[n:]) {
		return core.LogEntry{}, 0, fmt.Errorf("%w: entry checksum mismatch", ErrDecode)
	}

	br := bytes.NewReader(body)
	var entry core.LogEntry
	if entry.ID, err = readString(br); err != nil {
		return core.LogEntry{}, 0, decodeErr("entry id", err)
	}
	if entry.Source, err = readString(br); err != nil {
		return core.LogEntry{}, 0, decodeErr("entry source", err)
	}
	if entry.Time, err = readTime(br); err != nil {
		return core.LogEntry{}, 0, decodeErr("entry time", err)
	}
	if entry.Payload, err = readString(br); err != nil {
		return core.LogEntry{}, 0, decodeErr("entry payload", err)
	}
	if br.Len() != 0 {
		return core.LogEntry{}, 0, fmt.Errorf("%w: %d trailing bytes in entry", ErrDecode, br.Len())
	}
	return entry, int64(n) + 8, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendTime(dst []byte, t time.Time) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(t.Unix()))
	return binary.LittleEndian.AppendUint32(dst, uint32(t.Nanosecond()))
}

func appendOptTime(dst []byte, t *time.Time) []byte {
	if t == nil {
		return append(dst, 0)
	}
	return appendTime(append(dst, 1), *t)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > MaxFieldSize {
		return "", fmt.Errorf("%w: string length %d exceeds limit", errMalformed, n)
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readTime(r io.Reader) (time.Time, error) {
	sec, err := readUint64(r)
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := readUint32(r)
	if err != nil {
		return time.Time{}, err
	}
	if nsec >= uint32(time.Second) {
		return time.Time{}, fmt.Errorf("%w: nanoseconds %d out of range", errMalformed, nsec)
	}
	return time.Unix(int64(sec), int64(nsec)).UTC(), nil
}

func readOptTime(r io.Reader) (*time.Time, error) {
	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return nil, err
	}
	switch flag[0] {
	case 0:
		return nil, nil
	case 1:
		t, err := readTime(r)
		if err != nil {
			return nil, err
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("%w: invalid presence flag %d", errMalformed, flag[0])
	}
}

// Short reads and malformed fields are decode errors, anything else is I/O
func decodeErr(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errMalformed) {
		return fmt.Errorf("%w: %s: %v", ErrDecode, field, err)
	}
	return fmt.Errorf("failed to read %s: %w", field, err)
}

// Like decodeErr, but a record cut short by the end of input is also ErrTruncated
func shortErr(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %w", ErrDecode, field, ErrTruncated)
	}
	return decodeErr(field, err)
}
