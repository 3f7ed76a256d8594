// FILE: src/internal/counter/counter.go
package counter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Value a counter takes when its record is first created
const Initial uint64 = 1

// The record has the wrong size to hold a counter
var ErrDecode = errors.New("counter record is malformed")

// Store persists a single monotonically increasing sequence number.
// Increment is a read-modify-write, callers serialize rotations themselves.
type Store struct {
	path string
	mu   sync.Mutex
}

// Creates a store backed by the file at path
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Read loads the counter, initializing the record to Initial when absent.
func (s *Store) Read() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Increment adds one to the persisted counter and returns the new value.
func (s *Store) Increment() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	if err := s.write(v + 1); err != nil {
		return 0, err
	}
	return v + 1, nil
}

func (s *Store) readLocked() (uint64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := s.write(Initial); err != nil {
				return 0, err
			}
			return Initial, nil
		}
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: %s has %d bytes", ErrDecode, s.path, len(data))
	}
	return binary.LittleEndian.Uint64(data), nil
}

// Writes through a temp file and rename so readers never see a torn value
func (s *Store) write(v uint64) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create counter directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create counter temp file: %w", err)
	}
	tmpName := tmp.Name()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := tmp.Write(buf[:]); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write counter: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync counter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close counter temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace counter: %w", err)
	}
	return nil
}
