// FILE: src/internal/journal/archive.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"towl/src/internal/core"
	"towl/src/internal/towlfile"
)

// ArchiveInfo describes one archived towl file
type ArchiveInfo struct {
	Name   string          `json:"name"`
	Size   int64           `json:"size"`
	Header towlfile.Header `json:"-"`
	Index  towlfile.Index  `json:"-"`
}

// Archives lists the towl files in the archive directory ordered by id.
// Files without the towl magic are skipped.
func (j *Journal) Archives() ([]ArchiveInfo, error) {
	dirEntries, err := os.ReadDir(j.opts.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var out []ArchiveInfo
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), "."+towlfile.Extension) {
			continue
		}
		path := filepath.Join(j.opts.ArchiveDir, de.Name())
		if !towlfile.HasMagic(path) {
			j.logger.Debug("msg", "Skipping non-towl file in archive directory",
				"component", "journal",
				"file", de.Name())
			continue
		}

		header, idx, err := towlfile.Inspect(path)
		if err != nil {
			j.logger.Warn("msg", "Failed to inspect archive",
				"component", "journal",
				"file", de.Name(),
				"error", err)
			continue
		}

		var size int64
		if info, err := de.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, ArchiveInfo{Name: de.Name(), Size: size, Header: header, Index: idx})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Header.ID != out[b].Header.ID {
			return out[a].Header.ID < out[b].Header.ID
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

// ArchivePath resolves an archive name to its path inside the archive
// directory. Names with directory components are rejected.
func (j *Journal) ArchivePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, "."+towlfile.Extension) {
		return "", fmt.Errorf("%w: %q", ErrArchiveNotFound, name)
	}

	path := filepath.Join(j.opts.ArchiveDir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
		}
		return "", err
	}
	return path, nil
}

// StreamArchive calls fn for each entry of the named archive newer than after.
func (j *Journal) StreamArchive(ctx context.Context, name string, after time.Time, fn func(core.LogEntry) error) error {
	path, err := j.ArchivePath(name)
	if err != nil {
		return err
	}
	return towlfile.Scan(ctx, path, after, fn)
}
