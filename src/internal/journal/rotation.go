// FILE: src/internal/journal/rotation.go
package journal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"towl/src/internal/towlfile"
)

// Rotation policy for the working file
type Rotation int

const (
	RotationDaily Rotation = iota
	RotationWeekly
)

func (r Rotation) String() string {
	if r == RotationWeekly {
		return "weekly"
	}
	return "daily"
}

// Parses a rotation policy name
func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily":
		return RotationDaily, nil
	case "weekly":
		return RotationWeekly, nil
	default:
		return RotationDaily, fmt.Errorf("invalid rotation: %s (valid: daily, weekly)", s)
	}
}

// Parses a weekday name such as "sunday" or "sun"
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday: %s", s)
}

// NextRotation returns the first 23:59:59 in loc strictly after now. Weekly
// rotation additionally requires the day to be the anchor weekday.
func NextRotation(now time.Time, policy Rotation, anchor time.Weekday, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	next := time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, 23, 59, 59, 0, loc)
	}

	if policy == RotationWeekly {
		for next.Weekday() != anchor {
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 23, 59, 59, 0, loc)
		}
	}
	return next
}

// ArchiveName builds the archive file name for a working file closed on date:
// {org}_{title}_{year}_{month}_{day}_{id}.towl
func ArchiveName(h towlfile.Header, date time.Time) string {
	return fmt.Sprintf("%s_%s_%04d_%02d_%02d_%d.%s",
		sanitizeName(h.Org),
		sanitizeName(h.Title),
		date.Year(), int(date.Month()), date.Day(),
		h.ID,
		towlfile.Extension)
}

// Keeps org and title from escaping the archive directory
func sanitizeName(s string) string {
	if s == "" {
		return "Unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == 0 {
			return '-'
		}
		return r
	}, s)
}

// Fires Archive at every rotation boundary until ctx is cancelled
func (j *Journal) rotationLoop(ctx context.Context) {
	defer j.wg.Done()

	for {
		now := j.opts.Now()
		next := NextRotation(now, j.opts.Rotation, j.opts.WeeklyAnchor, j.opts.Location)
		wait := next.Sub(now)

		j.logger.Debug("msg", "Next rotation scheduled",
			"component", "journal",
			"at", next,
			"in", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		path, err := j.Archive()
		if err != nil {
			j.logger.Error("msg", "Scheduled rotation failed",
				"component", "journal",
				"error", err)
			continue
		}
		j.logger.Info("msg", "Scheduled rotation completed",
			"component", "journal",
			"archive", path)
	}
}
