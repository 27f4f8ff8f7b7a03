package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// ErrUnstable is returned when a file is still being written.
var ErrUnstable = errors.New("file size changed during write guard wait")

// Pending is a file waiting to be processed.
type Pending struct {
	// Rel is the slash-separated path relative to the base directory; it is
	// the identity recorded in the processed set.
	Rel     string
	Abs     string
	ModTime time.Time
	Size    int64
}

// Scan describes which files under Base are candidates.
type Scan struct {
	Base string
	// Glob is matched against each file's base name in every subdirectory.
	Glob string
	// RecentDays keeps only files whose path carries a YYYYMMDD date within
	// the last RecentDays days. Zero keeps everything.
	RecentDays int
}

// Discover walks s.Base and returns unprocessed files ordered by modification
// time, oldest first. Ties are broken by relative path.
func Discover(s Scan, processed map[string]struct{}, now time.Time) ([]Pending, error) {
	glob := s.Glob
	if glob == "" {
		glob = "*.csv"
	}
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("file glob %q: %w", glob, err)
	}

	var out []Pending
	err := filepath.WalkDir(s.Base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(glob, d.Name()); !ok {
			return nil
		}

		relPath, err := filepath.Rel(s.Base, path)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relPath)
		if _, done := processed[rel]; done {
			return nil
		}
		if s.RecentDays > 0 && !IsRecent(rel, s.RecentDays, now) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Pending{
			Rel:     rel,
			Abs:     path,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Base, err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.Before(out[j].ModTime)
		}
		return out[i].Rel < out[j].Rel
	})
	return out, nil
}

var dateRun = regexp.MustCompile(`\d{8}`)

// IsRecent reports whether the first 8-digit run in rel is a YYYYMMDD date no
// older than days before now. Paths without a valid date are not recent.
func IsRecent(rel string, days int, now time.Time) bool {
	d := dateRun.FindString(rel)
	if d == "" {
		return false
	}
	dt, err := time.ParseInLocation("20060102", d, now.Location())
	if err != nil {
		return false
	}
	return !dt.Before(now.AddDate(0, 0, -days))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stable compares the size of path before and after wait. It returns
// ErrUnstable when the size moved or the file could not be inspected.
func Stable(ctx context.Context, path string, wait time.Duration, sleep SleepFunc) error {
	before, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnstable, err)
	}
	if err := sleep(ctx, wait); err != nil {
		return err
	}
	after, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnstable, err)
	}
	if before.Size() != after.Size() {
		return fmt.Errorf("%w: %d -> %d bytes", ErrUnstable, before.Size(), after.Size())
	}
	return nil
}
