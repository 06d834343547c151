// Package screenshot maps sites to their screenshot files.
package screenshot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store keeps one PNG per site under Base: <base>/<id>/<id>.png.
type Store struct {
	Base string

	now func() time.Time
}

// NewStore creates a Store rooted at base.
func NewStore(base string) *Store {
	return &Store{Base: base, now: time.Now}
}

// Path returns the screenshot path for siteID and creates its directory.
func (s *Store) Path(siteID string) (string, error) {
	if siteID == "" || siteID != filepath.Base(siteID) || strings.HasPrefix(siteID, ".") {
		return "", fmt.Errorf("invalid site id %q", siteID)
	}
	dir := filepath.Join(s.Base, siteID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	return filepath.Join(dir, siteID+".png"), nil
}

// Lookup returns the existing screenshot for siteID without creating
// anything. ok is false when there is none.
func (s *Store) Lookup(siteID string) (path string, ok bool) {
	if siteID == "" || siteID != filepath.Base(siteID) || strings.HasPrefix(siteID, ".") {
		return "", false
	}
	path = filepath.Join(s.Base, siteID, siteID+".png")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// Prune removes PNG files last written more than maxAge ago and returns how
// many were removed. A missing base directory is not an error.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(s.Base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".png") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("screenshot not removed", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		slog.Info("old screenshots removed", "count", removed, "olderThan", maxAge)
	}
	return removed, err
}
