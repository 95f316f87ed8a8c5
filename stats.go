package assetpreview

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// DiskStats summarises the persisted layer.
type DiskStats struct {
	Entries     int           // Total number of persisted thumbnails
	TotalSize   int64         // Total size of all stored images in bytes
	OldestEntry time.Duration // Age of the oldest entry
	NewestEntry time.Duration // Age of the newest entry
}

// DiskEntry is a single persisted thumbnail, for listing.
type DiskEntry struct {
	KeyHash    string
	Path       string
	Size       Size
	Tier       Tier
	CreatedAt  time.Time
	AccessedAt time.Time
	Bytes      int64
}

// Stats returns statistics about the persisted layer.
func (d *DiskStore) Stats() (DiskStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := DiskStats{}
	var oldest, newest time.Time

	err := d.walkManifests(func(keyHash string, m *manifest) error {
		stats.Entries++

		if oldest.IsZero() || m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
		}
		if newest.IsZero() || m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}

		size, _ := d.dirSize(d.objectPath(keyHash))
		stats.TotalSize += size
		return nil
	})
	if err != nil {
		return DiskStats{}, err
	}

	now := d.cfg.now()
	if !oldest.IsZero() {
		stats.OldestEntry = now.Sub(oldest)
	}
	if !newest.IsZero() {
		stats.NewestEntry = now.Sub(newest)
	}
	return stats, nil
}

// Prune removes entries created more than olderThan ago.
// Returns the number of entries removed.
func (d *DiskStore) Prune(olderThan time.Duration) (int, error) {
	cutoff := d.cfg.now().Add(-olderThan)
	return d.pruneWhere(func(m *manifest) bool { return m.CreatedAt.Before(cutoff) })
}

// PruneUnused removes entries not read for notAccessedSince.
// Returns the number of entries removed.
func (d *DiskStore) PruneUnused(notAccessedSince time.Duration) (int, error) {
	cutoff := d.cfg.now().Add(-notAccessedSince)
	return d.pruneWhere(func(m *manifest) bool { return m.AccessedAt.Before(cutoff) })
}

func (d *DiskStore) pruneWhere(match func(m *manifest) bool) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var toRemove []string
	err := d.walkManifests(func(keyHash string, m *manifest) error {
		if match(m) {
			toRemove = append(toRemove, keyHash)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return d.removeAll(toRemove)
}

// Entries lists every persisted thumbnail.
func (d *DiskStore) Entries() ([]DiskEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var entries []DiskEntry
	err := d.walkManifests(func(keyHash string, m *manifest) error {
		size, _ := d.dirSize(d.objectPath(keyHash))
		entries = append(entries, DiskEntry{
			KeyHash:    keyHash,
			Path:       m.Path,
			Size:       Size{Width: m.Width, Height: m.Height},
			Tier:       m.Tier,
			CreatedAt:  m.CreatedAt,
			AccessedAt: m.AccessedAt,
			Bytes:      size,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// walkManifests calls fn for each readable manifest.
func (d *DiskStore) walkManifests(fn func(keyHash string, m *manifest) error) error {
	return afero.Walk(d.fs, d.manifestDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		keyHash := strings.TrimSuffix(filepath.Base(path), ".json")
		m, err := d.readManifest(keyHash)
		if err != nil {
			// Skip corrupted manifests
			return nil
		}
		return fn(keyHash, m)
	})
}

// dirSize calculates the total size of all files in a directory.
func (d *DiskStore) dirSize(dir string) (int64, error) {
	var size int64
	err := afero.Walk(d.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
