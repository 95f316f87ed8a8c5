package assetpreview

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
)

const objectFileName = "thumb.png"

// DiskStore persists thumbnails under a root directory:
//   - manifests/<hh>/<hash>.json - what was cached and from which source state
//   - objects/<hh>/<hash>/thumb.png - the image itself
type DiskStore struct {
	root string
	fs   afero.Fs
	cfg  *config
	mu   sync.RWMutex
}

func openDiskStore(root string, cfg *config) (*DiskStore, error) {
	d := &DiskStore{root: root, fs: cfg.fs, cfg: cfg}

	if err := d.fs.MkdirAll(d.manifestDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifests directory: %w", err)
	}
	if err := d.fs.MkdirAll(d.objectsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}
	return d, nil
}

// manifestDir returns the path to the manifests directory.
func (d *DiskStore) manifestDir() string {
	return filepath.Join(d.root, "manifests")
}

// objectsDir returns the path to the objects directory.
func (d *DiskStore) objectsDir() string {
	return filepath.Join(d.root, "objects")
}

// store writes the entry's image and manifest.
func (d *DiskStore) store(keyHash string, entry *CacheEntry) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, entry.Image, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	sum, err := checksum(d.cfg.hashFunc, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to checksum preview: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	objectDir := d.objectPath(keyHash)
	if err := d.fs.MkdirAll(objectDir, 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := afero.WriteFile(d.fs, filepath.Join(objectDir, objectFileName), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}

	return d.saveManifest(&manifest{
		KeyHash:     keyHash,
		Path:        entry.Identity.Path,
		Kind:        entry.Identity.Kind,
		Width:       entry.Size.Width,
		Height:      entry.Size.Height,
		Tier:        entry.Tier,
		Source:      entry.Source,
		Fingerprint: entry.Fingerprint,
		OutputHash:  sum,
		CreatedAt:   entry.CreatedAt,
		AccessedAt:  entry.CreatedAt,
	})
}

// load reads a persisted entry. Returns ErrCacheMiss when nothing is stored
// for the key, and an error when the stored image does not match its checksum.
func (d *DiskStore) load(keyHash string) (*CacheEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exists, err := afero.Exists(d.fs, d.manifestPath(keyHash))
	if err != nil {
		return nil, fmt.Errorf("failed to check manifest: %w", err)
	}
	if !exists {
		return nil, ErrCacheMiss
	}

	m, err := d.loadManifest(keyHash)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(d.fs, filepath.Join(d.objectPath(keyHash), objectFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read preview: %w", err)
	}
	sum, err := checksum(d.cfg.hashFunc, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if sum != m.OutputHash {
		return nil, fmt.Errorf("persisted preview %s is corrupt: checksum %s, expected %s", keyHash, sum, m.OutputHash)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode preview: %w", err)
	}

	return &CacheEntry{
		Identity:    Identity{Path: m.Path, Kind: m.Kind},
		Size:        Size{Width: m.Width, Height: m.Height},
		Image:       imaging.Clone(img),
		Tier:        m.Tier,
		Source:      m.Source,
		Fingerprint: m.Fingerprint,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// removePath removes every persisted entry generated from path.
func (d *DiskStore) removePath(path string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var toRemove []string
	err := d.walkManifests(func(keyHash string, m *manifest) error {
		if m.Path == path {
			toRemove = append(toRemove, keyHash)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return d.removeAll(toRemove)
}

// Clear removes every persisted entry.
func (d *DiskStore) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fs.RemoveAll(d.manifestDir()); err != nil {
		return fmt.Errorf("failed to remove manifests: %w", err)
	}
	if err := d.fs.RemoveAll(d.objectsDir()); err != nil {
		return fmt.Errorf("failed to remove objects: %w", err)
	}

	if err := d.fs.MkdirAll(d.manifestDir(), 0o755); err != nil {
		return fmt.Errorf("failed to recreate manifests directory: %w", err)
	}
	if err := d.fs.MkdirAll(d.objectsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to recreate objects directory: %w", err)
	}
	return nil
}

func (d *DiskStore) removeAll(keyHashes []string) (int, error) {
	count := 0
	for _, keyHash := range keyHashes {
		if err := d.removeByHash(keyHash); err != nil {
			return count, fmt.Errorf("failed to remove entry %s: %w", keyHash, err)
		}
		count++
	}
	return count, nil
}

// removeByHash removes a persisted entry by its key hash.
func (d *DiskStore) removeByHash(keyHash string) error {
	manifestPath := d.manifestPath(keyHash)
	if exists, _ := afero.Exists(d.fs, manifestPath); exists {
		if err := d.fs.Remove(manifestPath); err != nil {
			return fmt.Errorf("failed to remove manifest: %w", err)
		}
	}

	objectDir := d.objectPath(keyHash)
	if exists, _ := afero.Exists(d.fs, objectDir); exists {
		if err := d.fs.RemoveAll(objectDir); err != nil {
			return fmt.Errorf("failed to remove objects: %w", err)
		}
	}
	return nil
}
