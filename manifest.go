package assetpreview

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// manifest describes one persisted thumbnail.
type manifest struct {
	KeyHash     string    `json:"keyHash"`
	Path        string    `json:"path"`
	Kind        string    `json:"kind"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Tier        Tier      `json:"tier"`
	Source      Source    `json:"source"`
	Fingerprint string    `json:"fingerprint"` // State of the source file when generated
	OutputHash  string    `json:"outputHash"`  // Checksum of the stored PNG
	CreatedAt   time.Time `json:"createdAt"`
	AccessedAt  time.Time `json:"accessedAt"`
}

// manifestPath returns the path to a manifest file for a given key hash.
func (d *DiskStore) manifestPath(keyHash string) string {
	if len(keyHash) < 2 {
		panic(fmt.Sprintf("key hash too short: %s", keyHash))
	}
	return filepath.Join(d.manifestDir(), keyHash[:2], keyHash+".json")
}

// objectPath returns the path to the object directory for a given key hash.
func (d *DiskStore) objectPath(keyHash string) string {
	if len(keyHash) < 2 {
		panic(fmt.Sprintf("key hash too short: %s", keyHash))
	}
	return filepath.Join(d.objectsDir(), keyHash[:2], keyHash)
}

// saveManifest writes m as indented JSON.
func (d *DiskStore) saveManifest(m *manifest) error {
	path := d.manifestPath(m.KeyHash)
	if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := afero.WriteFile(d.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// loadManifest reads a manifest and records the access.
func (d *DiskStore) loadManifest(keyHash string) (*manifest, error) {
	data, err := afero.ReadFile(d.fs, d.manifestPath(keyHash))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	m.AccessedAt = d.cfg.now()
	if err := d.saveManifest(&m); err != nil {
		// Non-fatal, the entry is still usable
		d.cfg.logger.Warn().Err(err).Str("key", keyHash).Msg("failed to update manifest access time")
	}

	return &m, nil
}

// readManifest reads a manifest without touching its access time.
func (d *DiskStore) readManifest(keyHash string) (*manifest, error) {
	data, err := afero.ReadFile(d.fs, d.manifestPath(keyHash))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}
