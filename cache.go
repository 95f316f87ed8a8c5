package assetpreview

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheEntry is one cached thumbnail. Entries are immutable once stored;
// every CacheEntry handed out by CacheStore carries its own pixel copy.
type CacheEntry struct {
	Identity    Identity
	Size        Size
	Image       *image.NRGBA
	Tier        Tier
	Source      Source
	Fingerprint string
	CreatedAt   time.Time
}

// copy returns e with an independent pixel buffer.
func (e *CacheEntry) copy() CacheEntry {
	out := *e
	if e.Image != nil {
		out.Image = imaging.Clone(e.Image)
	}
	return out
}

// CacheStats is the operational view of the image cache.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// displayEntry is the master copy the display layer hands handles out from.
type displayEntry struct {
	path  string
	image *image.NRGBA
	tier  Tier
}

// CacheStore maps (identity, size, tier) to generated images, and keeps a
// second bounded layer of display masters from which independently owned
// DisplayHandles are cut.
type CacheStore struct {
	cfg      *config
	mu       sync.RWMutex
	images   *lru.Cache[string, *CacheEntry]
	displays *lru.Cache[string, *displayEntry]
	disk     *DiskStore
	metrics  *metrics

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCacheStore creates a standalone cache. Previewer creates its own.
func NewCacheStore(options ...Option) (*CacheStore, error) {
	cfg := defaultConfig()
	for _, option := range options {
		option(cfg)
	}
	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}
	return newCacheStore(cfg, m)
}

func newCacheStore(cfg *config, m *metrics) (*CacheStore, error) {
	images, err := lru.New[string, *CacheEntry](cfg.imageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	displays, err := lru.New[string, *displayEntry](cfg.displayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create display cache: %w", err)
	}

	cs := &CacheStore{
		cfg:      cfg,
		images:   images,
		displays: displays,
		metrics:  m,
	}

	if cfg.persistDir != "" {
		disk, err := openDiskStore(cfg.persistDir, cfg)
		if err != nil {
			return nil, err
		}
		cs.disk = disk
	}

	return cs, nil
}

// Get returns the best cached entry for the identity and size: a tier-2
// entry supersedes a tier-1 one.
func (cs *CacheStore) Get(id Identity, size Size) (CacheEntry, bool) {
	return cs.GetTier(id, size, Tier1)
}

// GetTier returns the best cached entry at or above min.
func (cs *CacheStore) GetTier(id Identity, size Size, min Tier) (CacheEntry, bool) {
	entry, ok := cs.lookup(id, size, min, "")
	if !ok {
		return CacheEntry{}, false
	}
	return entry.copy(), true
}

// lookup finds the best entry at or above min. When fingerprint is set, an
// entry recorded for a different source state is treated as stale and the
// identity is invalidated.
func (cs *CacheStore) lookup(id Identity, size Size, min Tier, fingerprint string) (*CacheEntry, bool) {
	cs.mu.RLock()
	entry, found := cs.find(id, size, min)
	cs.mu.RUnlock()

	if found && fingerprint != "" && entry.Fingerprint != "" && entry.Fingerprint != fingerprint {
		cs.cfg.logger.Debug().Str("path", id.Path).Msg("cached preview is stale, invalidating")
		cs.Invalidate(id)
		found = false
	}

	if !found {
		cs.misses.Add(1)
		cs.metrics.cacheRequests.WithLabelValues("image", "miss").Inc()
		return nil, false
	}
	cs.hits.Add(1)
	cs.metrics.cacheRequests.WithLabelValues("image", "hit").Inc()
	return entry, true
}

// find must be called with cs.mu held.
func (cs *CacheStore) find(id Identity, size Size, min Tier) (*CacheEntry, bool) {
	for tier := Tier2; tier >= min; tier-- {
		key, err := cs.cfg.keyFor(id, size, tier)
		if err != nil {
			return nil, false
		}
		if entry, ok := cs.images.Get(key.hash); ok {
			return entry, true
		}
		if cs.disk == nil {
			continue
		}
		entry, err := cs.disk.load(key.hash)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				cs.cfg.logger.Warn().Err(err).Str("path", id.Path).Msg("failed to load persisted preview")
			}
			continue
		}
		cs.images.Add(key.hash, entry)
		return entry, true
	}
	return nil, false
}

// Put stores img for the key. Previously returned copies stay valid.
func (cs *CacheStore) Put(id Identity, size Size, img image.Image, tier Tier) error {
	return cs.put(&CacheEntry{
		Identity: id,
		Size:     size,
		Image:    imaging.Clone(img),
		Tier:     tier,
	})
}

// put stores entry, taking ownership of entry.Image.
func (cs *CacheStore) put(entry *CacheEntry) error {
	key, err := cs.cfg.keyFor(entry.Identity, entry.Size, entry.Tier)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = cs.cfg.now()
	}

	cs.mu.Lock()
	cs.images.Add(key.hash, entry)
	// Drop display masters of every tier so the next handle shows the best
	// image. Handles already cut from an old master keep their own copies.
	for tier := Tier1; tier <= Tier2; tier++ {
		if k, err := cs.cfg.keyFor(entry.Identity, entry.Size, tier); err == nil {
			cs.displays.Remove(k.hash)
		}
	}
	cs.mu.Unlock()

	if cs.disk != nil {
		if err := cs.disk.store(key.hash, entry); err != nil {
			cs.cfg.logger.Warn().Err(err).Str("path", entry.Identity.Path).Msg("failed to persist preview")
		}
	}
	return nil
}

// Invalidate drops every entry of the identity from both layers and from disk.
func (cs *CacheStore) Invalidate(id Identity) {
	cs.mu.Lock()
	for _, k := range cs.images.Keys() {
		if entry, ok := cs.images.Peek(k); ok && entry.Identity.Path == id.Path {
			cs.images.Remove(k)
		}
	}
	for _, k := range cs.displays.Keys() {
		if entry, ok := cs.displays.Peek(k); ok && entry.path == id.Path {
			cs.displays.Remove(k)
		}
	}
	cs.mu.Unlock()

	if cs.disk != nil {
		if _, err := cs.disk.removePath(id.Path); err != nil {
			cs.cfg.logger.Warn().Err(err).Str("path", id.Path).Msg("failed to remove persisted previews")
		}
	}
}

// DisplayHandle returns a new handle for the best cached image of the key.
// Every call returns an independently owned handle.
func (cs *CacheStore) DisplayHandle(id Identity, size Size) (*DisplayHandle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for tier := Tier2; tier >= Tier1; tier-- {
		key, err := cs.cfg.keyFor(id, size, tier)
		if err != nil {
			return nil, err
		}
		if master, ok := cs.displays.Get(key.hash); ok {
			cs.metrics.cacheRequests.WithLabelValues("display", "hit").Inc()
			return newDisplayHandle(id, size, master.tier, master.image), nil
		}
	}

	entry, ok := cs.find(id, size, Tier1)
	if !ok {
		cs.metrics.cacheRequests.WithLabelValues("display", "miss").Inc()
		return nil, fmt.Errorf("%w: %s@%s", ErrCacheMiss, id.Path, size)
	}
	key, err := cs.cfg.keyFor(id, size, entry.Tier)
	if err != nil {
		return nil, err
	}
	master := &displayEntry{path: id.Path, image: imaging.Clone(entry.Image), tier: entry.Tier}
	cs.displays.Add(key.hash, master)
	cs.metrics.cacheRequests.WithLabelValues("display", "miss").Inc()
	return newDisplayHandle(id, size, master.tier, master.image), nil
}

// Stats returns entry count and hit/miss counters.
func (cs *CacheStore) Stats() CacheStats {
	return CacheStats{
		Entries: cs.images.Len(),
		Hits:    cs.hits.Load(),
		Misses:  cs.misses.Load(),
	}
}

// Clear removes every in-memory entry. Persisted entries are kept.
func (cs *CacheStore) Clear() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.images.Purge()
	cs.displays.Purge()
}

// Disk returns the persisted layer, or nil when persistence is disabled.
func (cs *CacheStore) Disk() *DiskStore {
	return cs.disk
}
