package assetpreview

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/afero"
)

func TestDiskStore_RoundTrip(t *testing.T) {
	isDebug := false // Set to true when you want to troubleshoot issues visually.

	cs, cfg := newTestCache(t, WithPersistDir("/cache"))
	size := Size{12, 8}
	entry := &CacheEntry{
		Identity:    testID,
		Size:        size,
		Image:       solidImage(size, 0x7f),
		Tier:        Tier2,
		Source:      SourceRender,
		Fingerprint: "f00d",
	}
	if err := cs.put(entry); err != nil {
		t.Fatalf("put() error = %v", err)
	}

	key, _ := cfg.keyFor(testID, size, Tier2)
	if exists, _ := afero.Exists(cfg.fs, filepath.Join("/cache", "manifests", key.hash[:2], key.hash+".json")); !exists {
		t.Fatal("Expected a manifest on disk")
	}
	if exists, _ := afero.Exists(cfg.fs, filepath.Join("/cache", "objects", key.hash[:2], key.hash, objectFileName)); !exists {
		t.Fatal("Expected the PNG on disk")
	}

	// A new store on the same directory answers from disk.
	m, _ := newMetrics(nil)
	reopened, err := newCacheStore(cfg, m)
	if err != nil {
		t.Fatalf("newCacheStore() error = %v", err)
	}
	got, ok := reopened.Get(testID, size)
	if !ok {
		t.Fatal("Expected a hit from the disk layer")
	}
	if isDebug {
		spew.Dump(got.Identity, got.Size, got.Tier, got.Source)
	}
	assertImageSize(t, got.Image, size, "disk load")
	if got.Tier != Tier2 || got.Source != SourceRender || got.Fingerprint != "f00d" {
		t.Errorf("Loaded entry = %s/%s/%s, want tier2/render/f00d", got.Tier, got.Source, got.Fingerprint)
	}
	if got.Image.Pix[0] != 0x7f {
		t.Errorf("Loaded pixel = %#x, want 0x7f", got.Image.Pix[0])
	}
}

func TestDiskStore_CorruptObject(t *testing.T) {
	cs, cfg := newTestCache(t, WithPersistDir("/cache"))
	size := Size{4, 4}
	_ = cs.put(&CacheEntry{Identity: testID, Size: size, Image: solidImage(size, 1), Tier: Tier1})

	key, _ := cfg.keyFor(testID, size, Tier1)
	objectFile := filepath.Join(cs.Disk().objectPath(key.hash), objectFileName)
	if err := afero.WriteFile(cfg.fs, objectFile, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := cs.Disk().load(key.hash)
	if err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("Expected a checksum error, got %v", err)
	}

	cs.Clear()
	if _, ok := cs.Get(testID, size); ok {
		t.Error("Expected a corrupt entry to be a miss")
	}
}

func TestDiskStore_Miss(t *testing.T) {
	cs, _ := newTestCache(t, WithPersistDir("/cache"))
	if _, err := cs.Disk().load("abcdef"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestDiskStore_InvalidateRemovesFiles(t *testing.T) {
	cs, _ := newTestCache(t, WithPersistDir("/cache"))
	other := Identity{Path: "/lib/other.obj", Kind: "obj"}
	_ = cs.Put(testID, Size{4, 4}, solidImage(Size{4, 4}, 1), Tier1)
	_ = cs.Put(testID, Size{8, 8}, solidImage(Size{8, 8}, 1), Tier1)
	_ = cs.Put(other, Size{4, 4}, solidImage(Size{4, 4}, 1), Tier1)

	cs.Invalidate(testID)

	entries, err := cs.Disk().Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Path != other.Path {
		t.Errorf("Entries after Invalidate = %+v, want only %s", entries, other.Path)
	}
}

func TestDiskStore_StatsAndPrune(t *testing.T) {
	now := fixedNowFunc()
	cs, cfg := newTestCache(t, WithPersistDir("/cache"), WithNowFunc(func() time.Time { return now }))

	for i, age := range []time.Duration{48 * time.Hour, 2 * time.Hour} {
		id := Identity{Path: filepath.Join("/lib", string(rune('a'+i))+".obj"), Kind: "obj"}
		_ = cs.put(&CacheEntry{
			Identity:  id,
			Size:      Size{4, 4},
			Image:     solidImage(Size{4, 4}, 1),
			Tier:      Tier1,
			CreatedAt: now.Add(-age),
		})
	}

	stats, err := cs.Disk().Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if stats.TotalSize <= 0 {
		t.Error("Expected a positive total size")
	}
	if stats.OldestEntry != 48*time.Hour || stats.NewestEntry != 2*time.Hour {
		t.Errorf("Ages = %s/%s, want 48h/2h", stats.OldestEntry, stats.NewestEntry)
	}

	removed, err := cs.Disk().Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}

	// Pruning by access time: nothing was read since the puts.
	cfg.nowFunc = func() time.Time { return now.Add(72 * time.Hour) }
	removed, err = cs.Disk().PruneUnused(time.Hour)
	if err != nil {
		t.Fatalf("PruneUnused() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneUnused removed %d, want 1", removed)
	}

	if err := cs.Disk().Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	stats, _ = cs.Disk().Stats()
	if stats.Entries != 0 {
		t.Errorf("Entries after Clear = %d", stats.Entries)
	}
}

func TestDiskStore_SkipsCorruptManifests(t *testing.T) {
	cs, cfg := newTestCache(t, WithPersistDir("/cache"))
	_ = cs.Put(testID, Size{4, 4}, solidImage(Size{4, 4}, 1), Tier1)
	createTestFile(t, cfg.fs, "/cache/manifests/zz/zzzz.json", []byte("{broken"))

	entries, err := cs.Disk().Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Entries = %d, want 1", len(entries))
	}
}
