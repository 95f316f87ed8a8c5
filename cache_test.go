package assetpreview

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func newTestCache(t *testing.T, options ...Option) (*CacheStore, *config) {
	t.Helper()
	cfg, _ := testConfig(t, options...)
	m, err := newMetrics(nil)
	if err != nil {
		t.Fatalf("newMetrics() error = %v", err)
	}
	cs, err := newCacheStore(cfg, m)
	if err != nil {
		t.Fatalf("newCacheStore() error = %v", err)
	}
	return cs, cfg
}

var testID = Identity{Path: "/lib/rig_A.scene", Kind: "scene"}

func TestCacheStore_GetPut(t *testing.T) {
	cs, _ := newTestCache(t)
	size := Size{64, 64}

	if _, ok := cs.Get(testID, size); ok {
		t.Fatal("Expected a miss on an empty cache")
	}
	if err := cs.Put(testID, size, solidImage(size, 0x10), Tier1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entry, ok := cs.Get(testID, size)
	if !ok {
		t.Fatal("Expected a hit after Put")
	}
	if entry.Tier != Tier1 {
		t.Errorf("Tier = %s, want tier1", entry.Tier)
	}
	assertImageSize(t, entry.Image, size, "Get")

	if _, ok := cs.Get(testID, Size{32, 32}); ok {
		t.Error("Expected a miss for another size")
	}

	stats := cs.Stats()
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("Stats = %+v, want 1 entry, 1 hit, 2 misses", stats)
	}
}

func TestCacheStore_Tier2Supersedes(t *testing.T) {
	cs, _ := newTestCache(t)
	size := Size{64, 64}

	_ = cs.Put(testID, size, solidImage(size, 0x10), Tier1)
	_ = cs.Put(testID, size, solidImage(size, 0x20), Tier2)

	entry, ok := cs.Get(testID, size)
	if !ok || entry.Tier != Tier2 {
		t.Fatalf("Get() = tier %s, %v; want the tier-2 entry", entry.Tier, ok)
	}
	if entry.Image.Pix[0] != 0x20 {
		t.Errorf("Expected tier-2 pixels, got %#x", entry.Image.Pix[0])
	}

	if _, ok := cs.GetTier(testID, Size{32, 32}, Tier2); ok {
		t.Error("Expected a miss for tier 2 at another size")
	}

	// A failed tier 2 never removes the tier-1 entry.
	cs2, _ := newTestCache(t)
	_ = cs2.Put(testID, size, solidImage(size, 0x10), Tier1)
	if _, ok := cs2.GetTier(testID, size, Tier2); ok {
		t.Error("Expected no tier-2 entry")
	}
	if _, ok := cs2.Get(testID, size); !ok {
		t.Error("Expected the tier-1 entry to remain")
	}
}

func TestCacheStore_PutDoesNotMutateReturnedCopies(t *testing.T) {
	cs, _ := newTestCache(t)
	size := Size{8, 8}

	src := solidImage(size, 0x11)
	_ = cs.Put(testID, size, src, Tier1)

	// The cache copied src on the way in.
	src.Pix[0] = 0xff

	first, _ := cs.Get(testID, size)
	if first.Image.Pix[0] != 0x11 {
		t.Fatalf("Cached image follows the caller's buffer: %#x", first.Image.Pix[0])
	}

	_ = cs.Put(testID, size, solidImage(size, 0x22), Tier1)
	if first.Image.Pix[0] != 0x11 {
		t.Errorf("Put changed a previously returned buffer: %#x", first.Image.Pix[0])
	}

	// Writing into a returned copy does not reach the cache.
	second, _ := cs.Get(testID, size)
	second.Image.Pix[0] = 0x99
	third, _ := cs.Get(testID, size)
	if third.Image.Pix[0] != 0x22 {
		t.Errorf("Returned copies alias the cached buffer: %#x", third.Image.Pix[0])
	}
}

func TestCacheStore_DisplayHandlesAreIndependent(t *testing.T) {
	cs, _ := newTestCache(t)
	size := Size{16, 16}
	_ = cs.Put(testID, size, solidImage(size, 0x42), Tier1)

	h1, err := cs.DisplayHandle(testID, size)
	if err != nil {
		t.Fatalf("DisplayHandle() error = %v", err)
	}
	h2, err := cs.DisplayHandle(testID, size)
	if err != nil {
		t.Fatalf("DisplayHandle() error = %v", err)
	}

	before, _ := h2.Pixels()
	h1.Dispose()

	if !h1.Disposed() {
		t.Error("Expected h1 to be disposed")
	}
	if _, err := h1.Image(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed from a disposed handle, got %v", err)
	}

	after, err := h2.Pixels()
	if err != nil {
		t.Fatalf("Pixels() on sibling error = %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("Disposing one handle changed the pixels of another")
	}
	if after[0] != 0x42 {
		t.Errorf("Sibling pixel = %#x, want 0x42", after[0])
	}

	// A handle cut after a dispose still shows the original data.
	h3, _ := cs.DisplayHandle(testID, size)
	if px, _ := h3.Pixels(); px[0] != 0x42 {
		t.Errorf("New handle pixel = %#x, want 0x42", px[0])
	}
}

func TestCacheStore_DisplayHandleFollowsBestTier(t *testing.T) {
	cs, _ := newTestCache(t)
	size := Size{16, 16}
	_ = cs.Put(testID, size, solidImage(size, 0x10), Tier1)

	h1, _ := cs.DisplayHandle(testID, size)
	if h1.Tier() != Tier1 {
		t.Fatalf("Tier = %s, want tier1", h1.Tier())
	}

	_ = cs.Put(testID, size, solidImage(size, 0x20), Tier2)
	h2, _ := cs.DisplayHandle(testID, size)
	if h2.Tier() != Tier2 {
		t.Errorf("Tier = %s, want tier2 after a tier-2 put", h2.Tier())
	}
	if px, _ := h1.Pixels(); px[0] != 0x10 {
		t.Errorf("Old handle changed after a put: %#x", px[0])
	}

	if _, err := cs.DisplayHandle(testID, Size{1, 1}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestCacheStore_LRUBound(t *testing.T) {
	cs, _ := newTestCache(t, WithImageCacheSize(3))
	size := Size{4, 4}

	for i := 0; i < 5; i++ {
		id := Identity{Path: fmt.Sprintf("/lib/asset_%d.obj", i), Kind: "obj"}
		_ = cs.Put(id, size, solidImage(size, uint8(i)), Tier1)
	}

	if n := cs.Stats().Entries; n != 3 {
		t.Errorf("Entries = %d, want 3", n)
	}
	if _, ok := cs.Get(Identity{Path: "/lib/asset_0.obj", Kind: "obj"}, size); ok {
		t.Error("Expected the oldest entry to be evicted")
	}
	if _, ok := cs.Get(Identity{Path: "/lib/asset_4.obj", Kind: "obj"}, size); !ok {
		t.Error("Expected the newest entry to be present")
	}
}

func TestCacheStore_Invalidate(t *testing.T) {
	cs, _ := newTestCache(t)
	other := Identity{Path: "/lib/other.obj", Kind: "obj"}

	for _, size := range []Size{{16, 16}, {64, 64}} {
		_ = cs.Put(testID, size, solidImage(size, 1), Tier1)
		_ = cs.Put(testID, size, solidImage(size, 2), Tier2)
	}
	_ = cs.Put(other, Size{16, 16}, solidImage(Size{16, 16}, 3), Tier1)
	_, _ = cs.DisplayHandle(testID, Size{16, 16})

	cs.Invalidate(testID)

	for _, size := range []Size{{16, 16}, {64, 64}} {
		if _, ok := cs.Get(testID, size); ok {
			t.Errorf("Expected no entry for %s after Invalidate", size)
		}
	}
	if _, err := cs.DisplayHandle(testID, Size{16, 16}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected the display layer to be invalidated, got %v", err)
	}
	if _, ok := cs.Get(other, Size{16, 16}); !ok {
		t.Error("Invalidate removed another identity")
	}
}

func TestCacheStore_StaleFingerprint(t *testing.T) {
	cs, _ := newTestCache(t)
	size := Size{8, 8}
	_ = cs.put(&CacheEntry{Identity: testID, Size: size, Image: solidImage(size, 1), Tier: Tier1, Fingerprint: "aaa"})

	if _, ok := cs.lookup(testID, size, Tier1, "aaa"); !ok {
		t.Fatal("Expected a hit for the same fingerprint")
	}
	if _, ok := cs.lookup(testID, size, Tier1, "bbb"); ok {
		t.Fatal("Expected a miss for a changed source")
	}
	if _, ok := cs.Get(testID, size); ok {
		t.Error("Expected the stale entry to be dropped")
	}
}
