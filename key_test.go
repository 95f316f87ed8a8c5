package assetpreview

import (
	"errors"
	"testing"
)

func TestKeyBuilder(t *testing.T) {
	build := func(path string, size Size, tier Tier) (string, error) {
		return newKeyBuilder(defaultHashFunc).Path(path).Size(size).Tier(tier).Build()
	}

	base, err := build("/lib/rig_A.scene", Size{64, 64}, Tier1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	again, _ := build("/lib/rig_A.scene", Size{64, 64}, Tier1)
	if base != again {
		t.Errorf("Same inputs produced different keys: %s and %s", base, again)
	}

	testCases := []struct {
		name string
		path string
		size Size
		tier Tier
	}{
		{name: "Different path", path: "/lib/rig_B.scene", size: Size{64, 64}, tier: Tier1},
		{name: "Different size", path: "/lib/rig_A.scene", size: Size{64, 32}, tier: Tier1},
		{name: "Transposed size", path: "/lib/rig_A.scene", size: Size{32, 64}, tier: Tier1},
		{name: "Different tier", path: "/lib/rig_A.scene", size: Size{64, 64}, tier: Tier2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := build(tc.path, tc.size, tc.tier)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if key == base {
				t.Errorf("Expected a different key than %s", base)
			}
		})
	}
}

func TestKeyBuilder_ExtrasOrder(t *testing.T) {
	a, _ := newKeyBuilder(defaultHashFunc).Path("/a.obj").String("x", "1").String("y", "2").Build()
	b, _ := newKeyBuilder(defaultHashFunc).Path("/a.obj").String("y", "2").String("x", "1").Build()
	if a != b {
		t.Errorf("Key depends on the order extras were added: %s != %s", a, b)
	}
}

func TestKeyBuilder_RejectsNonCanonicalPaths(t *testing.T) {
	for _, path := range []string{"lib/rig_A.scene", "/lib/../lib/rig_A.scene", "/lib//rig_A.scene"} {
		if _, err := newKeyBuilder(defaultHashFunc).Path(path).Build(); err == nil {
			t.Errorf("Expected an error for path %q", path)
		}
	}
}

func TestKeyBuilder_InvalidSize(t *testing.T) {
	_, err := newKeyBuilder(defaultHashFunc).Path("/a.obj").Size(Size{-1, 4}).Build()
	if !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Expected ErrInvalidSize, got %v", err)
	}
}

func TestKeyFor_CanonicalIdentity(t *testing.T) {
	cfg, memFs := testConfig(t)

	id1, err := NewIdentity(memFs, "/lib/sub/../rig_A.scene")
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	id2, _ := NewIdentity(memFs, "/lib/rig_A.scene")
	if id1 != id2 {
		t.Fatalf("Identities differ: %+v and %+v", id1, id2)
	}
	if id1.Kind != "scene" {
		t.Errorf("Kind = %q, want scene", id1.Kind)
	}

	k1, _ := cfg.keyFor(id1, Size{64, 64}, Tier1)
	k2, _ := cfg.keyFor(id2, Size{64, 64}, Tier1)
	if k1.hash != k2.hash {
		t.Errorf("Equivalent paths produced different keys")
	}
}

func TestResolveAsset(t *testing.T) {
	cfg, memFs := testConfig(t)
	createTestFile(t, memFs, "/lib/Rig_A.SCENE", []byte(rigScene))

	a, err := cfg.resolveAsset("/lib/Rig_A.SCENE")
	if err != nil {
		t.Fatalf("resolveAsset() error = %v", err)
	}
	if a.Kind != "scene" {
		t.Errorf("Kind = %q, want scene", a.Kind)
	}
	if a.size != int64(len(rigScene)) {
		t.Errorf("size = %d, want %d", a.size, len(rigScene))
	}
	if a.fingerprint == "" {
		t.Error("Expected a fingerprint")
	}

	if _, err := cfg.resolveAsset("/lib/missing.scene"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("Expected ErrAssetNotFound, got %v", err)
	}
	if _, err := cfg.resolveAsset("/lib"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("Expected ErrAssetNotFound for a directory, got %v", err)
	}
}
