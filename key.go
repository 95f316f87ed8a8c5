package assetpreview

import (
	"fmt"
	"path/filepath"
	"sort"
)

// keyBuilder builds cache and dedup keys. It validates eagerly and
// accumulates errors; they surface from Build.
type keyBuilder struct {
	hashFunc HashFunc
	path     string
	extras   map[string]string
	errors   []error
}

// cacheKey is the resolved key for one (identity, size, tier) triple.
type cacheKey struct {
	hash string
	path string
	size Size
	tier Tier
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s@%s/%s", k.path, k.size, k.tier)
}

func newKeyBuilder(hashFunc HashFunc) *keyBuilder {
	return &keyBuilder{hashFunc: hashFunc}
}

// Path sets the asset path. Only canonical paths are accepted: a relative or
// uncleaned path would hash differently from its canonical twin.
func (kb *keyBuilder) Path(path string) *keyBuilder {
	if !filepath.IsAbs(path) {
		kb.errors = append(kb.errors, fmt.Errorf("path is not absolute: %s", path))
	} else if filepath.Clean(path) != path {
		kb.errors = append(kb.errors, fmt.Errorf("path is not clean: %s", path))
	}
	kb.path = path
	return kb
}

// String adds a key-value pair to the key.
func (kb *keyBuilder) String(key, value string) *keyBuilder {
	if kb.extras == nil {
		kb.extras = make(map[string]string)
	}
	kb.extras[key] = value
	return kb
}

// Size is sugar for String("size", "WxH").
func (kb *keyBuilder) Size(s Size) *keyBuilder {
	if s.Width < 0 || s.Height < 0 {
		kb.errors = append(kb.errors, fmt.Errorf("%w: %s", ErrInvalidSize, s))
	}
	return kb.String("size", s.String())
}

// Tier is sugar for String("tier", t).
func (kb *keyBuilder) Tier(t Tier) *keyBuilder {
	return kb.String("tier", t.String())
}

// Build hashes the path and the extras in sorted order.
func (kb *keyBuilder) Build() (string, error) {
	if len(kb.errors) > 0 {
		return "", kb.errors[0]
	}

	h := kb.hashFunc()
	h.Write([]byte("path:" + kb.path))

	keys := make([]string, 0, len(kb.extras))
	for k := range kb.extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(kb.extras[k]))
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// keyFor builds the key shared by the image cache and the job registry.
func (c *config) keyFor(id Identity, size Size, tier Tier) (cacheKey, error) {
	hash, err := newKeyBuilder(c.hashFunc).Path(id.Path).Size(size).Tier(tier).Build()
	if err != nil {
		return cacheKey{}, fmt.Errorf("failed to build key for %s: %w", id.Path, err)
	}
	return cacheKey{hash: hash, path: id.Path, size: size, tier: tier}, nil
}

// sortStrings sorts a slice of strings in place.
func sortStrings(s []string) {
	sort.Strings(s)
}
