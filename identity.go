package assetpreview

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Tier is the fidelity level of a preview or metadata record.
type Tier int

const (
	// Tier1 is derived from the file alone and never touches the host.
	Tier1 Tier = 1
	// Tier2 is derived from content imported into a sandbox session.
	Tier2 Tier = 2
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	default:
		return "tier" + strconv.Itoa(int(t))
	}
}

// Size is an exact pixel size.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether s is the zero size used by metadata-only jobs.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Double returns the oversampled capture size.
func (s Size) Double() Size {
	return Size{Width: s.Width * 2, Height: s.Height * 2}
}

// Identity is a canonical absolute asset path plus its file kind.
type Identity struct {
	Path string
	Kind string
}

func (id Identity) String() string {
	return id.Path
}

// Name returns the file name without directory.
func (id Identity) Name() string {
	return filepath.Base(id.Path)
}

// asset is an identity resolved against the filesystem at a point in time.
type asset struct {
	Identity
	size        int64
	modTime     time.Time
	fingerprint string
}

// canonicalPath returns the absolute, cleaned form of path. Symlinks are
// resolved only on the OS filesystem.
func canonicalPath(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrAssetNotFound)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	abs = filepath.Clean(abs)
	if _, ok := fs.(*afero.OsFs); ok {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
	}
	return abs, nil
}

// kindOf returns the lower-case extension without its dot.
func kindOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// NewIdentity canonicalises path without touching the file.
func NewIdentity(fs afero.Fs, path string) (Identity, error) {
	abs, err := canonicalPath(fs, path)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Path: abs, Kind: kindOf(abs)}, nil
}

// resolveAsset canonicalises path and stats the file.
func (c *config) resolveAsset(path string) (asset, error) {
	id, err := NewIdentity(c.fs, path)
	if err != nil {
		return asset{}, err
	}
	info, err := c.fs.Stat(id.Path)
	if err != nil {
		return asset{}, fmt.Errorf("%w: %s: %v", ErrAssetNotFound, id.Path, err)
	}
	if info.IsDir() {
		return asset{}, fmt.Errorf("%w: %s is a directory", ErrAssetNotFound, id.Path)
	}
	return asset{
		Identity:    id,
		size:        info.Size(),
		modTime:     info.ModTime(),
		fingerprint: c.fingerprint(info.Size(), info.ModTime()),
	}, nil
}

// fingerprint summarises the source file state so cached entries can be
// checked for freshness without rereading the file.
func (c *config) fingerprint(size int64, modTime time.Time) string {
	h := c.hashFunc()
	fmt.Fprintf(h, "%d:%d", size, modTime.UnixNano())
	return fmt.Sprintf("%x", h.Sum(nil))
}
