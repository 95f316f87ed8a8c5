package assetpreview

import (
	"errors"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// ErrDisposed is returned when reading from a disposed display handle.
var ErrDisposed = errors.New("display handle disposed")

// DisplayHandle is a UI-consumable image that owns its pixels. Disposing it
// releases only its own buffer; sibling handles for the same key are unaffected.
type DisplayHandle struct {
	mu       sync.Mutex
	identity Identity
	size     Size
	tier     Tier
	img      *image.NRGBA
}

func newDisplayHandle(id Identity, size Size, tier Tier, master *image.NRGBA) *DisplayHandle {
	return &DisplayHandle{
		identity: id,
		size:     size,
		tier:     tier,
		img:      imaging.Clone(master),
	}
}

// Identity returns the asset the handle shows.
func (h *DisplayHandle) Identity() Identity { return h.identity }

// Size returns the pixel size of the handle.
func (h *DisplayHandle) Size() Size { return h.size }

// Tier returns the tier of the image the handle was cut from.
func (h *DisplayHandle) Tier() Tier { return h.tier }

// Image returns the handle's own image.
func (h *DisplayHandle) Image() (*image.NRGBA, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.img == nil {
		return nil, ErrDisposed
	}
	return h.img, nil
}

// Pixels returns a copy of the handle's pixel data.
func (h *DisplayHandle) Pixels() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.img == nil {
		return nil, ErrDisposed
	}
	return append([]byte(nil), h.img.Pix...), nil
}

// Dispose zeroes and releases the handle's buffer. Calling it twice is a no-op.
func (h *DisplayHandle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.img == nil {
		return
	}
	clear(h.img.Pix)
	h.img = nil
}

// Disposed reports whether Dispose was called.
func (h *DisplayHandle) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.img == nil
}
