package assetpreview

import (
	"context"
	"image"
	"strings"
)

// Ref names an object in the host workspace. Objects loaded by a session are
// named "<namespace>:<name>".
type Ref string

// Namespace returns the namespace part of the ref, or "" for root objects.
func (r Ref) Namespace() string {
	ns, _, ok := strings.Cut(string(r), ":")
	if !ok {
		return ""
	}
	return ns
}

// Connection is a live link between a host object and an external engine or
// plugin, created as a side effect of loading content.
type Connection struct {
	ID    string
	Owner Ref
}

// ObjectInfo describes a loaded object for metadata extraction.
type ObjectInfo struct {
	Ref       Ref
	Type      string
	Parent    Ref
	Vertices  int
	Faces     int
	Materials []string
	Animated  bool
	TimeStart float64
	TimeEnd   float64
}

// ViewState is the part of the user's working state that is not the
// selection: current frame and active camera.
type ViewState struct {
	Frame  float64
	Camera string
}

// Host is the live authoring application the pipeline loads content into.
// Implementations are not expected to be safe for concurrent use; the
// pipeline calls them from a single worker.
type Host interface {
	// ImportContent loads the file under namespace and returns the refs it created.
	ImportContent(ctx context.Context, id Identity, namespace string) ([]Ref, error)
	// CaptureViewport renders the current framing offscreen.
	CaptureViewport(ctx context.Context, size Size) (image.Image, error)
	FrameObjects(refs []Ref) error

	Selection() ([]Ref, error)
	SetSelection(refs []Ref) error
	ViewState() (ViewState, error)
	RestoreViewState(state ViewState) error

	Locked(ref Ref) (bool, error)
	SetLocked(ref Ref, locked bool) error
	Connections(ref Ref) ([]Connection, error)
	Disconnect(conn Connection) error
	Describe(ref Ref) (ObjectInfo, error)

	Delete(ref Ref) error
	// ForceDelete removes the object and everything below it, ignoring locks
	// and incoming references.
	ForceDelete(ref Ref) error
	RemoveNamespace(name string) error
	RemoveNamespaceRecursive(name string) error
	// MergeNamespace moves every object of src into dst.
	MergeNamespace(src, dst string) error
	RefsUnderNamespace(name string) ([]Ref, error)
}
