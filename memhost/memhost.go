// Package memhost is an in-memory assetpreview.Host. It imports .scene
// files into namespaced objects, renders a flat viewport, counts every call
// and lets tests inject failures per operation or per object.
package memhost

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	"github.com/gophersatwork/assetpreview"
)

// Op names a Host method for call counting and failure injection.
type Op string

const (
	OpImport                   Op = "ImportContent"
	OpCapture                  Op = "CaptureViewport"
	OpFrame                    Op = "FrameObjects"
	OpSelection                Op = "Selection"
	OpSetSelection             Op = "SetSelection"
	OpViewState                Op = "ViewState"
	OpRestoreViewState         Op = "RestoreViewState"
	OpLocked                   Op = "Locked"
	OpSetLocked                Op = "SetLocked"
	OpConnections              Op = "Connections"
	OpDisconnect               Op = "Disconnect"
	OpDescribe                 Op = "Describe"
	OpDelete                   Op = "Delete"
	OpForceDelete              Op = "ForceDelete"
	OpRemoveNamespace          Op = "RemoveNamespace"
	OpRemoveNamespaceRecursive Op = "RemoveNamespaceRecursive"
	OpMergeNamespace           Op = "MergeNamespace"
	OpRefsUnderNamespace       Op = "RefsUnderNamespace"
)

type object struct {
	info        assetpreview.ObjectInfo
	locked      bool
	connections map[string]assetpreview.Connection
	undeletable bool
}

// State is a comparable snapshot of the user-visible workspace.
type State struct {
	Objects   []assetpreview.Ref
	Locked    []assetpreview.Ref
	Selection []assetpreview.Ref
	View      assetpreview.ViewState
}

// Host is safe for concurrent use, although the pipeline never needs that.
type Host struct {
	fs afero.Fs

	mu         sync.Mutex
	objects    map[assetpreview.Ref]*object
	namespaces map[string]struct{}
	imported   map[string]struct{}
	selection  []assetpreview.Ref
	view       assetpreview.ViewState
	framed     []assetpreview.Ref
	calls      map[Op]int
	fail       map[Op]error
	failRef    map[Op]map[assetpreview.Ref]error
	partial    map[string]error
	connSeq    int
	viewAspect float64
}

// New returns an empty host reading asset files from fs.
func New(fs afero.Fs) *Host {
	return &Host{
		fs:         fs,
		objects:    make(map[assetpreview.Ref]*object),
		namespaces: make(map[string]struct{}),
		imported:   make(map[string]struct{}),
		view:       assetpreview.ViewState{Frame: 1, Camera: "persp"},
		calls:      make(map[Op]int),
		fail:       make(map[Op]error),
		failRef:    make(map[Op]map[assetpreview.Ref]error),
		partial:    make(map[string]error),
		viewAspect: 16.0 / 9.0,
	}
}

// Seed adds a root-namespace object standing for the user's own work.
func (h *Host) Seed(name string, locked bool) assetpreview.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := assetpreview.Ref(name)
	h.objects[ref] = &object{
		info:        assetpreview.ObjectInfo{Ref: ref, Type: "transform"},
		locked:      locked,
		connections: map[string]assetpreview.Connection{},
	}
	return ref
}

// Fail makes every call of op return err. A nil err clears the failure.
func (h *Host) Fail(op Op, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.fail, op)
		return
	}
	h.fail[op] = err
}

// FailRef makes op fail for one object. For OpDisconnect the ref is the
// connection owner.
func (h *Host) FailRef(op Op, ref assetpreview.Ref, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failRef[op] == nil {
		h.failRef[op] = make(map[assetpreview.Ref]error)
	}
	h.failRef[op][ref] = err
}

// FailImportAfterFirst makes imports of files named name create their first
// node and then fail with err.
func (h *Host) FailImportAfterFirst(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partial[name] = err
}

// Undeletable makes ref survive Delete, ForceDelete and recursive namespace removal.
func (h *Host) Undeletable(ref assetpreview.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if obj, ok := h.objects[ref]; ok {
		obj.undeletable = true
	}
}

// SetViewportAspect sets the width/height ratio of captured viewports.
func (h *Host) SetViewportAspect(aspect float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewAspect = aspect
}

// Calls returns how many times op was called.
func (h *Host) Calls(op Op) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[op]
}

// TotalCalls returns the number of calls of every operation.
func (h *Host) TotalCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.calls {
		total += n
	}
	return total
}

// ImportedNamespaces returns every namespace content was imported into.
func (h *Host) ImportedNamespaces() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.imported))
	for ns := range h.imported {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the current workspace state.
func (h *Host) Snapshot() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var s State
	for ref, obj := range h.objects {
		s.Objects = append(s.Objects, ref)
		if obj.locked {
			s.Locked = append(s.Locked, ref)
		}
	}
	sortRefs(s.Objects)
	sortRefs(s.Locked)
	s.Selection = append([]assetpreview.Ref(nil), h.selection...)
	s.View = h.view
	return s
}

// call counts op and returns the injected failure for it, if any.
// h.mu must be held.
func (h *Host) call(op Op, ref assetpreview.Ref) error {
	h.calls[op]++
	if err, ok := h.fail[op]; ok {
		return err
	}
	if err, ok := h.failRef[op][ref]; ok {
		return err
	}
	return nil
}

func notFound(ref assetpreview.Ref) error {
	return fmt.Errorf("%w: %s", assetpreview.ErrObjectNotFound, ref)
}

func (h *Host) ImportContent(ctx context.Context, id assetpreview.Identity, namespace string) ([]assetpreview.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpImport, ""); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id.Kind != "scene" {
		return nil, fmt.Errorf("no importer for .%s files", id.Kind)
	}

	f, err := h.fs.Open(id.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	nodes, err := assetpreview.ParseScene(f)
	if err != nil {
		return nil, err
	}

	h.namespaces[namespace] = struct{}{}
	h.imported[namespace] = struct{}{}
	var created []assetpreview.Ref
	for i, node := range nodes {
		if err, ok := h.partial[id.Name()]; ok && i == 1 {
			return created, err
		}
		ref := assetpreview.Ref(namespace + ":" + node.Name)
		obj := &object{
			info: assetpreview.ObjectInfo{
				Ref:       ref,
				Type:      node.Type,
				Vertices:  node.Vertices,
				Faces:     node.Faces,
				Materials: append([]string(nil), node.Materials...),
				Animated:  node.Animated,
				TimeStart: node.TimeStart,
				TimeEnd:   node.TimeEnd,
			},
			locked:      node.Locked,
			connections: map[string]assetpreview.Connection{},
		}
		if node.Parent != "" {
			obj.info.Parent = assetpreview.Ref(namespace + ":" + node.Parent)
		}
		for _, plugin := range node.Connections {
			h.connSeq++
			conn := assetpreview.Connection{ID: fmt.Sprintf("%s#%d", plugin, h.connSeq), Owner: ref}
			obj.connections[conn.ID] = conn
		}
		h.objects[ref] = obj
		created = append(created, ref)

		// Shading groups are created silently, as real importers do.
		for _, m := range node.Materials {
			sg := assetpreview.Ref(namespace + ":" + m + "SG")
			if _, ok := h.objects[sg]; !ok {
				h.objects[sg] = &object{
					info:        assetpreview.ObjectInfo{Ref: sg, Type: "shadingGroup"},
					connections: map[string]assetpreview.Connection{},
				}
			}
		}
	}

	// Importing selects the new content and jumps to its first frame.
	h.selection = append([]assetpreview.Ref(nil), created...)
	for _, node := range nodes {
		if node.Animated {
			h.view.Frame = node.TimeStart
			break
		}
	}
	return created, nil
}

func (h *Host) CaptureViewport(ctx context.Context, size assetpreview.Size) (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpCapture, ""); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(h.framed) == 0 {
		return nil, errors.New("nothing framed")
	}
	width := size.Width
	height := max(1, int(float64(width)/h.viewAspect))
	shade := uint8(0x40 + 0x10*min(len(h.framed), 12))
	img := imaging.New(width, height, color.NRGBA{R: shade, G: shade, B: 0xc0, A: 0xff})
	return img, nil
}

func (h *Host) FrameObjects(refs []assetpreview.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpFrame, ""); err != nil {
		return err
	}
	for _, ref := range refs {
		if _, ok := h.objects[ref]; !ok {
			return notFound(ref)
		}
	}
	h.framed = append([]assetpreview.Ref(nil), refs...)
	h.view.Camera = "framing"
	return nil
}

func (h *Host) Selection() ([]assetpreview.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpSelection, ""); err != nil {
		return nil, err
	}
	return append([]assetpreview.Ref(nil), h.selection...), nil
}

func (h *Host) SetSelection(refs []assetpreview.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpSetSelection, ""); err != nil {
		return err
	}
	h.selection = append([]assetpreview.Ref(nil), refs...)
	return nil
}

func (h *Host) ViewState() (assetpreview.ViewState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpViewState, ""); err != nil {
		return assetpreview.ViewState{}, err
	}
	return h.view, nil
}

func (h *Host) RestoreViewState(state assetpreview.ViewState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpRestoreViewState, ""); err != nil {
		return err
	}
	h.view = state
	return nil
}

func (h *Host) Locked(ref assetpreview.Ref) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpLocked, ref); err != nil {
		return false, err
	}
	obj, ok := h.objects[ref]
	if !ok {
		return false, notFound(ref)
	}
	return obj.locked, nil
}

func (h *Host) SetLocked(ref assetpreview.Ref, locked bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpSetLocked, ref); err != nil {
		return err
	}
	obj, ok := h.objects[ref]
	if !ok {
		return notFound(ref)
	}
	obj.locked = locked
	return nil
}

func (h *Host) Connections(ref assetpreview.Ref) ([]assetpreview.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpConnections, ref); err != nil {
		return nil, err
	}
	obj, ok := h.objects[ref]
	if !ok {
		return nil, notFound(ref)
	}
	out := make([]assetpreview.Connection, 0, len(obj.connections))
	for _, conn := range obj.connections {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *Host) Disconnect(conn assetpreview.Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpDisconnect, conn.Owner); err != nil {
		return err
	}
	obj, ok := h.objects[conn.Owner]
	if !ok {
		return notFound(conn.Owner)
	}
	if _, ok := obj.connections[conn.ID]; !ok {
		return fmt.Errorf("%w: connection %s", assetpreview.ErrObjectNotFound, conn.ID)
	}
	delete(obj.connections, conn.ID)
	return nil
}

func (h *Host) Describe(ref assetpreview.Ref) (assetpreview.ObjectInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpDescribe, ref); err != nil {
		return assetpreview.ObjectInfo{}, err
	}
	obj, ok := h.objects[ref]
	if !ok {
		return assetpreview.ObjectInfo{}, notFound(ref)
	}
	info := obj.info
	info.Materials = append([]string(nil), obj.info.Materials...)
	return info, nil
}

// Delete removes one object. It refuses locked objects, objects with live
// connections and objects with children.
func (h *Host) Delete(ref assetpreview.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpDelete, ref); err != nil {
		return err
	}
	obj, ok := h.objects[ref]
	if !ok {
		return notFound(ref)
	}
	switch {
	case obj.undeletable:
		return fmt.Errorf("%s is referenced by the scene graph", ref)
	case obj.locked:
		return fmt.Errorf("%s is locked", ref)
	case len(obj.connections) > 0:
		return fmt.Errorf("%s has %d live connection(s)", ref, len(obj.connections))
	case len(h.childrenLocked(ref)) > 0:
		return fmt.Errorf("%s has children", ref)
	}
	delete(h.objects, ref)
	h.dropSelected(ref)
	return nil
}

// ForceDelete removes the object and its descendants whatever their state.
func (h *Host) ForceDelete(ref assetpreview.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpForceDelete, ref); err != nil {
		return err
	}
	if _, ok := h.objects[ref]; !ok {
		return notFound(ref)
	}
	doomed := append([]assetpreview.Ref{ref}, h.descendantsLocked(ref)...)
	for _, r := range doomed {
		if h.objects[r].undeletable {
			return fmt.Errorf("%s is referenced by the scene graph", r)
		}
	}
	for _, r := range doomed {
		delete(h.objects, r)
		h.dropSelected(r)
	}
	return nil
}

func (h *Host) RemoveNamespace(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpRemoveNamespace, ""); err != nil {
		return err
	}
	if _, ok := h.namespaces[name]; !ok {
		return fmt.Errorf("%w: namespace %s", assetpreview.ErrObjectNotFound, name)
	}
	if n := len(h.refsLocked(name)); n > 0 {
		return fmt.Errorf("namespace %s is not empty (%d objects)", name, n)
	}
	delete(h.namespaces, name)
	return nil
}

func (h *Host) RemoveNamespaceRecursive(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpRemoveNamespaceRecursive, ""); err != nil {
		return err
	}
	refs := h.refsLocked(name)
	for _, ref := range refs {
		if h.objects[ref].undeletable {
			return fmt.Errorf("namespace %s holds %s, which cannot be removed", name, ref)
		}
	}
	for _, ref := range refs {
		delete(h.objects, ref)
		h.dropSelected(ref)
	}
	delete(h.namespaces, name)
	return nil
}

func (h *Host) MergeNamespace(src, dst string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpMergeNamespace, ""); err != nil {
		return err
	}
	// Incoming names already taken in dst get a numeric suffix.
	refs := h.refsLocked(src)
	renamed := make(map[assetpreview.Ref]assetpreview.Ref, len(refs))
	taken := make(map[assetpreview.Ref]bool, len(refs))
	for _, ref := range refs {
		base := dst + strings.TrimPrefix(string(ref), src)
		next := assetpreview.Ref(base)
		for n := 1; taken[next] || h.occupiedLocked(next, src); n++ {
			next = assetpreview.Ref(fmt.Sprintf("%s_%d", base, n))
		}
		taken[next] = true
		renamed[ref] = next
	}
	rename := func(ref assetpreview.Ref) assetpreview.Ref {
		if to, ok := renamed[ref]; ok {
			return to
		}
		return ref
	}
	for _, ref := range refs {
		obj := h.objects[ref]
		delete(h.objects, ref)
		obj.info.Ref = rename(ref)
		obj.info.Parent = rename(obj.info.Parent)
		for id, conn := range obj.connections {
			conn.Owner = obj.info.Ref
			obj.connections[id] = conn
		}
		h.objects[obj.info.Ref] = obj
	}
	h.namespaces[dst] = struct{}{}
	return nil
}

func (h *Host) RefsUnderNamespace(name string) ([]assetpreview.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.call(OpRefsUnderNamespace, ""); err != nil {
		return nil, err
	}
	return h.refsLocked(name), nil
}

func (h *Host) refsLocked(name string) []assetpreview.Ref {
	var out []assetpreview.Ref
	for ref := range h.objects {
		if ref.Namespace() == name {
			out = append(out, ref)
		}
	}
	sortRefs(out)
	return out
}

// occupiedLocked reports whether ref names an object outside the namespace
// being moved.
func (h *Host) occupiedLocked(ref assetpreview.Ref, moving string) bool {
	_, ok := h.objects[ref]
	return ok && ref.Namespace() != moving
}

func (h *Host) childrenLocked(ref assetpreview.Ref) []assetpreview.Ref {
	var out []assetpreview.Ref
	for r, obj := range h.objects {
		if obj.info.Parent == ref {
			out = append(out, r)
		}
	}
	return out
}

func (h *Host) descendantsLocked(ref assetpreview.Ref) []assetpreview.Ref {
	var out []assetpreview.Ref
	for _, child := range h.childrenLocked(ref) {
		out = append(out, child)
		out = append(out, h.descendantsLocked(child)...)
	}
	return out
}

func (h *Host) dropSelected(ref assetpreview.Ref) {
	for i, r := range h.selection {
		if r == ref {
			h.selection = append(h.selection[:i], h.selection[i+1:]...)
			return
		}
	}
}

func sortRefs(refs []assetpreview.Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
}

var _ assetpreview.Host = (*Host)(nil)
