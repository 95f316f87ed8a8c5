package assetpreview_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/gophersatwork/assetpreview"
	"github.com/gophersatwork/assetpreview/memhost"
)

const rigScene = `# rig_A
node root type=transform
node body type=mesh parent=root verts=1200 faces=1180 material=skin,cloth
node arm_L type=joint parent=root anim=1-48 locked
node arm_R type=joint parent=root anim=1-48 connect=ikSolver
node cam type=camera connect=renderEngine
`

const rigPath = "/lib/rig_A.scene"

// setupLibrary returns a filesystem holding rig_A.scene and a host whose
// user has one selected object of their own.
func setupLibrary(t *testing.T) (afero.Fs, *memhost.Host) {
	t.Helper()
	memFs := afero.NewMemMapFs()
	writeAsset(t, memFs, rigPath, rigScene)

	host := memhost.New(memFs)
	user := host.Seed("userCube", false)
	if err := host.SetSelection([]assetpreview.Ref{user}); err != nil {
		t.Fatalf("SetSelection() error = %v", err)
	}
	if err := host.RestoreViewState(assetpreview.ViewState{Frame: 10, Camera: "shotCam"}); err != nil {
		t.Fatalf("RestoreViewState() error = %v", err)
	}
	return memFs, host
}

func writeAsset(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func newTestPreviewer(t *testing.T, host assetpreview.Host, fs afero.Fs, options ...assetpreview.Option) *assetpreview.Previewer {
	t.Helper()
	options = append([]assetpreview.Option{assetpreview.WithFs(fs)}, options...)
	p, err := assetpreview.New(host, options...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func waitResult(t *testing.T, h *assetpreview.Handle) (assetpreview.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("Timed out waiting for a job")
	}
	return res, err
}

func mustResult(t *testing.T, h *assetpreview.Handle, err error) assetpreview.Result {
	t.Helper()
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	res, err := waitResult(t, h)
	if err != nil {
		t.Fatalf("job error = %v", err)
	}
	return res
}

func assertSize(t *testing.T, res assetpreview.Result, want assetpreview.Size) {
	t.Helper()
	if res.Image == nil {
		t.Fatalf("Expected an image")
	}
	if b := res.Image.Bounds(); b.Dx() != want.Width || b.Dy() != want.Height {
		t.Fatalf("Image size = %dx%d, want %s", b.Dx(), b.Dy(), want)
	}
}

func assertNoSessionLeft(t *testing.T, host *memhost.Host) {
	t.Helper()
	for _, ns := range host.ImportedNamespaces() {
		refs, err := host.RefsUnderNamespace(ns)
		if err != nil {
			t.Fatalf("RefsUnderNamespace() error = %v", err)
		}
		if len(refs) != 0 {
			t.Errorf("Namespace %s still holds %v", ns, refs)
		}
	}
}

// gateHost blocks every import until released, so tests can hold the host
// worker on one job.
type gateHost struct {
	*memhost.Host
	entered chan string
	release chan struct{}
}

func newGateHost(host *memhost.Host) *gateHost {
	return &gateHost{Host: host, entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gateHost) ImportContent(ctx context.Context, id assetpreview.Identity, namespace string) ([]assetpreview.Ref, error) {
	g.entered <- id.Path
	<-g.release
	return g.Host.ImportContent(ctx, id, namespace)
}

func (g *gateHost) waitEntered(t *testing.T) string {
	t.Helper()
	select {
	case path := <-g.entered:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for an import to start")
		return ""
	}
}
