package assetpreview

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestMain(t *testing.M) {
	code := t.Run()

	os.Exit(code)
}

func fixedNowFunc() time.Time {
	return time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
}

const rigScene = `# rig_A
node root type=transform
node body type=mesh parent=root verts=1200 faces=1180 material=skin,cloth
node arm_L type=joint parent=root anim=1-48 locked
node arm_R type=joint parent=root anim=1-48 connect=ikSolver
node cam type=camera connect=renderEngine
`

// testConfig returns a config on a fresh in-memory filesystem.
func testConfig(t *testing.T, options ...Option) (*config, afero.Fs) {
	t.Helper()
	memFs := afero.NewMemMapFs()
	cfg := defaultConfig()
	cfg.fs = memFs
	cfg.nowFunc = fixedNowFunc
	for _, option := range options {
		option(cfg)
	}
	return cfg, cfg.fs
}

func createTestFile(t *testing.T, fs afero.Fs, path string, content []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
	if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

func assertImageSize(t *testing.T, img image.Image, want Size, context string) {
	t.Helper()

	if img == nil {
		t.Fatalf("Expected an image on %s, got nil", context)
	}
	b := img.Bounds()
	if b.Dx() != want.Width || b.Dy() != want.Height {
		t.Fatalf("Image size on %s = %dx%d, want %s", context, b.Dx(), b.Dy(), want)
	}
}

func solidImage(size Size, shade uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return img
}
