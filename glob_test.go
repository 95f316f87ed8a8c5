package assetpreview

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func TestFindAssets(t *testing.T) {
	memFs := afero.NewMemMapFs()
	for _, path := range []string{
		"/lib/rig_A.scene",
		"/lib/rig_B.scene",
		"/lib/props/chair.obj",
		"/lib/props/deep/lamp.scene",
		"/lib/notes.txt",
	} {
		createTestFile(t, memFs, path, []byte("x"))
	}

	testCases := []struct {
		pattern string
		want    []string
	}{
		{pattern: "/lib/*.scene", want: []string{"/lib/rig_A.scene", "/lib/rig_B.scene"}},
		{pattern: "/lib/**/*.scene", want: []string{"/lib/props/deep/lamp.scene", "/lib/rig_A.scene", "/lib/rig_B.scene"}},
		{pattern: "/lib/**/chair.obj", want: []string{"/lib/props/chair.obj"}},
		{pattern: "/lib/*", want: []string{"/lib/notes.txt", "/lib/rig_A.scene", "/lib/rig_B.scene"}},
		{pattern: "/missing/**/*.scene", want: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.pattern, func(t *testing.T) {
			got, err := FindAssets(memFs, tc.pattern)
			if err != nil {
				t.Fatalf("FindAssets() error = %v", err)
			}
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("FindAssets(%q) = %v, want %v", tc.pattern, got, tc.want)
			}
		})
	}
}
