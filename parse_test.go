package assetpreview

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseScene(t *testing.T) {
	nodes, err := ParseScene(strings.NewReader(rigScene))
	if err != nil {
		t.Fatalf("ParseScene() error = %v", err)
	}
	if len(nodes) != 5 {
		t.Fatalf("Parsed %d nodes, want 5", len(nodes))
	}

	body := nodes[1]
	want := SceneNode{
		Name:      "body",
		Type:      "mesh",
		Parent:    "root",
		Vertices:  1200,
		Faces:     1180,
		Materials: []string{"skin", "cloth"},
	}
	if !reflect.DeepEqual(body, want) {
		t.Errorf("body = %+v, want %+v", body, want)
	}

	arm := nodes[2]
	if !arm.Locked || !arm.Animated || arm.TimeStart != 1 || arm.TimeEnd != 48 {
		t.Errorf("arm_L = %+v, want locked and animated 1-48", arm)
	}
	if got := nodes[4].Connections; len(got) != 1 || got[0] != "renderEngine" {
		t.Errorf("cam connections = %v", got)
	}
	if nodes[0].Type != "transform" {
		t.Errorf("Default type = %q, want transform", nodes[0].Type)
	}
}

func TestParseScene_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{name: "Missing name", input: "node\n"},
		{name: "Bad vertex count", input: "node a verts=many\n"},
		{name: "Inverted range", input: "node a anim=10-1\n"},
		{name: "Unknown flag", input: "node a hidden\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseScene(strings.NewReader(tc.input)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	testCases := []struct {
		input      string
		start, end float64
		fails      bool
	}{
		{input: "1-48", start: 1, end: 48},
		{input: "-10-48", start: -10, end: 48},
		{input: "-20--5", start: -20, end: -5},
		{input: "0.5-12.25", start: 0.5, end: 12.25},
		{input: "1.-3", start: 1, end: 3},
		{input: "48", fails: true},
		{input: "-10", fails: true},
		{input: "10-1", fails: true},
		{input: "a-b", fails: true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			start, end, err := parseRange(tc.input)
			if tc.fails {
				if err == nil {
					t.Errorf("Expected an error, got %v-%v", start, end)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange() error = %v", err)
			}
			if start != tc.start || end != tc.end {
				t.Errorf("parseRange(%q) = %v, %v, want %v, %v", tc.input, start, end, tc.start, tc.end)
			}
		})
	}

	nodes, err := ParseScene(strings.NewReader("node arm anim=-10-48\n"))
	if err != nil {
		t.Fatalf("ParseScene() error = %v", err)
	}
	if !nodes[0].Animated || nodes[0].TimeStart != -10 {
		t.Errorf("arm = %+v, want animated from frame -10", nodes[0])
	}
}

func TestSummarizers(t *testing.T) {
	testCases := []struct {
		name  string
		fn    summarizer
		input string
		want  map[string]int
	}{
		{
			name:  "obj",
			fn:    summarizeOBJ,
			input: "o cube\nv 0 0 0\nv 1 0 0\nv 1 1 0\nf 1 2 3\n# comment\n",
			want:  map[string]int{"groups": 1, "vertices": 3, "faces": 1},
		},
		{
			name:  "ma",
			fn:    summarizeMayaASCII,
			input: "//Maya ASCII\ncreateNode transform -n \"a\";\ncreateNode mesh -n \"aShape\" -p \"a\";\nconnectAttr \"a.x\" \"b.y\";\n",
			want:  map[string]int{"nodes": 2, "connections": 1},
		},
		{
			name:  "ply",
			fn:    summarizePLY,
			input: "ply\nformat ascii 1.0\nelement vertex 8\nproperty float x\nelement face 6\nend_header\n0 0 0\n",
			want:  map[string]int{"vertices": 8, "faces": 6},
		},
		{
			name:  "scene",
			fn:    summarizeScene,
			input: rigScene,
			want:  map[string]int{"nodes": 5, "vertices": 1200, "faces": 1180},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("records = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSummarizePLY_Errors(t *testing.T) {
	for _, input := range []string{"not ply\n", "ply\nelement vertex 3\n", "ply\nelement vertex x\nend_header\n"} {
		if _, err := summarizePLY(strings.NewReader(input)); err == nil {
			t.Errorf("Expected an error for %q", input)
		}
	}
}

func TestSummarizeFile(t *testing.T) {
	cfg, memFs := testConfig(t)
	createTestFile(t, memFs, "/lib/rig_A.scene", []byte(rigScene))

	s, err := cfg.summarizeFile(Identity{Path: "/lib/rig_A.scene", Kind: "scene"})
	if err != nil {
		t.Fatalf("summarizeFile() error = %v", err)
	}
	if s.Complexity() != 5+1200+1180 {
		t.Errorf("Complexity = %d", s.Complexity())
	}

	if _, err := cfg.summarizeFile(Identity{Path: "/lib/rig.fbx", Kind: "fbx"}); !errors.Is(err, errNotParseable) {
		t.Errorf("Expected errNotParseable, got %v", err)
	}
	if _, err := cfg.summarizeFile(Identity{Path: "/lib/missing.obj", Kind: "obj"}); err == nil {
		t.Error("Expected an error for a missing file")
	}
	if !Parseable("ply") || Parseable("fbx") {
		t.Error("Parseable() reports the wrong kinds")
	}
}

func TestSummarizeFile_Limit(t *testing.T) {
	cfg, memFs := testConfig(t, WithSummaryLimit(64))
	var big strings.Builder
	for i := 0; i < 100; i++ {
		big.WriteString("v 0 0 0\n")
	}
	createTestFile(t, memFs, "/lib/big.obj", []byte(big.String()))
	createTestFile(t, memFs, "/lib/small.obj", []byte("v 0 0 0\nf 1 1 1\n"))

	s, err := cfg.summarizeFile(Identity{Path: "/lib/big.obj", Kind: "obj"})
	if err != nil {
		t.Fatalf("summarizeFile() error = %v", err)
	}
	if !s.Estimated {
		t.Error("Expected counts past the limit to be marked as estimates")
	}
	if got := s.Records["vertices"]; got == 0 || got >= 100 {
		t.Errorf("vertices = %d, want a partial count", got)
	}

	s, err = cfg.summarizeFile(Identity{Path: "/lib/small.obj", Kind: "obj"})
	if err != nil {
		t.Fatalf("summarizeFile() error = %v", err)
	}
	if s.Estimated || s.Records["vertices"] != 1 || s.Records["faces"] != 1 {
		t.Errorf("small file summary = %+v", s)
	}

	a, _ := cfg.resolveAsset("/lib/big.obj")
	if rec := cfg.extractBasic(a); rec.Fields["records_estimated"] != true {
		t.Errorf("basic record = %v, want records_estimated", rec.Fields)
	}
}
