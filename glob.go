package assetpreview

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FindAssets returns the files matching pattern, sorted. Besides the
// filepath.Match syntax, a "**" segment matches any number of directories:
// "library/**/*.scene" finds every scene file below library.
func FindAssets(fs afero.Fs, pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		matches, err := afero.Glob(fs, pattern)
		if err != nil {
			return nil, err
		}
		files := matches[:0]
		for _, m := range matches {
			if info, err := fs.Stat(m); err == nil && !info.IsDir() {
				files = append(files, m)
			}
		}
		return files, nil
	}

	root := filepath.Dir(strings.SplitN(pattern, "**", 2)[0] + "x")
	if exists, err := afero.DirExists(fs, root); err != nil || !exists {
		return nil, err
	}

	var matches []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && matchSegments(strings.Split(filepath.ToSlash(path), "/"), strings.Split(filepath.ToSlash(pattern), "/")) {
			matches = append(matches, path)
		}
		return nil
	})
	sort.Strings(matches)
	return matches, err
}

// matchSegments matches path segments against pattern segments, where "**"
// consumes zero or more path segments.
func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(path); i++ {
			if matchSegments(path[i:], pattern[1:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if ok, err := filepath.Match(pattern[0], path[0]); err != nil || !ok {
		return false
	}
	return matchSegments(path[1:], pattern[1:])
}
