package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"docqa/internal/port"
)

var _ port.FileWalker = (*Walker)(nil)

// DefaultExcludes skips VCS metadata, dependency trees and the data directory.
var DefaultExcludes = []string{"**/.git/**", "**/node_modules/**", "**/.docqa/**"}

type Walker struct {
	includes []string
	excludes []string
}

// NewWalker matches relative paths against doublestar patterns. With no
// includes every file matches.
func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// IncludeExtensions turns a list like [".pdf", ".txt"] into include patterns.
func IncludeExtensions(exts []string) []string {
	patterns := make([]string, 0, len(exts))
	for _, ext := range exts {
		patterns = append(patterns, "**/*"+ext)
	}
	return patterns
}

// Walk returns matching files under root. A root that is a regular file is
// returned as-is, without pattern checks.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []port.FileInfo{{Path: root, ModTime: st.ModTime().Unix(), Size: st.Size()}}, nil
	}

	var files []port.FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.shouldInclude(relPath) || w.shouldExclude(relPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, port.FileInfo{
			Path:    path,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// WalkAll walks several roots and drops duplicate paths.
func (w *Walker) WalkAll(roots []string) ([]port.FileInfo, error) {
	seen := make(map[string]bool)
	var all []port.FileInfo
	for _, root := range roots {
		files, err := w.Walk(root)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			all = append(all, f)
		}
	}
	return all, nil
}

func (w *Walker) shouldInclude(path string) bool {
	return matchAny(w.includes, path, true)
}

func (w *Walker) shouldExclude(path string) bool {
	return matchAny(w.excludes, path, false)
}

// matchAny compares patterns case-insensitively when fold is set, so
// "**/*.pdf" also picks up REPORT.PDF.
func matchAny(patterns []string, path string, fold bool) bool {
	if fold {
		path = strings.ToLower(path)
	}
	for _, pattern := range patterns {
		if fold {
			pattern = strings.ToLower(pattern)
		}
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
