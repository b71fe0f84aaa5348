// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package theme

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// pattern is a compiled content glob. A "**/" segment may match zero directories,
// so one source pattern can expand into several matchers.
type pattern []glob.Glob

func (p pattern) Match(path string) bool {
	for _, g := range p {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func compilePattern(src string) (pattern, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty glob pattern")
	}
	src = strings.TrimPrefix(filepath.ToSlash(src), "./")

	var out pattern
	for _, variant := range expandGlobstar(src) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", src, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func expandGlobstar(src string) []string {
	idx := strings.Index(src, "**/")
	if idx < 0 {
		return []string{src}
	}
	head := src[:idx]
	var out []string
	for _, rest := range expandGlobstar(src[idx+3:]) {
		out = append(out, head+"**/"+rest, head+rest)
	}
	return out
}

// ContentFiles walks root and returns the slash-separated relative paths of the
// files matched by the content globs, in lexical order.
func (c Config) ContentFiles(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("theme: failed to scan %s: %w", root, err)
	}
	return c.MatchFS(os.DirFS(root))
}

// MatchFS returns the files of fsys matched by the content globs, in lexical order.
func (c Config) MatchFS(fsys fs.FS) ([]string, error) {
	patterns := make([]pattern, 0, len(c.Content))
	for _, src := range c.Content {
		p, err := compilePattern(src)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	var files []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, p := range patterns {
			if p.Match(path) {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("theme: failed to scan embedded files: %w", err)
	}
	return files, nil
}
