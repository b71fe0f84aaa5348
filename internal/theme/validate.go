// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package theme

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var cssLength = regexp.MustCompile(`^(0|\d+(\.\d+)?|\.\d+)(rem|em|px|pt|%|vw|vh)$`)

// Validate checks that the record is well formed. It collects every problem
// instead of stopping at the first one.
func (c Config) Validate() error {
	var errs []error

	if len(c.Plugins) == 0 {
		errs = append(errs, errors.New("plugins: at least one plugin is required"))
	}
	for i, p := range c.Plugins {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: empty plugin reference", i))
		}
	}

	if len(c.Content) == 0 {
		errs = append(errs, errors.New("content: at least one glob pattern is required"))
	}
	for i, pattern := range c.Content {
		if _, err := compilePattern(pattern); err != nil {
			errs = append(errs, fmt.Errorf("content[%d]: %w", i, err))
		}
	}

	if len(c.DaisyUI.Themes) == 0 {
		errs = append(errs, errors.New("daisyui.themes: at least one theme is required"))
	}
	seen := make(map[string]struct{}, len(c.DaisyUI.Themes))
	for i, name := range c.DaisyUI.Themes {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("daisyui.themes[%d]: empty theme name", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("daisyui.themes[%d]: duplicate theme %q", i, name))
		}
		seen[name] = struct{}{}
	}

	for _, name := range sortedKeys(c.Theme.FontFamily) {
		if len(c.Theme.FontFamily[name]) == 0 {
			errs = append(errs, fmt.Errorf("theme.fontFamily.%s: empty font stack", name))
		}
	}

	for _, token := range sortedKeys(c.Theme.Extend.FontSize) {
		if size := c.Theme.Extend.FontSize[token]; !cssLength.MatchString(size) {
			errs = append(errs, fmt.Errorf("theme.extend.fontSize.%s: %q is not a CSS length", token, size))
		}
	}

	return errors.Join(errs...)
}
