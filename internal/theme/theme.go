// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package theme describes the stylesheet build configuration of the dashboard.
// The record mirrors the shape expected by the Tailwind CSS build tool with the
// daisyUI plugin: plugins, content-scanning paths, daisyUI theme names and the
// font/size token overrides. The Go side only describes and emits this data;
// CSS generation, class scanning and purging happen in the external tool.
package theme

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level build configuration record.
type Config struct {
	// Plugins lists plugin references in load order.
	Plugins []string `yaml:"plugins" json:"plugins"`

	// Content holds glob patterns of the source files scanned for utility classes.
	Content []string `yaml:"content" json:"content"`

	// DaisyUI configures the theming plugin.
	DaisyUI DaisyUI `yaml:"daisyui" json:"daisyui"`

	// Theme carries font and size token overrides.
	Theme Theme `yaml:"theme" json:"theme"`
}

// DaisyUI holds the theming plugin settings.
type DaisyUI struct {
	// Themes is the ordered list of theme names. The first one is the default.
	Themes []string `yaml:"themes" json:"themes"`
}

// Theme maps logical token names to concrete CSS values.
type Theme struct {
	FontFamily map[string][]string `yaml:"fontFamily" json:"fontFamily"`
	Extend     Extend              `yaml:"extend" json:"extend"`
}

// Extend holds tokens that are merged into the tool's defaults instead of replacing them.
type Extend struct {
	FontSize map[string]string `yaml:"fontSize" json:"fontSize"`
}

// Default returns the canonical build configuration. Every call returns a fresh copy.
func Default() Config {
	return Config{
		Plugins: []string{"daisyui"},
		Content: []string{"./views/**/*.html"},
		DaisyUI: DaisyUI{
			Themes: []string{"dim", "dracula"},
		},
		Theme: Theme{
			FontFamily: map[string][]string{
				"avenir": {"Avenir Next", "sans-serif"},
			},
			Extend: Extend{
				FontSize: map[string]string{
					"11xl": "10rem",
				},
			},
		},
	}
}

// Keys returns the top-level keys of the record in their canonical order.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		keys = append(keys, name)
	}
	return keys
}

// Load reads a YAML override file. Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("theme: failed to read %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("theme: failed to parse %s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HasTheme reports whether name is one of the configured daisyUI themes.
func (c Config) HasTheme(name string) bool {
	for _, t := range c.DaisyUI.Themes {
		if t == name {
			return true
		}
	}
	return false
}

// DefaultTheme returns the first configured theme, or an empty string if none is set.
func (c Config) DefaultTheme() string {
	if len(c.DaisyUI.Themes) == 0 {
		return ""
	}
	return c.DaisyUI.Themes[0]
}

// Clone returns a deep copy of the record.
func (c Config) Clone() Config {
	out := Config{
		Plugins: append([]string(nil), c.Plugins...),
		Content: append([]string(nil), c.Content...),
		DaisyUI: DaisyUI{Themes: append([]string(nil), c.DaisyUI.Themes...)},
	}
	if c.Theme.FontFamily != nil {
		out.Theme.FontFamily = make(map[string][]string, len(c.Theme.FontFamily))
		for k, v := range c.Theme.FontFamily {
			out.Theme.FontFamily[k] = append([]string(nil), v...)
		}
	}
	if c.Theme.Extend.FontSize != nil {
		out.Theme.Extend.FontSize = make(map[string]string, len(c.Theme.Extend.FontSize))
		for k, v := range c.Theme.Extend.FontSize {
			out.Theme.Extend.FontSize[k] = v
		}
	}
	return out
}
