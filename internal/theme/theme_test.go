// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package theme

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Literals(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []string{"daisyui"}, cfg.Plugins)
	assert.Equal(t, []string{"./views/**/*.html"}, cfg.Content)
	assert.Equal(t, []string{"dim", "dracula"}, cfg.DaisyUI.Themes)
	assert.Equal(t, []string{"Avenir Next", "sans-serif"}, cfg.Theme.FontFamily["avenir"])
	assert.Equal(t, "10rem", cfg.Theme.Extend.FontSize["11xl"])
	assert.Len(t, cfg.Theme.Extend.FontSize, 1)
	require.NoError(t, cfg.Validate())
}

func TestDefault_ReturnsIndependentCopies(t *testing.T) {
	a := Default()
	a.DaisyUI.Themes[0] = "cupcake"
	a.Theme.FontFamily["avenir"][0] = "Comic Sans"
	a.Theme.Extend.FontSize["11xl"] = "1px"

	b := Default()
	assert.Equal(t, "dim", b.DaisyUI.Themes[0])
	assert.Equal(t, "Avenir Next", b.Theme.FontFamily["avenir"][0])
	assert.Equal(t, "10rem", b.Theme.Extend.FontSize["11xl"])
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{"plugins", "content", "daisyui", "theme"}, Keys())
}

func TestJSON_ExactTopLevelKeys(t *testing.T) {
	data, err := Default().JSON()
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 4)
	for _, k := range Keys() {
		assert.Contains(t, decoded, k)
	}

	// Key order in the encoded document follows the canonical order.
	text := string(data)
	last := -1
	for _, k := range Keys() {
		idx := strings.Index(text, `"`+k+`"`)
		require.GreaterOrEqual(t, idx, 0)
		assert.Greater(t, idx, last, "key %s out of order", k)
		last = idx
	}

	var themes struct {
		DaisyUI struct {
			Themes []string `json:"themes"`
		} `json:"daisyui"`
		Theme struct {
			FontFamily map[string][]string `json:"fontFamily"`
			Extend     struct {
				FontSize map[string]string `json:"fontSize"`
			} `json:"extend"`
		} `json:"theme"`
	}
	require.NoError(t, json.Unmarshal(data, &themes))
	assert.Equal(t, []string{"dim", "dracula"}, themes.DaisyUI.Themes)
	assert.Equal(t, []string{"Avenir Next", "sans-serif"}, themes.Theme.FontFamily["avenir"])
	assert.Equal(t, "10rem", themes.Theme.Extend.FontSize["11xl"])
}

func TestWriteJS(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().WriteJS(&buf))

	want := `module.exports = {
    plugins: [require("daisyui")],
    content: ["./views/**/*.html"],
    daisyui: {themes: ["dim", "dracula"]},
    theme: {
        fontFamily: {
            "avenir": ["Avenir Next", "sans-serif"],
        },
        extend: {
            fontSize: {
                "11xl": "10rem",
            },
        },
    },
}
`
	assert.Equal(t, want, buf.String())
}

func TestWriteJSFile_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.DaisyUI.Themes = nil

	err := cfg.WriteJSFile(filepath.Join(t.TempDir(), "tailwind.config.js"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daisyui.themes")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Config{
		Plugins: []string{" "},
		Content: []string{"./views/[*.html"},
		DaisyUI: DaisyUI{Themes: []string{"dim", "dim"}},
		Theme: Theme{
			FontFamily: map[string][]string{"mono": {}},
			Extend:     Extend{FontSize: map[string]string{"huge": "ten"}},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "plugins[0]")
	assert.Contains(t, msg, "content[0]")
	assert.Contains(t, msg, `duplicate theme "dim"`)
	assert.Contains(t, msg, "theme.fontFamily.mono")
	assert.Contains(t, msg, "theme.extend.fontSize.huge")
}

func TestValidate_StableOrder(t *testing.T) {
	cfg := Default()
	cfg.Theme.FontFamily = map[string][]string{"serif": {}, "avenir": {}, "mono": {}}
	cfg.Theme.Extend.FontSize = map[string]string{"9xl": "x", "11xl": "y", "10xl": "z"}

	want := strings.Join([]string{
		"theme.fontFamily.avenir: empty font stack",
		"theme.fontFamily.mono: empty font stack",
		"theme.fontFamily.serif: empty font stack",
		`theme.extend.fontSize.10xl: "z" is not a CSS length`,
		`theme.extend.fontSize.11xl: "y" is not a CSS length`,
		`theme.extend.fontSize.9xl: "x" is not a CSS length`,
	}, "\n")
	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		require.Error(t, err)
		assert.Equal(t, want, err.Error())
	}
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.yaml")
	content := `
daisyui:
  themes: ["night", "dim"]
theme:
  extend:
    fontSize:
      2xl: "1.5rem"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"daisyui"}, cfg.Plugins)
	assert.Equal(t, []string{"night", "dim"}, cfg.DaisyUI.Themes)
	assert.Equal(t, "night", cfg.DefaultTheme())
	assert.Equal(t, "1.5rem", cfg.Theme.Extend.FontSize["2xl"])
	assert.Equal(t, "10rem", cfg.Theme.Extend.FontSize["11xl"])
	assert.Equal(t, []string{"Avenir Next", "sans-serif"}, cfg.Theme.FontFamily["avenir"])
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daisyui:\n  themes: []\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestHasTheme(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.HasTheme("dim"))
	assert.True(t, cfg.HasTheme("dracula"))
	assert.False(t, cfg.HasTheme("cupcake"))
	assert.False(t, cfg.HasTheme(""))
	assert.Equal(t, "", Config{}.DefaultTheme())
}

func TestContentFiles(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"views/index.html":           "<html></html>",
		"views/partials/runs.html":   "<div></div>",
		"views/partials/deep/x.html": "<p></p>",
		"views/notes.txt":            "skip",
		"assets/app.css":             "body{}",
	}
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	got, err := Default().ContentFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"views/index.html",
		"views/partials/deep/x.html",
		"views/partials/runs.html",
	}, got)

	_, err = Default().ContentFiles(filepath.Join(root, "nope"))
	assert.Error(t, err)
}

func TestProperty_CloneIsIndependent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("mutating a clone never changes the source", prop.ForAll(
		func(themes []string, token, size string) bool {
			src := Default()
			src.DaisyUI.Themes = themes
			cp := src.Clone()

			for i := range cp.DaisyUI.Themes {
				cp.DaisyUI.Themes[i] = cp.DaisyUI.Themes[i] + "-x"
			}
			cp.Theme.Extend.FontSize[token] = size
			cp.Theme.FontFamily["avenir"][0] = "changed"

			for i, name := range themes {
				if src.DaisyUI.Themes[i] != name {
					return false
				}
			}
			return len(src.Theme.Extend.FontSize) == 1 &&
				src.Theme.Extend.FontSize["11xl"] == "10rem" &&
				src.Theme.FontFamily["avenir"][0] == "Avenir Next"
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
