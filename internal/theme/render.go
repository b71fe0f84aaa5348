// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package theme

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// JSON encodes the record with its keys in canonical order. Nested map keys are sorted.
func (c Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// WriteJS renders the record as a tailwind.config.js CommonJS module.
func (c Config) WriteJS(w io.Writer) error {
	bw := bufio.NewWriter(w)

	plugins := make([]string, len(c.Plugins))
	for i, p := range c.Plugins {
		plugins[i] = "require(" + strconv.Quote(p) + ")"
	}

	fmt.Fprintln(bw, "module.exports = {")
	fmt.Fprintf(bw, "    plugins: [%s],\n", strings.Join(plugins, ", "))
	fmt.Fprintf(bw, "    content: %s,\n", jsStrings(c.Content))
	fmt.Fprintf(bw, "    daisyui: {themes: %s},\n", jsStrings(c.DaisyUI.Themes))
	fmt.Fprintln(bw, "    theme: {")

	fmt.Fprintln(bw, "        fontFamily: {")
	for _, name := range sortedKeys(c.Theme.FontFamily) {
		fmt.Fprintf(bw, "            %s: %s,\n", strconv.Quote(name), jsStrings(c.Theme.FontFamily[name]))
	}
	fmt.Fprintln(bw, "        },")

	fmt.Fprintln(bw, "        extend: {")
	fmt.Fprintln(bw, "            fontSize: {")
	for _, token := range sortedKeys(c.Theme.Extend.FontSize) {
		fmt.Fprintf(bw, "                %s: %s,\n", strconv.Quote(token), strconv.Quote(c.Theme.Extend.FontSize[token]))
	}
	fmt.Fprintln(bw, "            },")
	fmt.Fprintln(bw, "        },")

	fmt.Fprintln(bw, "    },")
	fmt.Fprintln(bw, "}")

	return bw.Flush()
}

// WriteJSFile writes the CommonJS module to path, replacing any existing file.
func (c Config) WriteJSFile(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("theme: failed to create %s: %w", path, err)
	}
	if err = c.WriteJS(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("theme: failed to write %s: %w", path, err)
	}
	return f.Close()
}

func jsStrings(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
