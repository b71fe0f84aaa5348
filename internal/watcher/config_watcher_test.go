// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramlinehq/buildkansen/internal/config"
)

type recorder struct {
	mu      sync.Mutex
	configs []*config.Config
}

func (r *recorder) record(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

func (r *recorder) last() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func TestConfigWatcher_ReloadsLabels(t *testing.T) {
	t.Setenv("RUNNER_LABELS", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runners:\n  labels: [tramline-macos-sonoma-md]\n"), 0o644))

	rec := &recorder{}
	w := NewConfigWatcher(path, rec.record)
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(path, []byte("runners:\n  labels: [tramline-macos-sonoma-md, tramline-macos-sonoma-xl]\n"), 0o644))

	require.Eventually(t, func() bool {
		cfg := rec.last()
		return cfg != nil && len(cfg.Runners.Labels) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"tramline-macos-sonoma-md", "tramline-macos-sonoma-xl"}, rec.last().Runners.Labels)
}

func TestConfigWatcher_SkipsInvalidFilesAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8081\n"), 0o644))

	rec := &recorder{}
	w := NewConfigWatcher(path, rec.record)
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("port: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("port: [not a number\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Nil(t, rec.last())
}

func TestConfigWatcher_StartMissingDirectory(t *testing.T) {
	w := NewConfigWatcher(filepath.Join(t.TempDir(), "missing", "config.yaml"), func(*config.Config) {})
	assert.Error(t, w.Start())
	w.Stop()
}
