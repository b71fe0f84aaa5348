// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	prevVersion, prevCommit, prevDate := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = prevVersion, prevCommit, prevDate })

	assert.Equal(t, "buildkansen dev (commit none, built unknown)", String())

	Version, Commit, BuildDate = "v0.3.0", "abc123", "2026-10-01"
	assert.Equal(t, "buildkansen v0.3.0 (commit abc123, built 2026-10-01)", String())
}
