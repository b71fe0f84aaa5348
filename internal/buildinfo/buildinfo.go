// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buildinfo holds release metadata set through ldflags:
//
//	go build -ldflags "-X github.com/tramlinehq/buildkansen/internal/buildinfo.Version=v0.3.0"
package buildinfo

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String is the one-line banner logged at start.
func String() string {
	return fmt.Sprintf("buildkansen %s (commit %s, built %s)", Version, Commit, BuildDate)
}
