// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import "sync/atomic"

// Allowlist holds the runs-on labels this service serves. It is swapped
// atomically when the configuration file is reloaded.
type Allowlist struct {
	labels atomic.Pointer[[]string]
}

// NewAllowlist returns an allowlist holding labels.
func NewAllowlist(labels []string) *Allowlist {
	a := &Allowlist{}
	a.Set(labels)
	return a
}

// Set replaces the labels.
func (a *Allowlist) Set(labels []string) {
	cp := append([]string(nil), labels...)
	a.labels.Store(&cp)
}

// Labels returns a copy of the current labels.
func (a *Allowlist) Labels() []string {
	p := a.labels.Load()
	if p == nil {
		return nil
	}
	return append([]string(nil), (*p)...)
}

// Match returns the first requested label that is allowed.
func (a *Allowlist) Match(requested []string) (string, bool) {
	p := a.labels.Load()
	if p == nil {
		return "", false
	}
	for _, label := range requested {
		for _, allowed := range *p {
			if label == allowed {
				return label, true
			}
		}
	}
	return "", false
}
