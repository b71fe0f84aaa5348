// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package githubtest provides an in-memory GitHub client for tests.
package githubtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tramlinehq/buildkansen/internal/github"
)

// Fake serves canned installations and records registration token requests.
type Fake struct {
	mu sync.Mutex

	Installations map[int64]github.Installation
	Repositories  map[int64][]github.Repository
	Token         string
	TokenErr      error
	// OnToken runs before a registration token is handed out.
	OnToken func(owner, repo string)

	TokenRequests []string
}

// NewFake returns an empty fake that issues the given registration token.
func NewFake(token string) *Fake {
	return &Fake{
		Installations: map[int64]github.Installation{},
		Repositories:  map[int64][]github.Repository{},
		Token:         token,
	}
}

// ForInstallation implements github.Factory.
func (f *Fake) ForInstallation(installationID int64) (github.Client, error) {
	return &client{fake: f, installationID: installationID}, nil
}

// Requests returns a copy of the "owner/repo" pairs tokens were requested for.
func (f *Fake) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.TokenRequests...)
}

type client struct {
	fake           *Fake
	installationID int64
}

func (c *client) GetInstallation(context.Context) (github.Installation, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	inst, ok := c.fake.Installations[c.installationID]
	if !ok {
		return github.Installation{}, fmt.Errorf("installation %d not found", c.installationID)
	}
	return inst, nil
}

func (c *client) ListInstallationRepos(context.Context) ([]github.Repository, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	return append([]github.Repository(nil), c.fake.Repositories[c.installationID]...), nil
}

func (c *client) CreateRegistrationToken(_ context.Context, owner, repo string) (string, error) {
	c.fake.mu.Lock()
	c.fake.TokenRequests = append(c.fake.TokenRequests, owner+"/"+repo)
	hook, token, err := c.fake.OnToken, c.fake.Token, c.fake.TokenErr
	c.fake.mu.Unlock()

	if hook != nil {
		hook(owner, repo)
	}
	if err != nil {
		return "", err
	}
	return token, nil
}
