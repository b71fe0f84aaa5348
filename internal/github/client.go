// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package github talks to the GitHub REST API on behalf of the buildkansen GitHub App.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v57/github"
)

// ErrNotConfigured is returned when the GitHub App credentials are missing.
var ErrNotConfigured = errors.New("github: app credentials are not configured")

// Installation is the subset of a GitHub App installation the service stores.
type Installation struct {
	ID               int64
	AccountID        int64
	AccountType      string
	AccountLogin     string
	AccountAvatarURL string
}

// Repository is a repository granted to an installation.
type Repository struct {
	ID         int64
	Name       string
	FullName   string
	Private    bool
	HTMLURL    string
	OwnerLogin string
}

// Client is the GitHub API surface scoped to one installation.
type Client interface {
	GetInstallation(ctx context.Context) (Installation, error)
	ListInstallationRepos(ctx context.Context) ([]Repository, error)
	CreateRegistrationToken(ctx context.Context, owner, repo string) (string, error)
}

// Factory hands out installation-scoped clients.
type Factory interface {
	ForInstallation(installationID int64) (Client, error)
}

// Option customises an AppFactory.
type Option func(*AppFactory)

// WithBaseURL points the clients at a GitHub Enterprise or test server.
func WithBaseURL(baseURL string) Option {
	return func(f *AppFactory) {
		f.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithTransport sets the round tripper underneath the app transports.
func WithTransport(tr http.RoundTripper) Option {
	return func(f *AppFactory) {
		f.transport = tr
	}
}

// AppFactory builds clients authenticated as the GitHub App.
// Clients are cached per installation so installation tokens are reused until they expire.
type AppFactory struct {
	appID     int64
	key       []byte
	baseURL   string
	transport http.RoundTripper

	mu      sync.Mutex
	clients map[int64]*AppClient
}

// NewAppFactory decodes the base64 encoded PEM private key of the app.
func NewAppFactory(appID int64, privateKeyBase64 string, opts ...Option) (*AppFactory, error) {
	if appID == 0 || privateKeyBase64 == "" {
		return nil, ErrNotConfigured
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(privateKeyBase64))
	if err != nil {
		return nil, fmt.Errorf("github: failed to decode private key: %w", err)
	}

	f := &AppFactory{
		appID:     appID,
		key:       key,
		transport: http.DefaultTransport,
		clients:   make(map[int64]*AppClient),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ForInstallation returns the cached client for the installation, creating it on first use.
func (f *AppFactory) ForInstallation(installationID int64) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[installationID]; ok {
		return c, nil
	}
	c, err := f.newClient(installationID)
	if err != nil {
		return nil, err
	}
	f.clients[installationID] = c
	return c, nil
}

func (f *AppFactory) newClient(installationID int64) (*AppClient, error) {
	appTransport, err := ghinstallation.NewAppsTransport(f.transport, f.appID, f.key)
	if err != nil {
		return nil, fmt.Errorf("github: failed to create app transport: %w", err)
	}
	installationTransport := ghinstallation.NewFromAppsTransport(appTransport, installationID)

	app := gh.NewClient(&http.Client{Transport: appTransport})
	inst := gh.NewClient(&http.Client{Transport: installationTransport})

	if f.baseURL != "" {
		base, errParse := url.Parse(f.baseURL + "/")
		if errParse != nil {
			return nil, fmt.Errorf("github: invalid base url %q: %w", f.baseURL, errParse)
		}
		appTransport.BaseURL = f.baseURL
		installationTransport.BaseURL = f.baseURL
		app.BaseURL = base
		inst.BaseURL = base
	}

	return &AppClient{installationID: installationID, app: app, installation: inst}, nil
}

// AppClient implements Client with a JWT client for app endpoints and an
// installation token client for repository endpoints.
type AppClient struct {
	installationID int64
	app            *gh.Client
	installation   *gh.Client
}

func (c *AppClient) GetInstallation(ctx context.Context) (Installation, error) {
	inst, _, err := c.app.Apps.GetInstallation(ctx, c.installationID)
	if err != nil {
		return Installation{}, fmt.Errorf("github: failed to get installation %d: %w", c.installationID, err)
	}
	account := inst.GetAccount()
	return Installation{
		ID:               inst.GetID(),
		AccountID:        account.GetID(),
		AccountType:      account.GetType(),
		AccountLogin:     account.GetLogin(),
		AccountAvatarURL: account.GetAvatarURL(),
	}, nil
}

// ListInstallationRepos follows pagination until every repository is listed.
func (c *AppClient) ListInstallationRepos(ctx context.Context) ([]Repository, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var out []Repository
	for {
		page, resp, err := c.installation.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("github: failed to list repositories of installation %d: %w", c.installationID, err)
		}
		for _, r := range page.Repositories {
			out = append(out, Repository{
				ID:         r.GetID(),
				Name:       r.GetName(),
				FullName:   r.GetFullName(),
				Private:    r.GetPrivate(),
				HTMLURL:    r.GetHTMLURL(),
				OwnerLogin: r.GetOwner().GetLogin(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateRegistrationToken returns a short-lived token for registering a self-hosted runner on the repository.
func (c *AppClient) CreateRegistrationToken(ctx context.Context, owner, repo string) (string, error) {
	token, _, err := c.installation.Actions.CreateRegistrationToken(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("github: failed to create registration token for %s/%s: %w", owner, repo, err)
	}
	if token.GetToken() == "" {
		return "", fmt.Errorf("github: empty registration token for %s/%s", owner, repo)
	}
	return token.GetToken(), nil
}

type unconfigured struct{}

func (unconfigured) ForInstallation(int64) (Client, error) { return nil, ErrNotConfigured }

// NewFactory returns an AppFactory, or a factory that always fails with
// ErrNotConfigured when the credentials are absent.
func NewFactory(appID int64, privateKeyBase64 string, opts ...Option) (Factory, error) {
	f, err := NewAppFactory(appID, privateKeyBase64, opts...)
	if errors.Is(err, ErrNotConfigured) {
		return unconfigured{}, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
