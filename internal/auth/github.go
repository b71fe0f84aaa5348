// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package auth implements the GitHub OAuth sign-in used by the dashboard.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	gh "github.com/google/go-github/v57/github"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	githubOAuth "golang.org/x/oauth2/github"
)

// ErrStateMismatch is returned when the callback state does not match the one issued.
var ErrStateMismatch = errors.New("auth: oauth state mismatch")

// User is the GitHub identity returned by a completed sign-in.
type User struct {
	ID    int64
	Login string
	Name  string
	Email string
	// Installations are the GitHub App installations the user can access.
	Installations []int64
}

// CanAccessInstallation reports whether installationID is one of the user's installations.
func (u User) CanAccessInstallation(installationID int64) bool {
	return slices.Contains(u.Installations, installationID)
}

// Provider runs the OAuth authorization code flow against GitHub.
type Provider struct {
	conf       *oauth2.Config
	apiBaseURL string
}

// Option customises a Provider.
type Option func(*Provider)

// WithEndpoint replaces the GitHub OAuth endpoint, mainly for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(p *Provider) { p.conf.Endpoint = ep }
}

// WithAPIBaseURL replaces the REST API base url used to load the user.
func WithAPIBaseURL(u string) Option {
	return func(p *Provider) { p.apiBaseURL = strings.TrimSuffix(u, "/") + "/" }
}

// NewProvider builds a provider for the OAuth app credentials.
func NewProvider(clientID, clientSecret, redirectURL string, opts ...Option) *Provider {
	p := &Provider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     githubOAuth.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewState returns a random value for the state parameter.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AuthCodeURL is where the browser is sent to sign in.
func (p *Provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// Complete validates the returned state, exchanges the code and loads the signed-in user.
func (p *Provider) Complete(ctx context.Context, expectedState, state, code string) (User, error) {
	if expectedState == "" || state != expectedState {
		return User{}, ErrStateMismatch
	}
	if code == "" {
		return User{}, errors.New("auth: missing authorization code")
	}

	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return User{}, fmt.Errorf("auth: failed to exchange code: %w", err)
	}

	client := gh.NewClient(p.conf.Client(ctx, token))
	if p.apiBaseURL != "" {
		base, errParse := url.Parse(p.apiBaseURL)
		if errParse != nil {
			return User{}, fmt.Errorf("auth: invalid api base url: %w", errParse)
		}
		client.BaseURL = base
	}

	ghUser, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return User{}, fmt.Errorf("auth: failed to load user: %w", err)
	}

	user := User{
		ID:    ghUser.GetID(),
		Login: ghUser.GetLogin(),
		Name:  ghUser.GetName(),
		Email: ghUser.GetEmail(),
	}
	if user.Name == "" {
		user.Name = user.Login
	}
	// Users with a private email only expose it through the emails endpoint.
	if user.Email == "" {
		emails, _, errEmails := client.Users.ListEmails(ctx, nil)
		if errEmails == nil {
			for _, e := range emails {
				if e.GetPrimary() && e.GetVerified() {
					user.Email = e.GetEmail()
					break
				}
			}
		}
	}

	if user.Installations, err = listInstallations(ctx, client); err != nil {
		log.Warnf("could not list the installations of %s: %v", user.Login, err)
	}
	return user, nil
}

func listInstallations(ctx context.Context, client *gh.Client) ([]int64, error) {
	var ids []int64
	opts := &gh.ListOptions{PerPage: 100}
	for {
		page, resp, err := client.Apps.ListUserInstallations(ctx, opts)
		if err != nil {
			return ids, err
		}
		for _, inst := range page {
			ids = append(ids, inst.GetID())
		}
		if resp.NextPage == 0 {
			return ids, nil
		}
		opts.Page = resp.NextPage
	}
}

// InstallationURL points at the GitHub App installation page. path is the
// app's installation path on github.com, for example "apps/buildkansen/installations/new".
func InstallationURL(path, redirectURI, state string) string {
	u := &url.URL{
		Scheme: "https",
		Host:   "github.com",
		Path:   "/" + strings.TrimPrefix(path, "/"),
	}
	q := u.Query()
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	u.RawQuery = q.Encode()
	return u.String()
}
