// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package core holds the account setup and workflow job orchestration of buildkansen.
package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tramlinehq/buildkansen/internal/apperror"
	"github.com/tramlinehq/buildkansen/internal/auth"
	"github.com/tramlinehq/buildkansen/internal/github"
	"github.com/tramlinehq/buildkansen/internal/store"
)

// AccountStore is the persistence used by Setup.
type AccountStore interface {
	UpsertUser(ctx context.Context, u store.User) (store.User, error)
	FindUser(ctx context.Context, id int64) (store.User, error)
	DestroyUser(ctx context.Context, id int64) error
	SaveInstallation(ctx context.Context, inst store.Installation, repos []store.Repository) (store.Installation, error)
	FindUserInstallation(ctx context.Context, userID, id int64) (store.Installation, error)
	HasInstallation(ctx context.Context, userID int64) (bool, error)
	FetchUserData(ctx context.Context, userID int64, now time.Time) (store.UserData, error)
}

// Setup manages users and their GitHub App installations.
type Setup struct {
	store  AccountStore
	github github.Factory
}

// NewSetup wires Setup.
func NewSetup(s AccountStore, factory github.Factory) *Setup {
	return &Setup{store: s, github: factory}
}

// CreateOrUpdateUser stores the signed-in GitHub user.
func (s *Setup) CreateOrUpdateUser(ctx context.Context, u auth.User) (store.User, error) {
	user, err := s.store.UpsertUser(ctx, store.User{ID: u.ID, Login: u.Login, Name: u.Name, Email: u.Email})
	if err != nil {
		return store.User{}, apperror.Internal("Failed to create/update the user", err)
	}
	return user, nil
}

// FindUser loads the user behind a session.
func (s *Setup) FindUser(ctx context.Context, id int64) (store.User, error) {
	user, err := s.store.FindUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, apperror.NotFound("User not found", err)
	}
	if err != nil {
		return store.User{}, apperror.Internal("Failed to load the user", err)
	}
	return user, nil
}

// CreateInstallation pulls the installation and its repositories from GitHub and
// stores them for the user. Running it again refreshes the repository list.
func (s *Setup) CreateInstallation(ctx context.Context, userID, installationID int64) (store.Installation, error) {
	client, err := s.github.ForInstallation(installationID)
	if err != nil {
		return store.Installation{}, apperror.Internal("Failed to create a GitHub client", err)
	}

	ghInstallation, err := client.GetInstallation(ctx)
	if err != nil {
		return store.Installation{}, apperror.New(http.StatusBadGateway, "Failed to fetch the installation from GitHub", err)
	}
	ghRepos, err := client.ListInstallationRepos(ctx)
	if err != nil {
		return store.Installation{}, apperror.New(http.StatusBadGateway, "Failed to fetch the repositories from GitHub", err)
	}

	repos := make([]store.Repository, 0, len(ghRepos))
	for _, r := range ghRepos {
		repos = append(repos, store.Repository{ID: r.ID, Name: r.Name, FullName: r.FullName, Private: r.Private})
	}

	inst, err := s.store.SaveInstallation(ctx, store.Installation{
		ID:               ghInstallation.ID,
		AccountType:      ghInstallation.AccountType,
		AccountID:        ghInstallation.AccountID,
		AccountLogin:     ghInstallation.AccountLogin,
		AccountAvatarURL: ghInstallation.AccountAvatarURL,
		UserID:           userID,
	}, repos)
	if err != nil {
		return store.Installation{}, apperror.Internal("Failed to save the installation", err)
	}

	log.WithFields(log.Fields{
		"user_id":         userID,
		"installation_id": inst.ID,
		"repositories":    len(inst.Repositories),
	}).Info("installation saved")
	return inst, nil
}

// HasInstallation reports whether the installation already belongs to the user.
func (s *Setup) HasInstallation(ctx context.Context, userID, installationID int64) bool {
	_, err := s.store.FindUserInstallation(ctx, userID, installationID)
	return err == nil
}

// HasUserAlreadyInstalled reports whether the user has an installation with repositories.
func (s *Setup) HasUserAlreadyInstalled(ctx context.Context, userID int64) bool {
	ok, err := s.store.HasInstallation(ctx, userID)
	if err != nil {
		log.Errorf("could not check installations of user %d: %v", userID, err)
		return false
	}
	return ok
}

// Dashboard loads everything the home page shows for the user.
func (s *Setup) Dashboard(ctx context.Context, userID int64) (store.UserData, error) {
	data, err := s.store.FetchUserData(ctx, userID, time.Now().UTC())
	if err != nil {
		return data, apperror.Internal("Failed to load the dashboard", err)
	}
	return data, nil
}

// DestroyAccount deletes the user together with installations, repositories and job runs.
func (s *Setup) DestroyAccount(ctx context.Context, userID int64) error {
	err := s.store.DestroyUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NotFound("User not found", err)
	}
	if err != nil {
		return apperror.Internal("Failed to destroy the account", err)
	}
	log.WithField("user_id", userID).Info("account destroyed")
	return nil
}
