// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const dashboardRunLimit = 20

// UpsertUser inserts the user or refreshes its login, name and email.
func (s *Store) UpsertUser(ctx context.Context, u User) (User, error) {
	now := time.Now().UTC()
	query := s.rebind(`INSERT INTO users (id, login, name, email, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET login = excluded.login, name = excluded.name, email = excluded.email, updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Login, u.Name, nullString(u.Email), now, now); err != nil {
		return User{}, fmt.Errorf("store: failed to upsert user %d: %w", u.ID, err)
	}
	return s.FindUser(ctx, u.ID)
}

// FindUser loads a user by GitHub id.
func (s *Store) FindUser(ctx context.Context, id int64) (User, error) {
	var (
		u     User
		email sql.NullString
	)
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, login, name, email, created_at, updated_at FROM users WHERE id = ?`), id)
	if err := row.Scan(&u.ID, &u.Login, &u.Name, &email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, notFound(err)
	}
	u.Email = email.String
	return u, nil
}

// DestroyUser removes the user; installations, repositories and job runs cascade.
func (s *Store) DestroyUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store: failed to destroy user data: %w", err)
	}
	if n, errRows := res.RowsAffected(); errRows == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserData is everything the dashboard shows for one user.
type UserData struct {
	Installations []Installation
	Repositories  []Repository
	Runs          []WorkflowJobRun
}

// FetchUserData loads the user's installations and repositories together with the
// most recent job runs of each repository, newest first.
func (s *Store) FetchUserData(ctx context.Context, userID int64, now time.Time) (UserData, error) {
	data := UserData{
		Installations: []Installation{},
		Repositories:  []Repository{},
		Runs:          []WorkflowJobRun{},
	}

	installations, err := s.listInstallations(ctx, userID)
	if err != nil {
		return data, err
	}

	for i := range installations {
		repos, errRepos := s.listRepositories(ctx, installations[i].InternalID)
		if errRepos != nil {
			return data, errRepos
		}
		for j := range repos {
			runs, errRuns := s.listRecentRuns(ctx, repos[j].InternalID, dashboardRunLimit)
			if errRuns != nil {
				return data, errRuns
			}
			for k := range runs {
				runs[k].RepositoryFullName = repos[j].FullName
				runs[k].QueueDuration, runs[k].RunDuration = runs[k].Durations(now)
			}
			repos[j].WorkflowJobRuns = runs
			data.Runs = append(data.Runs, runs...)
		}
		installations[i].Repositories = repos
		data.Repositories = append(data.Repositories, repos...)
	}
	data.Installations = installations

	return data, nil
}

// HasInstallation reports whether the user already has an installation with at least one repository.
func (s *Store) HasInstallation(ctx context.Context, userID int64) (bool, error) {
	var n int64
	query := s.rebind(`SELECT COUNT(*) FROM repositories r
JOIN installations i ON i.internal_id = r.installation_id
WHERE i.user_id = ?`)
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("store: failed to count repositories: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
