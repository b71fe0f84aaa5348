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

const installationColumns = `internal_id, id, account_type, account_id, account_login, account_avatar_url, user_id, created_at, updated_at`

const repositoryColumns = `internal_id, id, name, full_name, private, installation_id, created_at, updated_at`

// SaveInstallation stores an installation and its repositories in one transaction.
// Re-running it for the same installation refreshes the stored rows.
func (s *Store) SaveInstallation(ctx context.Context, inst Installation, repos []Repository) (Installation, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := s.rebind(`INSERT INTO installations (id, account_type, account_id, account_login, account_avatar_url, user_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id, user_id) DO UPDATE SET account_type = excluded.account_type, account_id = excluded.account_id,
account_login = excluded.account_login, account_avatar_url = excluded.account_avatar_url, updated_at = excluded.updated_at
RETURNING internal_id`)
		row := tx.QueryRowContext(ctx, query, inst.ID, inst.AccountType, inst.AccountID, inst.AccountLogin, inst.AccountAvatarURL, inst.UserID, now, now)
		if err := row.Scan(&inst.InternalID); err != nil {
			return fmt.Errorf("store: failed to save the installation: %w", err)
		}

		inst.Repositories = make([]Repository, 0, len(repos))
		repoQuery := s.rebind(`INSERT INTO repositories (id, name, full_name, private, installation_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id, installation_id) DO UPDATE SET name = excluded.name, full_name = excluded.full_name,
private = excluded.private, updated_at = excluded.updated_at
RETURNING internal_id`)
		for _, repo := range repos {
			repo.InstallationID = inst.InternalID
			row = tx.QueryRowContext(ctx, repoQuery, repo.ID, repo.Name, repo.FullName, repo.Private, repo.InstallationID, now, now)
			if err := row.Scan(&repo.InternalID); err != nil {
				return fmt.Errorf("store: failed to save the repositories: %w", err)
			}
			inst.Repositories = append(inst.Repositories, repo)
		}
		return nil
	})
	if err != nil {
		return Installation{}, err
	}
	return inst, nil
}

// FindInstallation loads an installation by its GitHub id.
func (s *Store) FindInstallation(ctx context.Context, id int64) (Installation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+installationColumns+` FROM installations WHERE id = ? ORDER BY internal_id LIMIT 1`), id)
	return scanInstallation(row)
}

// FindInstallationByAccount loads the installation made on the given GitHub account.
func (s *Store) FindInstallationByAccount(ctx context.Context, accountID int64) (Installation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+installationColumns+` FROM installations WHERE account_id = ? ORDER BY internal_id LIMIT 1`), accountID)
	return scanInstallation(row)
}

// FindUserInstallation loads the installation only when it belongs to the user.
func (s *Store) FindUserInstallation(ctx context.Context, userID, id int64) (Installation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+installationColumns+` FROM installations WHERE user_id = ? AND id = ?`), userID, id)
	return scanInstallation(row)
}

// FindRepository loads a repository by its internal id.
func (s *Store) FindRepository(ctx context.Context, internalID int64) (Repository, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE internal_id = ?`), internalID)
	return scanRepository(row)
}

// FindRepositoryByInstallation loads the repository with the given GitHub id under an installation.
func (s *Store) FindRepositoryByInstallation(ctx context.Context, installationInternalID, repositoryID int64) (Repository, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE id = ? AND installation_id = ?`), repositoryID, installationInternalID)
	return scanRepository(row)
}

func (s *Store) listInstallations(ctx context.Context, userID int64) ([]Installation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+installationColumns+` FROM installations WHERE user_id = ? ORDER BY internal_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list installations: %w", err)
	}
	defer rows.Close()

	var out []Installation
	for rows.Next() {
		inst, errScan := scanInstallation(rows)
		if errScan != nil {
			return nil, errScan
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) listRepositories(ctx context.Context, installationInternalID int64) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE installation_id = ? ORDER BY full_name`), installationInternalID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list repositories: %w", err)
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		repo, errScan := scanRepository(rows)
		if errScan != nil {
			return nil, errScan
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstallation(sc scanner) (Installation, error) {
	var inst Installation
	err := sc.Scan(&inst.InternalID, &inst.ID, &inst.AccountType, &inst.AccountID, &inst.AccountLogin,
		&inst.AccountAvatarURL, &inst.UserID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return Installation{}, notFound(err)
	}
	return inst, nil
}

func scanRepository(sc scanner) (Repository, error) {
	var repo Repository
	err := sc.Scan(&repo.InternalID, &repo.ID, &repo.Name, &repo.FullName, &repo.Private,
		&repo.InstallationID, &repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		return Repository{}, notFound(err)
	}
	return repo, nil
}
