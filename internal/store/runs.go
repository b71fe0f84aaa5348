// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = `internal_id, id, name, url, workflow_run_id, workflow_name, status, conclusion, repository_id,
created_at, updated_at, started_at, kickoff_at, processing_at, ended_at`

// CreateWorkflowJobRun records a queued job. A job already recorded for the
// repository yields ErrDuplicate.
func (s *Store) CreateWorkflowJobRun(ctx context.Context, run WorkflowJobRun) (WorkflowJobRun, error) {
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	query := s.rebind(`INSERT INTO workflow_job_runs (id, name, url, workflow_run_id, workflow_name, status, repository_id, created_at, updated_at, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id, repository_id) DO NOTHING
RETURNING internal_id`)
	row := s.db.QueryRowContext(ctx, query, run.ID, run.Name, run.URL, run.WorkflowRunID, run.WorkflowName,
		run.Status, run.RepositoryID, now, now, run.StartedAt.UTC())
	err := row.Scan(&run.InternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowJobRun{}, ErrDuplicate
	}
	if err != nil {
		return WorkflowJobRun{}, fmt.Errorf("store: failed to create workflow job run %d: %w", run.ID, err)
	}
	return run, nil
}

// KickoffWorkflowJobRun stamps the moment the runner script was started.
func (s *Store) KickoffWorkflowJobRun(ctx context.Context, id, repositoryID int64) error {
	now := time.Now().UTC()
	return s.updateRun(ctx, `kickoff_at = ?, updated_at = ?`, id, repositoryID, now, now)
}

// ProcessWorkflowJobRun marks the job as picked up by the runner.
func (s *Store) ProcessWorkflowJobRun(ctx context.Context, id, repositoryID int64, status string) error {
	now := time.Now().UTC()
	return s.updateRun(ctx, `processing_at = ?, status = ?, updated_at = ?`, id, repositoryID, now, status, now)
}

// CompleteWorkflowJobRun stores the final status. An empty conclusion is stored as NULL.
func (s *Store) CompleteWorkflowJobRun(ctx context.Context, id, repositoryID int64, status, conclusion string, endedAt time.Time) error {
	return s.updateRun(ctx, `status = ?, conclusion = ?, ended_at = ?, updated_at = ?`, id, repositoryID,
		status, nullString(conclusion), endedAt.UTC(), time.Now().UTC())
}

func (s *Store) updateRun(ctx context.Context, set string, id, repositoryID int64, args ...any) error {
	query := s.rebind(`UPDATE workflow_job_runs SET ` + set + ` WHERE id = ? AND repository_id = ?`)
	args = append(args, id, repositoryID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: could not update workflow job %d: %w", id, err)
	}
	if n, errRows := res.RowsAffected(); errRows == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindWorkflowJobRun loads a job run by GitHub job id within a repository.
func (s *Store) FindWorkflowJobRun(ctx context.Context, id, repositoryID int64) (WorkflowJobRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM workflow_job_runs WHERE id = ? AND repository_id = ?`), id, repositoryID)
	return scanRun(row)
}

func (s *Store) listRecentRuns(ctx context.Context, repositoryID int64, limit int) ([]WorkflowJobRun, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+runColumns+` FROM workflow_job_runs WHERE repository_id = ? ORDER BY created_at DESC, internal_id DESC LIMIT ?`), repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list workflow job runs: %w", err)
	}
	defer rows.Close()

	out := []WorkflowJobRun{}
	for rows.Next() {
		run, errScan := scanRun(rows)
		if errScan != nil {
			return nil, errScan
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(sc scanner) (WorkflowJobRun, error) {
	var run WorkflowJobRun
	err := sc.Scan(&run.InternalID, &run.ID, &run.Name, &run.URL, &run.WorkflowRunID, &run.WorkflowName,
		&run.Status, &run.Conclusion, &run.RepositoryID, &run.CreatedAt, &run.UpdatedAt, &run.StartedAt,
		&run.KickoffAt, &run.ProcessingAt, &run.EndedAt)
	if err != nil {
		return WorkflowJobRun{}, notFound(err)
	}
	return run, nil
}
