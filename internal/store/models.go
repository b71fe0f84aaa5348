// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"database/sql"
	"time"
)

// User is a GitHub account that signed in to the dashboard. ID is the GitHub user id.
type User struct {
	ID            int64
	Login         string
	Name          string
	Email         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Installations []Installation
}

// Installation is a GitHub App installation owned by a user.
type Installation struct {
	InternalID       int64
	ID               int64
	AccountType      string
	AccountID        int64
	AccountLogin     string
	AccountAvatarURL string
	UserID           int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Repositories     []Repository
}

// Repository is a repository the installation grants access to.
type Repository struct {
	InternalID      int64
	ID              int64
	Name            string
	FullName        string
	Private         bool
	InstallationID  int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	WorkflowJobRuns []WorkflowJobRun
}

// WorkflowJobRun tracks one GitHub Actions job routed to a runner VM.
type WorkflowJobRun struct {
	InternalID    int64
	ID            int64
	Name          string
	URL           string
	WorkflowRunID int64
	WorkflowName  string
	Status        string
	Conclusion    sql.NullString
	RepositoryID  int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     time.Time
	KickoffAt     sql.NullTime
	ProcessingAt  sql.NullTime
	EndedAt       sql.NullTime

	// Derived fields, not persisted.
	RepositoryFullName string
	QueueDuration      time.Duration
	RunDuration        time.Duration
}

// Durations computes how long the job waited for a runner and how long it has been running.
// Jobs that never started processing have been queued since StartedAt; running jobs are
// measured against now.
func (r WorkflowJobRun) Durations(now time.Time) (queue, run time.Duration) {
	if !r.ProcessingAt.Valid {
		return now.Sub(r.StartedAt), 0
	}
	processingAt := r.ProcessingAt.Time
	queue = processingAt.Sub(r.StartedAt)
	if r.EndedAt.Valid {
		run = r.EndedAt.Time.Sub(processingAt)
	} else {
		run = now.Sub(processingAt)
	}
	return queue, run
}

// VMStatus is the lifecycle state of a runner VM.
type VMStatus string

const (
	VMAvailable  VMStatus = "available"
	VMProcessing VMStatus = "processing"
)

// VM is a macOS guest that can be bound to one workflow job at a time.
type VM struct {
	ID                int64
	IPAddress         string
	InstanceName      sql.NullString
	BaseVMName        string
	GithubRunnerLabel string
	ExternalRunID     sql.NullInt64
	RepositoryID      sql.NullInt64
	Status            VMStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
