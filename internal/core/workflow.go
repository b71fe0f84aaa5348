// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tramlinehq/buildkansen/internal/apperror"
	"github.com/tramlinehq/buildkansen/internal/github"
	"github.com/tramlinehq/buildkansen/internal/jobs"
	"github.com/tramlinehq/buildkansen/internal/metrics"
	"github.com/tramlinehq/buildkansen/internal/runner"
	"github.com/tramlinehq/buildkansen/internal/store"
)

// Outcomes of a handled job event.
const (
	OutcomeQueued    = "queued"
	OutcomeUpdated   = "updated"
	OutcomeCompleted = "completed"
	OutcomeIgnored   = "ignored"
)

// WorkflowStore is the persistence used by Workflow.
type WorkflowStore interface {
	FindInstallation(ctx context.Context, id int64) (store.Installation, error)
	FindInstallationByAccount(ctx context.Context, accountID int64) (store.Installation, error)
	FindRepositoryByInstallation(ctx context.Context, installationInternalID, repositoryID int64) (store.Repository, error)
	CreateWorkflowJobRun(ctx context.Context, run store.WorkflowJobRun) (store.WorkflowJobRun, error)
	ProcessWorkflowJobRun(ctx context.Context, id, repositoryID int64, status string) error
	CompleteWorkflowJobRun(ctx context.Context, id, repositoryID int64, status, conclusion string, endedAt time.Time) error
	FindVMByRunID(ctx context.Context, runID int64) (store.VM, error)
	FreeVMForRun(ctx context.Context, id, runID int64) error
	CreateVM(ctx context.Context, vm store.VM) (store.VM, error)
}

// Queue accepts jobs for dispatch.
type Queue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// Workflow reacts to workflow_job webhooks.
type Workflow struct {
	store     WorkflowStore
	queue     Queue
	executor  runner.Executor
	allowlist *Allowlist
}

// NewWorkflow wires Workflow.
func NewWorkflow(s WorkflowStore, queue Queue, executor runner.Executor, allowlist *Allowlist) *Workflow {
	return &Workflow{store: s, queue: queue, executor: executor, allowlist: allowlist}
}

// HandleJobEvent applies one workflow_job delivery and reports what happened.
// Errors are *apperror.AppError values.
func (w *Workflow) HandleJobEvent(ctx context.Context, ev *github.JobEvent) (string, error) {
	_, repo, err := w.validate(ctx, ev)
	if err != nil {
		return "", err
	}

	entry := log.WithFields(log.Fields{
		"action":     ev.Action,
		"job_id":     ev.JobID,
		"run_id":     ev.RunID,
		"repository": ev.OwnerLogin + "/" + ev.RepositoryName,
	})

	switch ev.Action {
	case github.ActionQueued:
		return w.queued(ctx, entry, ev, repo)
	case github.ActionInProgress:
		return w.inProgress(ctx, entry, ev, repo)
	case github.ActionCompleted:
		return w.completed(ctx, entry, ev, repo)
	default:
		entry.Debug("ignoring workflow job action")
		return OutcomeIgnored, nil
	}
}

// validate resolves the installation and repository the event belongs to.
func (w *Workflow) validate(ctx context.Context, ev *github.JobEvent) (store.Installation, store.Repository, error) {
	inst, err := w.store.FindInstallation(ctx, ev.InstallationID)
	if errors.Is(err, store.ErrNotFound) && ev.AccountID != 0 {
		inst, err = w.store.FindInstallationByAccount(ctx, ev.AccountID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Installation{}, store.Repository{}, apperror.NotFound("Failed to find an installation for this webhook", err)
		}
		return store.Installation{}, store.Repository{}, apperror.Internal("Failed to load the installation", err)
	}

	repo, err := w.store.FindRepositoryByInstallation(ctx, inst.InternalID, ev.RepositoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Installation{}, store.Repository{}, apperror.NotFound("Failed to find a repository for this webhook", err)
		}
		return store.Installation{}, store.Repository{}, apperror.Internal("Failed to load the repository", err)
	}
	return inst, repo, nil
}

func (w *Workflow) queued(ctx context.Context, entry *log.Entry, ev *github.JobEvent, repo store.Repository) (string, error) {
	label, ok := w.allowlist.Match(ev.Labels)
	if !ok {
		entry.WithField("labels", ev.Labels).Debug("no served runner label, ignoring")
		return OutcomeIgnored, nil
	}

	startedAt := ev.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := w.store.CreateWorkflowJobRun(ctx, store.WorkflowJobRun{
		ID:            ev.JobID,
		Name:          ev.JobName,
		URL:           ev.URL,
		WorkflowRunID: ev.RunID,
		WorkflowName:  ev.WorkflowName,
		Status:        ev.Status,
		RepositoryID:  repo.InternalID,
		StartedAt:     startedAt,
	})
	// GitHub redelivers webhooks; a job is recorded and enqueued once.
	if errors.Is(err, store.ErrDuplicate) {
		entry.Info("duplicate queued delivery, ignoring")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", apperror.Internal("Failed to record the workflow job", err)
	}

	repoURL := ev.RepositoryURL
	if repoURL == "" {
		repoURL = "https://github.com/" + repo.FullName
	}
	err = w.queue.Enqueue(ctx, jobs.Job{
		JobID:                ev.JobID,
		WorkflowRunID:        ev.RunID,
		InstallationID:       ev.InstallationID,
		OwnerLogin:           ev.OwnerLogin,
		RepositoryInternalID: repo.InternalID,
		RepositoryName:       repo.Name,
		RepositoryURL:        repoURL,
		RunnerLabel:          label,
	})
	if err != nil {
		return "", apperror.New(http.StatusServiceUnavailable, "Failed to enqueue the workflow job", err)
	}
	return OutcomeQueued, nil
}

func (w *Workflow) inProgress(ctx context.Context, entry *log.Entry, ev *github.JobEvent, repo store.Repository) (string, error) {
	err := w.store.ProcessWorkflowJobRun(ctx, ev.JobID, repo.InternalID, ev.Status)
	if errors.Is(err, store.ErrNotFound) {
		entry.Debug("job is not served here, ignoring")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", apperror.Internal("Failed to update the workflow job", err)
	}
	entry.Infof("workflow job is %s", ev.Status)
	return OutcomeUpdated, nil
}

func (w *Workflow) completed(ctx context.Context, entry *log.Entry, ev *github.JobEvent, repo store.Repository) (string, error) {
	endedAt := ev.CompletedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	err := w.store.CompleteWorkflowJobRun(ctx, ev.JobID, repo.InternalID, ev.Status, ev.Conclusion, endedAt)
	if errors.Is(err, store.ErrNotFound) {
		entry.Debug("job is not served here, ignoring")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", apperror.Internal("Failed to update the workflow job", err)
	}
	entry.WithField("conclusion", ev.Conclusion).Info("workflow job completed")

	vm, err := w.store.FindVMByRunID(ctx, ev.JobID)
	if errors.Is(err, store.ErrNotFound) {
		// Cancelled before a VM was bound; the worker skips it.
		entry.Info("no runner was bound to the job")
		return OutcomeCompleted, nil
	}
	if err != nil {
		return "", apperror.NotFound("No valid runner was found", err)
	}

	if err = w.release(ctx, vm); err != nil {
		return "", err
	}
	entry.WithField("vm_id", vm.ID).Info("runner VM released")
	return OutcomeCompleted, nil
}

// release purges the guest and returns the VM to the pool. The work outlives the
// webhook request so a disconnecting client cannot leave a half-purged VM behind.
func (w *Workflow) release(ctx context.Context, vm store.VM) error {
	ctx = context.WithoutCancel(ctx)

	if vm.InstanceName.Valid && vm.InstanceName.String != "" {
		started := time.Now()
		err := w.executor.Purge(ctx, vm.InstanceName.String)
		metrics.RecordScript("purge", time.Since(started).Seconds(), err)
		if err != nil {
			return apperror.Internal("Failed to purge the VM", err)
		}
	}
	err := w.store.FreeVMForRun(ctx, vm.ID, vm.ExternalRunID.Int64)
	if errors.Is(err, store.ErrNotFound) {
		// The worker gave the VM back when it saw the job had finished.
		return nil
	}
	if err != nil {
		return apperror.Internal("Failed to free the VM", err)
	}
	return nil
}

// RegisterVM adds a guest to the pool. The label must be one this service serves.
func (w *Workflow) RegisterVM(ctx context.Context, baseVMName, label, ipAddress string) (store.VM, error) {
	if baseVMName == "" || label == "" {
		return store.VM{}, apperror.New(http.StatusUnprocessableEntity, "base_vm_name and github_runner_label are required", nil)
	}
	if _, ok := w.allowlist.Match([]string{label}); !ok {
		return store.VM{}, apperror.New(http.StatusUnprocessableEntity, "Unknown runner label "+label, nil)
	}
	vm, err := w.store.CreateVM(ctx, store.VM{BaseVMName: baseVMName, GithubRunnerLabel: label, IPAddress: ipAddress})
	if err != nil {
		return store.VM{}, apperror.New(http.StatusUnprocessableEntity, "Could not create VM", err)
	}
	log.WithFields(log.Fields{"vm_id": vm.ID, "base": baseVMName, "label": label}).Info("VM registered")
	return vm, nil
}
