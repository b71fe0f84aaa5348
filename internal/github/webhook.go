// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package github

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"
)

// Workflow job actions delivered by the workflow_job webhook.
const (
	ActionQueued     = "queued"
	ActionInProgress = "in_progress"
	ActionCompleted  = "completed"
)

// ErrUnhandledEvent marks deliveries that are valid but not workflow job events.
var ErrUnhandledEvent = errors.New("github: unhandled webhook event")

// JobEvent is a workflow_job delivery flattened to what the scheduler needs.
type JobEvent struct {
	Action         string
	InstallationID int64
	AccountID      int64
	OwnerLogin     string
	RepositoryID   int64
	RepositoryName string
	RepositoryURL  string

	JobID        int64
	RunID        int64
	JobName      string
	WorkflowName string
	Status       string
	Conclusion   string
	URL          string
	Labels       []string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// ParseJobEvent reads a webhook delivery. When secret is non-empty the
// X-Hub-Signature-256 header must match the body.
func ParseJobEvent(r *http.Request, secret []byte) (*JobEvent, error) {
	payload, err := gh.ValidatePayload(r, secret)
	if err != nil {
		return nil, fmt.Errorf("github: invalid webhook payload: %w", err)
	}

	eventType := gh.WebHookType(r)
	if eventType != "workflow_job" {
		return nil, fmt.Errorf("%w: %q", ErrUnhandledEvent, eventType)
	}

	raw, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("github: failed to parse %s event: %w", eventType, err)
	}
	event, ok := raw.(*gh.WorkflowJobEvent)
	if !ok || event.GetWorkflowJob().GetID() == 0 {
		return nil, fmt.Errorf("%w: workflow_job without a job", ErrUnhandledEvent)
	}

	return newJobEvent(event), nil
}

func newJobEvent(event *gh.WorkflowJobEvent) *JobEvent {
	job := event.GetWorkflowJob()
	repo := event.GetRepo()

	// Installations on personal accounts carry no organization.
	accountID, owner := event.GetOrg().GetID(), event.GetOrg().GetLogin()
	if accountID == 0 {
		accountID, owner = repo.GetOwner().GetID(), repo.GetOwner().GetLogin()
	}

	return &JobEvent{
		Action:         event.GetAction(),
		InstallationID: event.GetInstallation().GetID(),
		AccountID:      accountID,
		OwnerLogin:     owner,
		RepositoryID:   repo.GetID(),
		RepositoryName: repo.GetName(),
		RepositoryURL:  repo.GetHTMLURL(),
		JobID:          job.GetID(),
		RunID:          job.GetRunID(),
		JobName:        job.GetName(),
		WorkflowName:   job.GetWorkflowName(),
		Status:         job.GetStatus(),
		Conclusion:     job.GetConclusion(),
		URL:            job.GetHTMLURL(),
		Labels:         job.Labels,
		StartedAt:      job.GetStartedAt().Time,
		CompletedAt:    job.GetCompletedAt().Time,
	}
}
