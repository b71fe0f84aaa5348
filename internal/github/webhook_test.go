// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queuedPayload = `{
  "action": "queued",
  "workflow_job": {
    "id": 555,
    "run_id": 999,
    "name": "build",
    "workflow_name": "CI",
    "status": "queued",
    "html_url": "https://github.com/tramlinehq/site/actions/runs/999/job/555",
    "labels": ["tramline-macos-sonoma-md"],
    "started_at": "2026-03-01T10:00:00Z"
  },
  "repository": {
    "id": 100,
    "name": "site",
    "full_name": "tramlinehq/site",
    "html_url": "https://github.com/tramlinehq/site",
    "owner": {"id": 7, "login": "tramlinehq"}
  },
  "organization": {"id": 7, "login": "tramlinehq"},
  "installation": {"id": 42}
}`

func webhookRequest(event, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/github/apps/hook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestParseJobEvent_Queued(t *testing.T) {
	ev, err := ParseJobEvent(webhookRequest("workflow_job", queuedPayload, ""), nil)
	require.NoError(t, err)

	assert.Equal(t, ActionQueued, ev.Action)
	assert.Equal(t, int64(42), ev.InstallationID)
	assert.Equal(t, int64(7), ev.AccountID)
	assert.Equal(t, "tramlinehq", ev.OwnerLogin)
	assert.Equal(t, int64(100), ev.RepositoryID)
	assert.Equal(t, "site", ev.RepositoryName)
	assert.Equal(t, "https://github.com/tramlinehq/site", ev.RepositoryURL)
	assert.Equal(t, int64(555), ev.JobID)
	assert.Equal(t, int64(999), ev.RunID)
	assert.Equal(t, "build", ev.JobName)
	assert.Equal(t, "CI", ev.WorkflowName)
	assert.Equal(t, []string{"tramline-macos-sonoma-md"}, ev.Labels)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ev.StartedAt.UTC())
	assert.True(t, ev.CompletedAt.IsZero())
}

func TestParseJobEvent_PersonalAccountFallsBackToOwner(t *testing.T) {
	body := strings.Replace(queuedPayload, `"organization": {"id": 7, "login": "tramlinehq"},`, "", 1)
	body = strings.Replace(body, `"owner": {"id": 7, "login": "tramlinehq"}`, `"owner": {"id": 8, "login": "octocat"}`, 1)

	ev, err := ParseJobEvent(webhookRequest("workflow_job", body, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), ev.AccountID)
	assert.Equal(t, "octocat", ev.OwnerLogin)
}

func TestParseJobEvent_Signature(t *testing.T) {
	secret := []byte("hook-secret")

	ev, err := ParseJobEvent(webhookRequest("workflow_job", queuedPayload, sign("hook-secret", queuedPayload)), secret)
	require.NoError(t, err)
	assert.Equal(t, int64(555), ev.JobID)

	_, err = ParseJobEvent(webhookRequest("workflow_job", queuedPayload, sign("other", queuedPayload)), secret)
	assert.Error(t, err)

	_, err = ParseJobEvent(webhookRequest("workflow_job", queuedPayload, ""), secret)
	assert.Error(t, err)
}

func TestParseJobEvent_Unhandled(t *testing.T) {
	_, err := ParseJobEvent(webhookRequest("ping", `{"zen":"Keep it logically awesome."}`, ""), nil)
	assert.ErrorIs(t, err, ErrUnhandledEvent)

	_, err = ParseJobEvent(webhookRequest("workflow_job", `{"action":"queued"}`, ""), nil)
	assert.ErrorIs(t, err, ErrUnhandledEvent)
}

func TestParseJobEvent_Malformed(t *testing.T) {
	_, err := ParseJobEvent(webhookRequest("workflow_job", `{"action":`, ""), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnhandledEvent)
}
