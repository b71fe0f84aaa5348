// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramlinehq/buildkansen/internal/github/githubtest"
	"github.com/tramlinehq/buildkansen/internal/runner"
	"github.com/tramlinehq/buildkansen/internal/store"
)

const label = "tramline-macos-sonoma-md"

type fakeExecutor struct {
	mu        sync.Mutex
	kicks     []runner.KickoffArgs
	purges    []string
	err       error
	onKickoff func()
}

func (f *fakeExecutor) Kickoff(_ context.Context, args runner.KickoffArgs) error {
	if f.onKickoff != nil {
		f.onKickoff()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks = append(f.kicks, args)
	return f.err
}

func (f *fakeExecutor) Purge(_ context.Context, instance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges = append(f.purges, instance)
	return f.err
}

func (f *fakeExecutor) Kicks() []runner.KickoffArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.KickoffArgs(nil), f.kicks...)
}

type fixture struct {
	store    *store.Store
	repo     store.Repository
	github   *githubtest.Fake
	executor *fakeExecutor
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	user, err := s.UpsertUser(ctx, store.User{ID: 1, Login: "octocat", Name: "Mona"})
	require.NoError(t, err)
	inst, err := s.SaveInstallation(ctx, store.Installation{ID: 42, AccountID: 7, AccountLogin: "tramlinehq", AccountType: "Organization", UserID: user.ID},
		[]store.Repository{{ID: 100, Name: "site", FullName: "tramlinehq/site"}})
	require.NoError(t, err)

	f := &fixture{
		store:    s,
		repo:     inst.Repositories[0],
		github:   githubtest.NewFake("AREG"),
		executor: &fakeExecutor{},
	}
	f.manager = NewManager(Config{Workers: 1, QueueSize: 4, PollInterval: 10 * time.Millisecond}, s, f.github, f.executor)
	t.Cleanup(f.manager.Stop)
	return f
}

func (f *fixture) job(t *testing.T, jobID int64) Job {
	t.Helper()
	_, err := f.store.CreateWorkflowJobRun(context.Background(), store.WorkflowJobRun{
		ID: jobID, Name: "build", WorkflowRunID: 999, WorkflowName: "CI", Status: "queued", RepositoryID: f.repo.InternalID,
	})
	require.NoError(t, err)
	return Job{
		JobID:                jobID,
		WorkflowRunID:        999,
		InstallationID:       42,
		OwnerLogin:           "tramlinehq",
		RepositoryInternalID: f.repo.InternalID,
		RepositoryName:       "site",
		RepositoryURL:        "https://github.com/tramlinehq/site",
		RunnerLabel:          label,
	}
}

func (f *fixture) addVM(t *testing.T) store.VM {
	t.Helper()
	vm, err := f.store.CreateVM(context.Background(), store.VM{IPAddress: "192.168.64.6", BaseVMName: "sonoma-base", GithubRunnerLabel: label})
	require.NoError(t, err)
	return vm
}

func TestManager_DispatchesJob(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t)
	ctx := context.Background()

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 555)))

	require.Eventually(t, func() bool {
		run, err := f.store.FindWorkflowJobRun(ctx, 555, f.repo.InternalID)
		return err == nil && run.KickoffAt.Valid
	}, 2*time.Second, 10*time.Millisecond)

	kicks := f.executor.Kicks()
	require.Len(t, kicks, 1)
	assert.Equal(t, runner.KickoffArgs{
		IPAddress:     "192.168.64.6",
		RunnerLabel:   label,
		Token:         "AREG",
		RepositoryURL: "https://github.com/tramlinehq/site",
		InstanceName:  "sonoma-base-555",
	}, kicks[0])
	assert.Equal(t, []string{"tramlinehq/site"}, f.github.Requests())

	bound, err := f.store.FindVMByRunID(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, vm.ID, bound.ID)
	assert.Equal(t, store.VMProcessing, bound.Status)
	assert.Equal(t, "sonoma-base-555", bound.InstanceName.String)
	assert.Equal(t, f.repo.InternalID, bound.RepositoryID.Int64)
}

func TestManager_WaitsForVM(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 556)))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.executor.Kicks(), "nothing runs without a VM")

	f.addVM(t)
	require.Eventually(t, func() bool { return len(f.executor.Kicks()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_FreesVMWhenKickoffFails(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t)
	f.executor.err = errors.New("guest did not boot")
	ctx := context.Background()

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 557)))

	require.Eventually(t, func() bool { return len(f.executor.Kicks()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		got, err := f.store.FindVM(ctx, vm.ID)
		return err == nil && got.Status == store.VMAvailable && !got.InstanceName.Valid && !got.ExternalRunID.Valid
	}, 2*time.Second, 10*time.Millisecond)

	run, err := f.store.FindWorkflowJobRun(ctx, 557, f.repo.InternalID)
	require.NoError(t, err)
	assert.False(t, run.KickoffAt.Valid)
}

func TestManager_FreesVMWhenTokenFails(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t)
	f.github.TokenErr = errors.New("forbidden")
	ctx := context.Background()

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 558)))

	require.Eventually(t, func() bool { return len(f.github.Requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		got, err := f.store.FindVM(ctx, vm.ID)
		return err == nil && got.Status == store.VMAvailable
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.executor.Kicks())
}

func TestManager_SkipsFinishedJob(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t)
	ctx := context.Background()

	job := f.job(t, 560)
	require.NoError(t, f.store.CompleteWorkflowJobRun(ctx, 560, f.repo.InternalID, "completed", "cancelled", time.Now()))

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, job))
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 561)))

	// Jobs are handled in order by the single worker, so once 561 runs 560 was already skipped.
	require.Eventually(t, func() bool { return len(f.executor.Kicks()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "sonoma-base-561", f.executor.Kicks()[0].InstanceName)

	got, err := f.store.FindVM(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(561), got.ExternalRunID.Int64)
}

func TestManager_JobCompletedWhileFetchingToken(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t)
	ctx := context.Background()

	// The completed webhook lands while the worker waits on GitHub, before the
	// VM is bound, so the completion handler cannot find it.
	lookedUp := make(chan error, 1)
	f.github.OnToken = func(string, string) {
		assert.NoError(t, f.store.CompleteWorkflowJobRun(ctx, 562, f.repo.InternalID, "completed", "cancelled", time.Now()))
		_, err := f.store.FindVMByRunID(ctx, 562)
		lookedUp <- err
	}

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 562)))

	select {
	case err := <-lookedUp:
		assert.ErrorIs(t, err, store.ErrNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("registration token was never requested")
	}

	require.Eventually(t, func() bool {
		got, err := f.store.FindVM(ctx, vm.ID)
		return err == nil && got.Status == store.VMAvailable && !got.ExternalRunID.Valid
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.executor.Kicks())
}

func TestManager_KickoffFailureLeavesReleasedVMAlone(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t)
	ctx := context.Background()

	// While the kickoff script runs, the job completes, its VM is released
	// and another job claims it. The failed kickoff must not free it again.
	f.executor.err = errors.New("guest did not boot")
	f.executor.onKickoff = func() {
		assert.NoError(t, f.store.FreeVM(ctx, vm.ID))
		claimed, err := f.store.ClaimVM(ctx, label)
		if assert.NoError(t, err) {
			assert.NoError(t, f.store.BindVM(ctx, claimed.ID, "sonoma-base-999", 999, f.repo.InternalID))
		}
	}

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 563)))

	require.Eventually(t, func() bool { return len(f.executor.Kicks()) == 1 }, 2*time.Second, 10*time.Millisecond)
	f.manager.Stop()

	got, err := f.store.FindVM(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, store.VMProcessing, got.Status)
	assert.Equal(t, int64(999), got.ExternalRunID.Int64)
}

func TestManager_EnqueueAfterStop(t *testing.T) {
	f := newFixture(t)
	f.manager.Start(context.Background())
	f.manager.Stop()

	err := f.manager.Enqueue(context.Background(), Job{JobID: 1})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestManager_EnqueueHonoursContext(t *testing.T) {
	s := &store.Store{}
	m := NewManager(Config{Workers: 1, QueueSize: 0}, s, githubtest.NewFake(""), &fakeExecutor{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Enqueue(ctx, Job{JobID: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, m.Pending())
}

func TestManager_StopUnblocksWaitingWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.Start(ctx)
	require.NoError(t, f.manager.Enqueue(ctx, f.job(t, 559)))
	time.Sleep(30 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		f.manager.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a worker waited for a VM")
	}
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "sonoma-base-42", InstanceName("sonoma-base", 42))
}
