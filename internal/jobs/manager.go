// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package jobs dispatches queued workflow jobs onto runner VMs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tramlinehq/buildkansen/internal/github"
	"github.com/tramlinehq/buildkansen/internal/metrics"
	"github.com/tramlinehq/buildkansen/internal/runner"
	"github.com/tramlinehq/buildkansen/internal/store"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("jobs: manager stopped")

// errFinished marks jobs that completed on GitHub before their runner started.
var errFinished = errors.New("jobs: job already finished")

// statusCompleted is the GitHub status of a finished job.
const statusCompleted = "completed"

// Job is one workflow job waiting for a VM.
type Job struct {
	JobID                int64
	WorkflowRunID        int64
	InstallationID       int64
	OwnerLogin           string
	RepositoryInternalID int64
	RepositoryName       string
	RepositoryURL        string
	RunnerLabel          string
	EnqueuedAt           time.Time
}

func (j Job) fields() log.Fields {
	return log.Fields{
		"job_id":     j.JobID,
		"run_id":     j.WorkflowRunID,
		"repository": j.OwnerLogin + "/" + j.RepositoryName,
		"label":      j.RunnerLabel,
	}
}

// Store is the persistence the workers need.
type Store interface {
	ClaimVM(ctx context.Context, label string) (store.VM, error)
	BindVM(ctx context.Context, id int64, instanceName string, jobID, repositoryInternalID int64) error
	FreeVM(ctx context.Context, id int64) error
	FreeVMForRun(ctx context.Context, id, runID int64) error
	KickoffWorkflowJobRun(ctx context.Context, id, repositoryID int64) error
	FindWorkflowJobRun(ctx context.Context, id, repositoryID int64) (store.WorkflowJobRun, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
}

// Manager owns the job queue and its workers.
type Manager struct {
	cfg      Config
	store    Store
	github   github.Factory
	executor runner.Executor

	queue chan Job
	done  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
}

// NewManager creates a manager; call Start to launch the workers.
func NewManager(cfg Config, s Store, factory github.Factory, executor runner.Executor) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		store:    s,
		github:   factory,
		executor: executor,
		queue:    make(chan Job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		for i := 1; i <= m.cfg.Workers; i++ {
			m.wg.Add(1)
			go m.worker(ctx, i)
		}
		log.Infof("job manager started with %d worker(s)", m.cfg.Workers)
	})
}

// Stop cancels in-flight waits and blocks until every worker has returned.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.cancel != nil {
			m.cancel()
		}
	})
	m.wg.Wait()
}

// Enqueue blocks until the job is accepted, ctx is done or the manager stops.
func (m *Manager) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.queue <- job:
		metrics.JobsEnqueuedTotal.Inc()
		metrics.JobQueueDepth.Inc()
		log.WithFields(job.fields()).Info("job enqueued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// Pending is the number of jobs waiting for a worker.
func (m *Manager) Pending() int {
	return len(m.queue)
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.queue:
			metrics.JobQueueDepth.Dec()
			err := m.process(ctx, job)
			if errors.Is(err, errFinished) {
				metrics.RecordDispatch("skipped")
				log.WithFields(job.fields()).WithField("worker", id).Info("job finished before its runner started, skipping")
				continue
			}
			if err != nil {
				metrics.RecordDispatch("failed")
				log.WithFields(job.fields()).WithField("worker", id).Errorf("could not process job: %v", err)
				continue
			}
			metrics.RecordDispatch("kicked_off")
			log.WithFields(job.fields()).WithField("worker", id).Info("job kicked off")
		}
	}
}

func (m *Manager) process(ctx context.Context, job Job) error {
	vm, err := m.waitForVM(ctx, job.RunnerLabel)
	if err != nil {
		return err
	}
	metrics.VMWaitSeconds.Observe(time.Since(job.EnqueuedAt).Seconds())

	bound := false
	if err = m.checkPending(ctx, job); err == nil {
		bound, err = m.dispatch(ctx, job, vm)
	}
	if err != nil {
		m.release(ctx, job, vm, bound)
		return err
	}
	return nil
}

// release returns a VM the job could not use to the pool, even when the worker
// is shutting down. Once bound, the job's completion may have released it
// already, so only a VM still bound to this job is freed.
func (m *Manager) release(ctx context.Context, job Job, vm store.VM, bound bool) {
	ctx = context.WithoutCancel(ctx)
	entry := log.WithFields(job.fields()).WithField("vm_id", vm.ID)
	if !bound {
		if err := m.store.FreeVM(ctx, vm.ID); err != nil {
			entry.Errorf("could not free VM: %v", err)
		}
		return
	}
	err := m.store.FreeVMForRun(ctx, vm.ID, job.JobID)
	if errors.Is(err, store.ErrNotFound) {
		entry.Debug("VM was already released by the job's completion")
		return
	}
	if err != nil {
		entry.Errorf("could not free VM: %v", err)
	}
}

// waitForVM claims a VM for the label, polling until one frees up.
func (m *Manager) waitForVM(ctx context.Context, label string) (store.VM, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		vm, err := m.store.ClaimVM(ctx, label)
		if err == nil {
			return vm, nil
		}
		if !errors.Is(err, store.ErrNoVMAvailable) {
			return store.VM{}, err
		}

		log.Debugf("no available VMs for %s, retrying in %s", label, m.cfg.PollInterval)
		timer.Reset(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return store.VM{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// checkPending rejects jobs that were cancelled or finished while they waited.
func (m *Manager) checkPending(ctx context.Context, job Job) error {
	run, err := m.store.FindWorkflowJobRun(ctx, job.JobID, job.RepositoryInternalID)
	if errors.Is(err, store.ErrNotFound) {
		return errFinished
	}
	if err != nil {
		return err
	}
	if run.Status == statusCompleted || run.EndedAt.Valid {
		return errFinished
	}
	return nil
}

// dispatch starts a runner for the job on vm. bound reports whether the VM was
// bound to the job before dispatch returned.
func (m *Manager) dispatch(ctx context.Context, job Job, vm store.VM) (bound bool, err error) {
	client, err := m.github.ForInstallation(job.InstallationID)
	if err != nil {
		return false, err
	}
	token, err := client.CreateRegistrationToken(ctx, job.OwnerLogin, job.RepositoryName)
	if err != nil {
		return false, err
	}

	instanceName := InstanceName(vm.BaseVMName, job.JobID)
	if err = m.store.BindVM(ctx, vm.ID, instanceName, job.JobID, job.RepositoryInternalID); err != nil {
		return false, fmt.Errorf("jobs: failed to bind VM %d: %w", vm.ID, err)
	}

	// A completion that arrived before the bind could not find this VM, so
	// nothing else would ever release it.
	if err = m.checkPending(ctx, job); err != nil {
		return true, err
	}

	started := time.Now()
	err = m.executor.Kickoff(ctx, runner.KickoffArgs{
		IPAddress:     vm.IPAddress,
		RunnerLabel:   vm.GithubRunnerLabel,
		Token:         token,
		RepositoryURL: job.RepositoryURL,
		InstanceName:  instanceName,
	})
	metrics.RecordScript("kickoff", time.Since(started).Seconds(), err)
	if err != nil {
		return true, err
	}

	if err = m.store.KickoffWorkflowJobRun(ctx, job.JobID, job.RepositoryInternalID); err != nil {
		// The runner is already up; the job will still be picked up.
		log.WithFields(job.fields()).Warnf("could not stamp kickoff time: %v", err)
	}
	return true, nil
}

// InstanceName names the guest cloned from base for one workflow job.
func InstanceName(base string, jobID int64) string {
	return fmt.Sprintf("%s-%d", base, jobID)
}
