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

// ErrNoVMAvailable is returned by ClaimVM when every matching VM is busy.
var ErrNoVMAvailable = errors.New("store: no available VMs")

const vmColumns = `id, vm_ip_address, vm_instance_name, base_vm_name, github_runner_label, external_run_id, repository_id, status, created_at, updated_at`

// claimAttempts bounds how often ClaimVM retries when another worker wins the race for a row.
const claimAttempts = 3

// CreateVM registers a VM in the pool as available.
func (s *Store) CreateVM(ctx context.Context, vm VM) (VM, error) {
	now := time.Now().UTC()
	vm.Status = VMAvailable
	vm.CreatedAt, vm.UpdatedAt = now, now
	query := s.rebind(`INSERT INTO vms (vm_ip_address, base_vm_name, github_runner_label, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`)
	row := s.db.QueryRowContext(ctx, query, vm.IPAddress, vm.BaseVMName, vm.GithubRunnerLabel, string(vm.Status), now, now)
	if err := row.Scan(&vm.ID); err != nil {
		return VM{}, fmt.Errorf("store: could not create VM: %w", err)
	}
	return vm, nil
}

// ClaimVM atomically moves one available VM carrying the runner label into the
// processing state and returns it. Concurrent callers never receive the same VM.
func (s *Store) ClaimVM(ctx context.Context, label string) (VM, error) {
	selectQuery := `SELECT id FROM vms WHERE status = ? AND github_runner_label = ? ORDER BY id LIMIT 1`
	if s.dialect == DialectPostgres {
		selectQuery += ` FOR UPDATE SKIP LOCKED`
	}
	selectQuery = s.rebind(selectQuery)
	updateQuery := s.rebind(`UPDATE vms SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var (
			id      int64
			claimed bool
		)
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(ctx, selectQuery, string(VMAvailable), label).Scan(&id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNoVMAvailable
				}
				return fmt.Errorf("store: failed to look up available VMs: %w", err)
			}
			res, err := tx.ExecContext(ctx, updateQuery, string(VMProcessing), time.Now().UTC(), id, string(VMAvailable))
			if err != nil {
				return fmt.Errorf("store: failed to claim VM %d: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("store: failed to claim VM %d: %w", id, err)
			}
			claimed = n == 1
			return nil
		})
		if err != nil {
			return VM{}, err
		}
		if claimed {
			return s.FindVM(ctx, id)
		}
	}
	return VM{}, ErrNoVMAvailable
}

// BindVM records which guest instance, workflow run and repository a claimed VM serves.
func (s *Store) BindVM(ctx context.Context, id int64, instanceName string, runID, repositoryInternalID int64) error {
	query := s.rebind(`UPDATE vms SET vm_instance_name = ?, external_run_id = ?, repository_id = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, instanceName, runID, repositoryInternalID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: failed to bind VM %d: %w", id, err)
	}
	if n, errRows := res.RowsAffected(); errRows == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const freeVMQuery = `UPDATE vms SET external_run_id = NULL, repository_id = NULL, vm_instance_name = NULL, status = ?, updated_at = ? WHERE id = ?`

// FreeVM clears the VM's binding and returns it to the pool.
func (s *Store) FreeVM(ctx context.Context, id int64) error {
	return s.freeVM(ctx, s.rebind(freeVMQuery), id)
}

// FreeVMForRun frees the VM only while it is still bound to runID. It returns
// ErrNotFound when the binding is gone, e.g. the job's completion already
// released the VM and another job may own it now.
func (s *Store) FreeVMForRun(ctx context.Context, id, runID int64) error {
	return s.freeVM(ctx, s.rebind(freeVMQuery+` AND external_run_id = ?`), id, runID)
}

func (s *Store) freeVM(ctx context.Context, query string, id int64, extra ...any) error {
	args := append([]any{string(VMAvailable), time.Now().UTC(), id}, extra...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: failed to free VM %d: %w", id, err)
	}
	if n, errRows := res.RowsAffected(); errRows == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindVM loads a VM by id.
func (s *Store) FindVM(ctx context.Context, id int64) (VM, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+vmColumns+` FROM vms WHERE id = ?`), id)
	return scanVM(row)
}

// FindVMByRunID loads the VM bound to a workflow run.
func (s *Store) FindVMByRunID(ctx context.Context, runID int64) (VM, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+vmColumns+` FROM vms WHERE external_run_id = ? ORDER BY id LIMIT 1`), runID)
	return scanVM(row)
}

// CountVMs returns the number of VMs per status.
func (s *Store) CountVMs(ctx context.Context) (map[VMStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM vms GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to count VMs: %w", err)
	}
	defer rows.Close()

	counts := map[VMStatus]int{VMAvailable: 0, VMProcessing: 0}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err = rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[VMStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanVM(sc scanner) (VM, error) {
	var (
		vm     VM
		status string
	)
	err := sc.Scan(&vm.ID, &vm.IPAddress, &vm.InstanceName, &vm.BaseVMName, &vm.GithubRunnerLabel,
		&vm.ExternalRunID, &vm.RepositoryID, &status, &vm.CreatedAt, &vm.UpdatedAt)
	if err != nil {
		return VM{}, notFound(err)
	}
	vm.Status = VMStatus(status)
	return vm, nil
}
