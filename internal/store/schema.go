// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	login TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	email VARCHAR(100),
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL
);

CREATE TABLE IF NOT EXISTS installations (
	internal_id {{serial}},
	id BIGINT NOT NULL,
	account_type TEXT NOT NULL DEFAULT '',
	account_id BIGINT NOT NULL,
	account_login TEXT NOT NULL DEFAULT '',
	account_avatar_url TEXT NOT NULL DEFAULT '',
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL,
	UNIQUE (id, user_id)
);

CREATE TABLE IF NOT EXISTS repositories (
	internal_id {{serial}},
	id BIGINT NOT NULL,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL,
	private BOOLEAN NOT NULL DEFAULT FALSE,
	installation_id BIGINT NOT NULL REFERENCES installations(internal_id) ON DELETE CASCADE,
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL,
	UNIQUE (id, installation_id)
);

CREATE TABLE IF NOT EXISTS workflow_job_runs (
	internal_id {{serial}},
	id BIGINT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	workflow_run_id BIGINT NOT NULL,
	workflow_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	conclusion TEXT,
	repository_id BIGINT NOT NULL REFERENCES repositories(internal_id) ON DELETE CASCADE,
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL,
	started_at {{time}} NOT NULL,
	kickoff_at {{time}},
	processing_at {{time}},
	ended_at {{time}}
);

DROP INDEX IF EXISTS idx_workflow_job_runs_lookup;
CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_job_runs_job ON workflow_job_runs(id, repository_id);

CREATE TABLE IF NOT EXISTS vms (
	id {{serial}},
	vm_ip_address TEXT NOT NULL DEFAULT '',
	vm_instance_name TEXT,
	base_vm_name TEXT NOT NULL,
	github_runner_label TEXT NOT NULL,
	external_run_id BIGINT,
	repository_id BIGINT REFERENCES repositories(internal_id) ON DELETE SET NULL,
	status TEXT NOT NULL CHECK (status IN ('available', 'processing')),
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vms_status ON vms(status);
CREATE INDEX IF NOT EXISTS idx_vms_external_run_id ON vms(external_run_id);
`

func (d Dialect) ddl() string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "TIMESTAMP"
	if d == DialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	return strings.NewReplacer("{{serial}}", serial, "{{time}}", ts).Replace(schema)
}

// Migrate creates the tables and indexes when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.ddl(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}
	return nil
}
