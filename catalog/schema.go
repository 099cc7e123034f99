package catalog

// Schema is the DDL this module expects to exist in the target database.
// Real deployments apply it through the out-of-scope Alembic-style
// migration collaborator (spec §1); no test in this module applies it to a
// live database.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
	id UUID PRIMARY KEY,
	hostname TEXT NOT NULL,
	host TEXT NOT NULL,
	transport TEXT NOT NULL,
	port INT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	serial TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL DEFAULT '',
	reachability_status TEXT NOT NULL DEFAULT 'unknown',
	reachability_ts TIMESTAMPTZ,
	reachability_msg TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tags (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS tags_name_ci ON tags (lower(name));

CREATE TABLE IF NOT EXISTS device_tags (
	device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (device_id, tag_id)
);

CREATE TABLE IF NOT EXISTS credentials (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL,
	secret_key_id TEXT NOT NULL,
	secret_cipher BYTEA NOT NULL,
	priority INT NOT NULL DEFAULT 100,
	success_count BIGINT NOT NULL DEFAULT 0,
	failure_count BIGINT NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ,
	description TEXT NOT NULL DEFAULT '',
	is_system BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credential_tags (
	tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	credential_id UUID NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
	priority INT NOT NULL DEFAULT 100,
	PRIMARY KEY (tag_id, credential_id)
);

CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	selector_device_id UUID,
	selector_tag_id UUID,
	params JSONB NOT NULL DEFAULT '{}',
	enabled BOOLEAN NOT NULL DEFAULT true,
	is_system_job BOOLEAN NOT NULL DEFAULT false,
	fanout_limit INT NOT NULL DEFAULT 0,
	max_duration_secs INT NOT NULL DEFAULT 1800,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS schedules (
	job_id UUID PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	interval_secs BIGINT NOT NULL DEFAULT 0,
	time_of_day TEXT NOT NULL DEFAULT '',
	weekdays INT[] NOT NULL DEFAULT '{}',
	cron_expr TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	next_fire TIMESTAMPTZ NOT NULL,
	last_fired TIMESTAMPTZ,
	enabled BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS schedules_next_fire ON schedules (next_fire) WHERE enabled;

CREATE TABLE IF NOT EXISTS job_runs (
	id UUID PRIMARY KEY,
	job_id UUID NOT NULL REFERENCES jobs(id),
	device_ids UUID[] NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	cancelled BOOLEAN NOT NULL DEFAULT false,
	enqueued_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	deadline TIMESTAMPTZ NOT NULL,
	timed_out BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS job_runs_status_started ON job_runs (status, started_at);

CREATE TABLE IF NOT EXISTS device_sub_results (
	run_id UUID NOT NULL REFERENCES job_runs(id) ON DELETE CASCADE,
	device_id UUID NOT NULL,
	credential_id UUID,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	snapshot_hash TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, device_id)
);
CREATE INDEX IF NOT EXISTS sub_results_run_id ON device_sub_results (run_id);

CREATE TABLE IF NOT EXISTS snapshots (
	content_hash TEXT PRIMARY KEY,
	bytes BYTEA NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS snapshots_hash_unique ON snapshots (content_hash);

CREATE TABLE IF NOT EXISTS snapshot_refs (
	run_id UUID NOT NULL,
	device_id UUID NOT NULL,
	content_hash TEXT NOT NULL REFERENCES snapshots(content_hash),
	captured_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, device_id)
);

CREATE TABLE IF NOT EXISTS log_entries (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	level TEXT NOT NULL,
	source TEXT NOT NULL,
	job_run_id UUID,
	device_id UUID,
	message TEXT NOT NULL,
	meta JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS log_entries_run ON log_entries (job_run_id);
CREATE INDEX IF NOT EXISTS log_entries_device ON log_entries (device_id);
CREATE INDEX IF NOT EXISTS log_entries_source_level_ts ON log_entries (source, level, ts);

CREATE TABLE IF NOT EXISTS encryption_keys (
	id TEXT PRIMARY KEY,
	active BOOLEAN NOT NULL DEFAULT false,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
