package repository

// postgresSchema creates the tables used by PostgresStore.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT        NOT NULL,
	prompt     TEXT        NOT NULL,
	analysis   TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS decisions_user_id_idx ON decisions (user_id, id DESC);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id         TEXT        PRIMARY KEY,
	status     TEXT        NOT NULL,
	prompt     TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	output     TEXT        NOT NULL DEFAULT '',
	error      TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_instances_status_idx ON workflow_instances (status, created_at);

CREATE TABLE IF NOT EXISTS workflow_steps (
	seq         BIGSERIAL,
	instance_id TEXT        NOT NULL,
	step_name   TEXT        NOT NULL,
	result      BYTEA       NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (instance_id, step_name)
);
`

// sqliteSchema creates the tables used by SQLiteStore. Timestamps are unix nanoseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT    NOT NULL,
	prompt     TEXT    NOT NULL,
	analysis   TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_user_id_idx ON decisions (user_id, id DESC);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id         TEXT    PRIMARY KEY,
	status     TEXT    NOT NULL,
	prompt     TEXT    NOT NULL,
	user_id    TEXT    NOT NULL,
	output     TEXT    NOT NULL DEFAULT '',
	error      TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_instances_status_idx ON workflow_instances (status, created_at);

CREATE TABLE IF NOT EXISTS workflow_steps (
	instance_id TEXT    NOT NULL,
	step_name   TEXT    NOT NULL,
	result      BLOB    NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (instance_id, step_name)
);
`
