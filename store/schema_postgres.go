package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    params       JSONB NOT NULL DEFAULT '{}',
    priority     TEXT NOT NULL DEFAULT 'normal',
    state        TEXT NOT NULL DEFAULT 'pending',
    progress     DOUBLE PRECISION NOT NULL DEFAULT 0,
    dependencies JSONB NOT NULL DEFAULT '[]',
    result       TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    seq          BIGINT NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL,
    started_at   TEXT,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);

CREATE TABLE IF NOT EXISTS task_history (
    id         BIGSERIAL PRIMARY KEY,
    task_id    TEXT NOT NULL,
    task_type  TEXT NOT NULL DEFAULT '',
    old_state  TEXT NOT NULL DEFAULT '',
    new_state  TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id);

CREATE TABLE IF NOT EXISTS devices (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    address_token TEXT NOT NULL DEFAULT '',
    descriptor    JSONB NOT NULL DEFAULT '{}',
    status        TEXT NOT NULL DEFAULT '',
    last_seen     TEXT,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox (
    id         BIGSERIAL PRIMARY KEY,
    topic      TEXT NOT NULL,
    payload    BYTEA NOT NULL,
    msg_type   TEXT NOT NULL DEFAULT '',
    robot_id   TEXT NOT NULL DEFAULT '',
    retries    INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS admin_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
