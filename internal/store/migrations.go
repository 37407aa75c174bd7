package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is idempotent; Migrate may run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS roles (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	description    TEXT NOT NULL DEFAULT '',
	color          TEXT NOT NULL DEFAULT '#6b7280',
	is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS actions (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS actions_category_idx ON actions (category);

CREATE TABLE IF NOT EXISTS permissions (
	id          BIGSERIAL PRIMARY KEY,
	role_id     BIGINT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
	action_id   BIGINT NOT NULL REFERENCES actions (id) ON DELETE CASCADE,
	status      TEXT NOT NULL CHECK (status IN ('granted', 'denied', 'conditional')),
	limit_value DOUBLE PRECISION CHECK (limit_value IS NULL OR limit_value >= 0),
	conditions  TEXT,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT permissions_role_action_key UNIQUE (role_id, action_id)
);

CREATE TABLE IF NOT EXISTS accounts (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
	id         BIGINT PRIMARY KEY REFERENCES accounts (id) ON DELETE CASCADE,
	full_name  TEXT NOT NULL,
	email      TEXT NOT NULL,
	role_id    BIGINT REFERENCES roles (id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          BIGSERIAL PRIMARY KEY,
	actor_id    BIGINT NOT NULL,
	action      TEXT NOT NULL,
	entity      TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	meta        JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS audit_logs_occurred_at_idx ON audit_logs (occurred_at DESC);

INSERT INTO roles (name, description, color, is_system_role) VALUES
	('View Only', 'Read-only access to the matrix', '#6b7280', TRUE),
	('Edit & View', 'Can edit the matrix and catalog', '#2563eb', TRUE),
	('Admin', 'Full access including user management', '#dc2626', TRUE)
ON CONFLICT (name) DO NOTHING;
`

// Migrate applies the schema and seeds the system roles.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
