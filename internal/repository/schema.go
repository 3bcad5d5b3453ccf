package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Every statement is idempotent so EnsureSchema can run on every boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              UUID PRIMARY KEY,
		username        TEXT NOT NULL UNIQUE,
		password_hash   TEXT NOT NULL,
		nickname        TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL DEFAULT 'common',
		jingdou_balance BIGINT NOT NULL DEFAULT 0 CHECK (jingdou_balance >= 0),
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS task_types (
		id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		type_code          TEXT NOT NULL UNIQUE,
		type_name          TEXT NOT NULL DEFAULT '',
		jingdou_price      INT NOT NULL DEFAULT 0,
		execute_multiplier INT NOT NULL DEFAULT 1,
		is_active          BOOLEAN NOT NULL DEFAULT TRUE,
		time_slot1_start   TEXT,
		time_slot1_end     TEXT,
		time_slot2_start   TEXT,
		time_slot2_end     TEXT,
		is_system_preset   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id              UUID PRIMARY KEY,
		user_id         UUID NOT NULL REFERENCES users (id),
		task_type       TEXT NOT NULL,
		sku             TEXT NOT NULL,
		shop_name       TEXT NOT NULL DEFAULT '',
		keyword         TEXT NOT NULL DEFAULT '',
		start_time      TIMESTAMPTZ NOT NULL,
		execute_count   INT NOT NULL,
		executed_count  INT NOT NULL DEFAULT 0,
		priority        INT NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT 'pending',
		consume_jingdou INT NOT NULL DEFAULT 0,
		remark          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_start ON tasks (status, start_time)`,

	`CREATE TABLE IF NOT EXISTS ledger_records (
		id            UUID PRIMARY KEY,
		user_id       UUID NOT NULL REFERENCES users (id),
		task_id       UUID REFERENCES tasks (id),
		kind          TEXT NOT NULL,
		amount        BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		remark        TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_user_created ON ledger_records (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_kind_created ON ledger_records (kind, created_at)`,

	`CREATE TABLE IF NOT EXISTS task_templates (
		id                  UUID PRIMARY KEY,
		user_id             UUID NOT NULL REFERENCES users (id),
		task_type           TEXT NOT NULL,
		sku                 TEXT NOT NULL,
		shop_name           TEXT NOT NULL DEFAULT '',
		keyword             TEXT NOT NULL DEFAULT '',
		remark              TEXT NOT NULL DEFAULT '',
		total_created_count INT NOT NULL DEFAULT 0,
		last_used_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, task_type, sku, shop_name, keyword)
	)`,
}

// System preset task types, inserted once. Operators can retune prices and
// time windows directly; reruns never clobber their edits.
const seedTaskTypes = `
	INSERT INTO task_types (type_code, type_name, jingdou_price, execute_multiplier, is_active, is_system_preset)
	VALUES
		('browse', 'Product Browse', 10, 1, TRUE, TRUE),
		('search_browse', 'Search + Browse', 15, 2, TRUE, TRUE),
		('favorite', 'Favorite Item', 5, 1, TRUE, TRUE),
		('add_cart', 'Add to Cart', 8, 1, TRUE, TRUE)
	ON CONFLICT (type_code) DO NOTHING
`

// EnsureSchema creates the engine's tables and preset task types if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := pool.Exec(ctx, seedTaskTypes)
	return err
}
