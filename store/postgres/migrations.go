package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the market store.
var Migrations = migrate.NewGroup("market")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_market_products",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS market_products (
    id          BIGINT PRIMARY KEY CHECK (id > 0),
    name        TEXT NOT NULL DEFAULT '',
    unit_price  BIGINT NOT NULL CHECK (unit_price > 0),
    currency    TEXT NOT NULL,
    quantity    BIGINT NOT NULL CHECK (quantity >= 0),
    seller      TEXT NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_market_products_seller ON market_products (seller, id);
CREATE INDEX IF NOT EXISTS idx_market_products_active ON market_products (id) WHERE active;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS market_products`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_market_state",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS market_state (
    id             INT PRIMARY KEY CHECK (id = 1),
    product_count  BIGINT NOT NULL DEFAULT 0,
    event_count    BIGINT NOT NULL DEFAULT 0,
    accrued_fees   BIGINT NOT NULL DEFAULT 0 CHECK (accrued_fees >= 0),
    owner          TEXT NOT NULL DEFAULT '',
    fee_percent    BIGINT NOT NULL DEFAULT 2,
    currency       TEXT NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS market_state`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_market_events",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS market_events (
    id              TEXT PRIMARY KEY,
    sequence        BIGINT NOT NULL,
    type            TEXT NOT NULL,
    timestamp       TIMESTAMPTZ NOT NULL,
    product_id      BIGINT NOT NULL DEFAULT 0,
    name            TEXT NOT NULL DEFAULT '',
    seller          TEXT NOT NULL DEFAULT '',
    buyer           TEXT NOT NULL DEFAULT '',
    owner           TEXT NOT NULL DEFAULT '',
    previous_owner  TEXT NOT NULL DEFAULT '',
    currency        TEXT NOT NULL DEFAULT '',
    unit_price      BIGINT NOT NULL DEFAULT 0,
    quantity        BIGINT NOT NULL DEFAULT 0,
    total_price     BIGINT NOT NULL DEFAULT 0,
    platform_fee    BIGINT NOT NULL DEFAULT 0,
    amount          BIGINT NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_market_events_sequence ON market_events (sequence);
CREATE INDEX IF NOT EXISTS idx_market_events_type ON market_events (type, sequence);
CREATE INDEX IF NOT EXISTS idx_market_events_product ON market_events (product_id, sequence);
CREATE INDEX IF NOT EXISTS idx_market_events_seller ON market_events (seller, sequence);
CREATE INDEX IF NOT EXISTS idx_market_events_buyer ON market_events (buyer, sequence);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS market_events`)
				return err
			},
		},
	)
}
