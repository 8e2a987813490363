package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the market store (SQLite).
var Migrations = migrate.NewGroup("market")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_market_products",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS market_products (
    id          INTEGER PRIMARY KEY CHECK (id > 0),
    name        TEXT NOT NULL DEFAULT '',
    unit_price  INTEGER NOT NULL CHECK (unit_price > 0),
    currency    TEXT NOT NULL,
    quantity    INTEGER NOT NULL CHECK (quantity >= 0),
    seller      TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_market_products_seller ON market_products (seller, id);
CREATE INDEX IF NOT EXISTS idx_market_products_active ON market_products (active, id);
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
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    product_count  INTEGER NOT NULL DEFAULT 0,
    event_count    INTEGER NOT NULL DEFAULT 0,
    accrued_fees   INTEGER NOT NULL DEFAULT 0 CHECK (accrued_fees >= 0),
    owner          TEXT NOT NULL DEFAULT '',
    fee_percent    INTEGER NOT NULL DEFAULT 2,
    currency       TEXT NOT NULL,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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
    sequence        INTEGER NOT NULL,
    type            TEXT NOT NULL,
    timestamp       DATETIME NOT NULL,
    product_id      INTEGER NOT NULL DEFAULT 0,
    name            TEXT NOT NULL DEFAULT '',
    seller          TEXT NOT NULL DEFAULT '',
    buyer           TEXT NOT NULL DEFAULT '',
    owner           TEXT NOT NULL DEFAULT '',
    previous_owner  TEXT NOT NULL DEFAULT '',
    currency        TEXT NOT NULL DEFAULT '',
    unit_price      INTEGER NOT NULL DEFAULT 0,
    quantity        INTEGER NOT NULL DEFAULT 0,
    total_price     INTEGER NOT NULL DEFAULT 0,
    platform_fee    INTEGER NOT NULL DEFAULT 0,
    amount          INTEGER NOT NULL DEFAULT 0
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
