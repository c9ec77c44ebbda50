// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// initializeSchema creates the tracking tables if they don't exist
func (s *PostgresStore) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
}

func (s *PostgresStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS fitsync`,

		// Workout sessions keyed by the client-generated idempotency key
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fitsync.workouts (
			client_id      TEXT        PRIMARY KEY,
			user_id        TEXT        NOT NULL,
			local_day      TEXT        NOT NULL CHECK (local_day ~ '^\d{4}-\d{2}-\d{2}$'),
			started_at     TIMESTAMPTZ NOT NULL,
			exercises      JSONB       NOT NULL DEFAULT '[]'::jsonb,
			total_calories DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (total_calories >= 0),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS workouts_user_day_idx ON fitsync.workouts(user_id, local_day)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fitsync.meals (
			client_id      TEXT        PRIMARY KEY,
			user_id        TEXT        NOT NULL,
			local_day      TEXT        NOT NULL CHECK (local_day ~ '^\d{4}-\d{2}-\d{2}$'),
			name           TEXT        NOT NULL DEFAULT '',
			eaten_at       TIMESTAMPTZ NOT NULL,
			items          JSONB       NOT NULL DEFAULT '[]'::jsonb,
			total_calories DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (total_calories >= 0),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS meals_user_day_idx ON fitsync.meals(user_id, local_day)`,

		// One aggregate per user and local day
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fitsync.daily_metrics (
			user_id    TEXT             NOT NULL,
			local_day  TEXT             NOT NULL CHECK (local_day ~ '^\d{4}-\d{2}-\d{2}$'),
			client_id  TEXT             NOT NULL DEFAULT '',
			consumed   DOUBLE PRECISION NOT NULL DEFAULT 0,
			burned     DOUBLE PRECISION NOT NULL DEFAULT 0,
			net        DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, local_day)
		)`,
	}

	for _, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			s.logger.Error("Failed to execute migration", "error", err)
			return err
		}
	}
	return nil
}
