// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	txRetryAttempts = 3
	txRetryBackoff  = 20 * time.Millisecond
)

// transientSQLStates are Postgres errors after which rerunning the whole upsert is safe.
var transientSQLStates = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// transientReason reports why err may be retried, or "" when it may not.
// Connection errors raised before anything reached the server also qualify.
func transientReason(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLStates[pgErr.SQLState()]
	}
	if pgconn.SafeToRetry(err) {
		return "connection_not_used"
	}
	return ""
}

// withTxRetry runs fn in a fresh transaction per attempt, backing off linearly between attempts.
func (s *PostgresStore) withTxRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = pgx.BeginFunc(ctx, s.pool, fn)
		reason := transientReason(err)
		if reason == "" || attempt == txRetryAttempts {
			return err
		}
		s.logger.Debug("Retrying store transaction", "attempt", attempt, "reason", reason, "error", err)

		timer := time.NewTimer(time.Duration(attempt) * txRetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
