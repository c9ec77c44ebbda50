// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iceman4177/CalFit-sub000/fitsync"
)

// FlushOptions controls FlushPending
type FlushOptions struct {
	MaxTries int // passes over the queue; values below 1 mean 1
}

// FlushResult summarizes one FlushPending call
type FlushResult struct {
	Flushed      int // operations delivered and removed
	Failed       int // distinct operations that failed during the call and are still queued
	Skipped      int // operations never attempted (not yet due, or owned by another user)
	DeadLettered int // operations moved to the dead-letter list
	Remaining    int // queue length after the call
}

// Backoff returns the wait before the next attempt of an op that has failed retryCount times
func (e *Engine) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return e.config.BackoffMax
	}
	d := e.config.BackoffBase * time.Duration(1<<uint(retryCount))
	if d <= 0 || d > e.config.BackoffMax {
		return e.config.BackoffMax
	}
	return d
}

// FlushPending delivers due operations in enqueue order. Each failure is isolated:
// the op gets retry_count+1 and a backoff deadline while the rest keep going.
// It does nothing when offline or signed out. Only storage errors are returned.
func (e *Engine) FlushPending(ctx context.Context, opts FlushOptions) (FlushResult, error) {
	if opts.MaxTries < 1 {
		opts.MaxTries = 1
	}
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	var (
		res       FlushResult
		failed    = map[string]bool{}
		attempted = map[string]bool{}
		skipped   = map[string]bool{}
	)

	for tries := opts.MaxTries; tries >= 1; tries-- {
		user := e.currentUser()
		if !e.online() || user == nil {
			e.logger.Debug("Flush skipped", "online", e.online(), "signed_in", user != nil)
			break
		}
		remaining, err := e.flushPass(ctx, user.ID, &res, failed, attempted, skipped)
		if err != nil {
			return res, err
		}
		if remaining == 0 || tries == 1 {
			break
		}
		if err := e.sleep(ctx, e.config.PassDelay); err != nil {
			return res, err
		}
	}

	ops, err := e.PendingOperations(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = len(ops)
	for _, op := range ops {
		if failed[op.ID] {
			res.Failed++
		} else if skipped[op.ID] && !attempted[op.ID] {
			res.Skipped++
		}
	}
	if res.Flushed > 0 || res.Failed > 0 {
		e.logger.Info("Flushed pending operations", "flushed", res.Flushed, "failed", res.Failed, "remaining", res.Remaining)
	}
	return res, nil
}

// flushPass walks a snapshot of the queue once and returns how many ops are left
func (e *Engine) flushPass(ctx context.Context, userID string, res *FlushResult, failed, attempted, skipped map[string]bool) (int, error) {
	snapshot, err := e.PendingOperations(ctx)
	if err != nil {
		return 0, err
	}

	// records with an earlier op still queued in this pass; later ops for them wait
	held := map[string]bool{}

	for _, op := range snapshot {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if op.UserID != "" && op.UserID != userID {
			skipped[op.ID] = true
			continue
		}
		key := opRecordKey(op)
		if key != "" && held[key] {
			skipped[op.ID] = true
			continue
		}
		if !op.NextAfter.IsZero() && e.now().Before(op.NextAfter) {
			skipped[op.ID] = true
			if key != "" {
				held[key] = true
			}
			continue
		}

		attempted[op.ID] = true
		dispatchErr := e.dispatch(ctx, userID, op)
		if dispatchErr == nil {
			if err := e.removeOp(ctx, op.ID); err != nil {
				return 0, err
			}
			delete(failed, op.ID)
			res.Flushed++
			flushedCounter.WithLabelValues(string(op.Type)).Inc()
			e.afterApplied(ctx, userID, op)
			continue
		}

		failedCounter.WithLabelValues(string(op.Type)).Inc()
		level := e.logger.Warn
		if isAuthError(dispatchErr) {
			level = e.logger.Error
		}
		level("Pending operation failed", "id", op.ID, "type", op.Type, "retry_count", op.RetryCount+1, "error", dispatchErr)

		updated, found, err := e.updateOp(ctx, op.ID, func(p *PendingOperation) {
			p.RetryCount++
			p.NextAfter = e.now().Add(e.Backoff(p.RetryCount)).UTC()
			p.LastError = errString(dispatchErr)
		})
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		failed[op.ID] = true
		if e.config.DeadLetterAfter > 0 && updated.RetryCount >= e.config.DeadLetterAfter {
			if err := e.deadLetter(ctx, op.ID); err != nil {
				return 0, err
			}
			delete(failed, op.ID)
			res.DeadLettered++
			continue
		}
		if key != "" {
			held[key] = true
		}
	}

	ops, err := e.PendingOperations(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// recordKey identifies the record an operation targets: the client id for workouts and
// meals, the local day for daily metrics. "" when the payload does not say.
func recordKey(typ OpType, payload []byte) string {
	var p struct {
		ClientID string `json:"client_id"`
		LocalDay string `json:"local_day"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	domain, _, _ := strings.Cut(string(typ), ".")
	id := p.ClientID
	if typ == OpDailyMetricUpsert {
		id = p.LocalDay
	}
	if id == "" {
		return ""
	}
	return domain + ":" + id
}

func opRecordKey(op PendingOperation) string {
	return recordKey(op.Type, op.Payload)
}

// dispatch replays one operation against the remote store
func (e *Engine) dispatch(ctx context.Context, userID string, op PendingOperation) error {
	switch op.Type {
	case OpWorkoutUpsert:
		var row fitsync.WorkoutRow
		if err := json.Unmarshal(op.Payload, &row); err != nil {
			return fmt.Errorf("decode %s payload: %w", op.Type, err)
		}
		row.UserID = userID
		return e.remote.UpsertWorkout(ctx, userID, row)
	case OpWorkoutDelete:
		var p deletePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", op.Type, err)
		}
		return e.remote.DeleteWorkout(ctx, userID, p.ClientID)
	case OpMealUpsert:
		var row fitsync.MealRow
		if err := json.Unmarshal(op.Payload, &row); err != nil {
			return fmt.Errorf("decode %s payload: %w", op.Type, err)
		}
		row.UserID = userID
		return e.remote.UpsertMeal(ctx, userID, row)
	case OpMealDelete:
		var p deletePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", op.Type, err)
		}
		return e.remote.DeleteMeal(ctx, userID, p.ClientID)
	case OpDailyMetricUpsert:
		var row fitsync.DailyMetricRow
		if err := json.Unmarshal(op.Payload, &row); err != nil {
			return fmt.Errorf("decode %s payload: %w", op.Type, err)
		}
		row.UserID = userID
		return e.remote.UpsertDailyMetric(ctx, userID, row)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type)
	}
}

// afterApplied pushes the day's totals once a record op has reached the remote
func (e *Engine) afterApplied(ctx context.Context, userID string, op PendingOperation) {
	if !e.config.SyncAggregates {
		return
	}
	var day string
	switch op.Type {
	case OpWorkoutUpsert, OpMealUpsert:
		var p struct {
			LocalDay string `json:"local_day"`
		}
		_ = json.Unmarshal(op.Payload, &p)
		day = p.LocalDay
	case OpWorkoutDelete, OpMealDelete:
		var p deletePayload
		_ = json.Unmarshal(op.Payload, &p)
		day = p.Date
	}
	if day == "" {
		return
	}
	if _, err := e.syncDayTotals(ctx, userID, day); err != nil {
		e.logger.Warn("Failed to sync day totals after flush", "day", day, "error", err)
	}
}
