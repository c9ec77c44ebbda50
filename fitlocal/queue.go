// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)

func (e *Engine) newOpID() string {
	return ulid.MustNew(ulid.Timestamp(e.now()), rand.Reader).String()
}

// withQueue runs fn on the persisted queue under the queue lease and saves the result
func (e *Engine) withQueue(ctx context.Context, fn func(ops []PendingOperation) ([]PendingOperation, error)) error {
	unlock, err := e.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var ops []PendingOperation
	if err := e.loadJSON(ctx, KeyPendingOps, &ops); err != nil {
		return fmt.Errorf("failed to load pending queue: %w", err)
	}
	next, err := fn(ops)
	if err != nil {
		return err
	}
	if next == nil {
		next = []PendingOperation{}
	}
	if err := e.saveJSON(ctx, KeyPendingOps, next); err != nil {
		return fmt.Errorf("failed to save pending queue: %w", err)
	}
	queueDepthGauge.Set(float64(len(next)))
	return nil
}

// Enqueue appends a mutation for later delivery. payload is JSON-encoded.
func (e *Engine) Enqueue(ctx context.Context, typ OpType, userID string, payload any) (PendingOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	op := PendingOperation{
		ID:      e.newOpID(),
		Type:    typ,
		Payload: data,
		UserID:  userID,
		TS:      e.now().UTC(),
	}
	err = e.withQueue(ctx, func(ops []PendingOperation) ([]PendingOperation, error) {
		return append(ops, op), nil
	})
	if err != nil {
		return PendingOperation{}, err
	}
	e.logger.Debug("Queued operation", "id", op.ID, "type", op.Type, "user_id", userID)
	return op, nil
}

// PendingOperations returns a snapshot of the queue in enqueue order
func (e *Engine) PendingOperations(ctx context.Context) ([]PendingOperation, error) {
	unlock, err := e.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var ops []PendingOperation
	if err := e.loadJSON(ctx, KeyPendingOps, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// DeadOperations returns operations that exceeded Config.DeadLetterAfter
func (e *Engine) DeadOperations(ctx context.Context) ([]PendingOperation, error) {
	var ops []PendingOperation
	if err := e.loadJSON(ctx, KeyDeadOps, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (e *Engine) removeOp(ctx context.Context, id string) error {
	return e.withQueue(ctx, func(ops []PendingOperation) ([]PendingOperation, error) {
		out := ops[:0]
		for _, op := range ops {
			if op.ID != id {
				out = append(out, op)
			}
		}
		return out, nil
	})
}

// updateOp mutates the queued op with id; returns the updated copy and whether it was found
func (e *Engine) updateOp(ctx context.Context, id string, fn func(op *PendingOperation)) (PendingOperation, bool, error) {
	var (
		updated PendingOperation
		found   bool
	)
	err := e.withQueue(ctx, func(ops []PendingOperation) ([]PendingOperation, error) {
		for i := range ops {
			if ops[i].ID == id {
				fn(&ops[i])
				updated, found = ops[i], true
				break
			}
		}
		return ops, nil
	})
	return updated, found, err
}

// deadLetter moves the op with id from the queue to the dead-letter list
func (e *Engine) deadLetter(ctx context.Context, id string) error {
	var moved *PendingOperation
	err := e.withQueue(ctx, func(ops []PendingOperation) ([]PendingOperation, error) {
		out := ops[:0]
		for _, op := range ops {
			if op.ID == id {
				op := op
				moved = &op
				continue
			}
			out = append(out, op)
		}
		if moved == nil {
			return out, nil
		}
		var dead []PendingOperation
		if err := e.loadJSON(ctx, KeyDeadOps, &dead); err != nil {
			return nil, err
		}
		if err := e.saveJSON(ctx, KeyDeadOps, append(dead, *moved)); err != nil {
			return nil, fmt.Errorf("failed to save dead-letter list: %w", err)
		}
		return out, nil
	})
	if err == nil && moved != nil {
		deadLetterCounter.WithLabelValues(string(moved.Type)).Inc()
		e.logger.Warn("Moved operation to dead-letter list", "id", moved.ID, "type", moved.Type, "retry_count", moved.RetryCount, "last_error", moved.LastError)
	}
	return err
}
