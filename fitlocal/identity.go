// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ScopedKey namespaces base by user; anonymous callers get the device-level key
func ScopedKey(base, userID string) string {
	if userID == "" {
		return base
	}
	return base + ":" + userID
}

// GetOrCreateClientID returns the device identifier, minting and persisting it once
func (e *Engine) GetOrCreateClientID(ctx context.Context) (string, error) {
	e.idMu.Lock()
	defer e.idMu.Unlock()

	id, ok, err := e.storage.Get(ctx, KeyClientID)
	if err != nil {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if err := e.storage.Set(ctx, KeyClientID, id); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	e.logger.Debug("Generated client id", "client_id", id)
	return id, nil
}

// EnsureScopedFromLegacy copies the unscoped document under base into the user's slot.
// It does nothing when any scoped slot for base already exists (for any user), so a
// second account on a shared device never inherits the first account's data.
// Array records owned by another user are dropped; if that would empty a non-empty
// attributed array the promotion is abandoned. The legacy document is left in place.
// Returns whether data was promoted.
func (e *Engine) EnsureScopedFromLegacy(ctx context.Context, base, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	existing, err := e.storage.Keys(ctx, base+":")
	if err != nil {
		return false, fmt.Errorf("failed to list scoped keys for %s: %w", base, err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	raw, ok, err := e.storage.Get(ctx, base)
	if err != nil {
		return false, fmt.Errorf("failed to read legacy %s: %w", base, err)
	}
	if !ok || raw == "" {
		return false, nil
	}

	var records []map[string]any
	if err := json.Unmarshal([]byte(raw), &records); err == nil {
		kept, attributed := filterOwned(records, userID)
		if len(records) > 0 && len(kept) == 0 && attributed {
			e.logger.Warn("Legacy data belongs to another account; not promoting", "key", base, "user_id", userID, "records", len(records))
			return false, nil
		}
		data, err := json.Marshal(kept)
		if err != nil {
			return false, fmt.Errorf("failed to encode promoted %s: %w", base, err)
		}
		raw = string(data)
	}

	if err := e.storage.Set(ctx, ScopedKey(base, userID), raw); err != nil {
		return false, fmt.Errorf("failed to promote %s: %w", base, err)
	}
	e.logger.Info("Promoted legacy local data", "key", base, "user_id", userID)
	return true, nil
}

// filterOwned drops records declaring a different owner, descending into nested record
// arrays such as a meal day's meals. A group whose nested records were all dropped is
// dropped too. attributed reports whether any record, at any depth, declared an owner.
func filterOwned(records []map[string]any, userID string) (kept []map[string]any, attributed bool) {
	kept = make([]map[string]any, 0, len(records))
	for _, rec := range records {
		owner := recordOwner(rec)
		if owner != "" {
			attributed = true
			if owner != userID {
				continue
			}
		}
		emptied := false
		for field, v := range rec {
			children, ok := nestedRecords(v)
			if !ok {
				continue
			}
			keptChildren, childAttributed := filterOwned(children, userID)
			attributed = attributed || childAttributed
			if len(keptChildren) == 0 {
				emptied = true
				break
			}
			rec[field] = keptChildren
		}
		if emptied {
			continue
		}
		kept = append(kept, rec)
	}
	return kept, attributed
}

// nestedRecords reports v as a non-empty array of JSON objects
func nestedRecords(v any) ([]map[string]any, bool) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, obj)
	}
	return out, true
}

func recordOwner(rec map[string]any) string {
	for _, field := range []string{"user_id", "userId", "owner_id"} {
		if s, ok := rec[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
