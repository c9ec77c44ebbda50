// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated caller through a request context.
package auth

import (
	"context"
)

type contextKey struct{}

// Identity is the signed-in user and the device the request came from
type Identity struct {
	UserID   string
	DeviceID string
	Email    string
}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// UserID returns the authenticated user, or "" with ok=false when absent
func UserID(ctx context.Context) (string, bool) {
	id, ok := FromContext(ctx)
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}

// DeviceID returns the authenticated device, or "" with ok=false when absent
func DeviceID(ctx context.Context) (string, bool) {
	id, ok := FromContext(ctx)
	if !ok || id.DeviceID == "" {
		return "", false
	}
	return id.DeviceID, true
}
