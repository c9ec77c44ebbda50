// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling.
var (
	ErrNotAuthenticated = errors.New("no signed-in user")
	ErrOffline          = errors.New("offline")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNetworkFailure   = errors.New("network failure")
	ErrServerError      = errors.New("server error")
	ErrNotFound         = errors.New("not found")
	ErrRejected         = errors.New("rejected by server")
	ErrUnknownOperation = errors.New("unknown operation type")
)

// RemoteError wraps a failed remote call with operation context.
type RemoteError struct {
	Op     string // e.g. "PUT /v1/workouts"
	Status int    // HTTP status, 0 for transport failures
	Err    error  // underlying typed error
	Detail string // server message if any
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: status %d: %v: %s", e.Op, e.Status, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
