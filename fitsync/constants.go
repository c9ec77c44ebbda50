// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

// DayLayout is the ISO local calendar day format used as the aggregate key
const DayLayout = "2006-01-02"

// API routes
const (
	RouteWorkouts     = "/v1/workouts"
	RouteMeals        = "/v1/meals"
	RouteDailyMetrics = "/v1/daily-metrics"
)

// Error codes returned in ErrorResponse.Error
const (
	CodeMethodNotAllowed  = "method_not_allowed"
	CodeAuthFailed        = "authentication_failed"
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeOwnershipConflict = "ownership_conflict"
	CodeInternal          = "internal_error"
)
