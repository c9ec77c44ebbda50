// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"time"
)

// REST/JSON models shared by the HTTP API and the device client.
// Every row is linked to its device-side record by the client-generated ClientID.

// ExerciseRow is one exercise performed within a workout session
type ExerciseRow struct {
	Name        string    `json:"name"`
	Calories    float64   `json:"calories"`
	DurationMin float64   `json:"duration_min,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

// WorkoutRow is the normalized remote shape of a workout session
type WorkoutRow struct {
	ClientID      string        `json:"client_id"`      // Idempotency key (upsert conflict target)
	UserID        string        `json:"user_id"`        // Owner; overridden by the authenticated user on the server
	LocalDay      string        `json:"local_day"`      // YYYY-MM-DD in device-local time
	StartedAt     time.Time     `json:"started_at"`     // Session start
	Exercises     []ExerciseRow `json:"exercises"`      // Line items
	TotalCalories float64       `json:"total_calories"` // Sum of exercise calories, clamped >= 0
	UpdatedAt     time.Time     `json:"updated_at"`
}

// MealItemRow is one food line within a meal
type MealItemRow struct {
	Name     string    `json:"name"`
	Calories float64   `json:"calories"`
	LoggedAt time.Time `json:"logged_at"`
}

// MealRow is the normalized remote shape of a meal
type MealRow struct {
	ClientID      string        `json:"client_id"`
	UserID        string        `json:"user_id"`
	LocalDay      string        `json:"local_day"`
	Name          string        `json:"name"`
	EatenAt       time.Time     `json:"eaten_at"`
	Items         []MealItemRow `json:"items"`
	TotalCalories float64       `json:"total_calories"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// DailyMetricRow is the per-day aggregate, unique on (user_id, local_day)
type DailyMetricRow struct {
	ClientID  string    `json:"client_id,omitempty"`
	UserID    string    `json:"user_id"`
	LocalDay  string    `json:"local_day"`
	Consumed  float64   `json:"consumed"`
	Burned    float64   `json:"burned"`
	Net       float64   `json:"net"` // Always consumed - burned
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkoutListResponse is returned by GET /v1/workouts
type WorkoutListResponse struct {
	Workouts []WorkoutRow `json:"workouts"`
}

// MealListResponse is returned by GET /v1/meals
type MealListResponse struct {
	Meals []MealRow `json:"meals"`
}

// DailyMetricListResponse is returned by GET /v1/daily-metrics
type DailyMetricListResponse struct {
	Metrics []DailyMetricRow `json:"metrics"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status  string `json:"status"`   // healthy, unhealthy
	AppName string `json:"app_name"` // Application name
}
