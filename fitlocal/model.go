// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"encoding/json"
	"time"
)

// Persisted key names. History and metric keys are scoped per user with ScopedKey.
const (
	KeyPendingOps       = "pendingOps"
	KeyDeadOps          = "deadOps"
	KeyWorkoutHistory   = "workoutHistory"
	KeyMealHistory      = "mealHistory"
	KeyDailyMetricCache = "dailyMetricsCache"
	KeyClientID         = "clientId"
	KeyLocalMigrated    = "localMigrated"
)

// OpType names the remote mutation a PendingOperation replays
type OpType string

const (
	OpWorkoutUpsert     OpType = "workout.upsert"
	OpWorkoutDelete     OpType = "workout.delete"
	OpMealUpsert        OpType = "meal.upsert"
	OpMealDelete        OpType = "meal.delete"
	OpDailyMetricUpsert OpType = "daily_metric.upsert"
)

// PendingOperation is a queued mutation awaiting remote delivery.
// UserID is empty for writes made while signed out; the next signed-in user adopts them.
type PendingOperation struct {
	ID         string          `json:"id"`
	Type       OpType          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	UserID     string          `json:"user_id,omitempty"`
	RetryCount int             `json:"retry_count"`
	NextAfter  time.Time       `json:"next_after,omitzero"`
	TS         time.Time       `json:"ts"`
	LastError  string          `json:"last_error,omitempty"`
}

// deletePayload is the payload of workout.delete and meal.delete
type deletePayload struct {
	ClientID string `json:"client_id"`
	Date     string `json:"date,omitempty"`
}

// Exercise is one line of a workout
type Exercise struct {
	Name        string    `json:"name"`
	Calories    float64   `json:"calories"`
	DurationMin float64   `json:"durationMin,omitempty"`
	PerformedAt time.Time `json:"performedAt,omitzero"`
}

// Workout is the local-cache shape of a workout session
type Workout struct {
	ClientID      string     `json:"client_id,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Date          string     `json:"date"`
	StartedAt     time.Time  `json:"startedAt,omitzero"`
	TotalCalories float64    `json:"totalCalories"`
	Exercises     []Exercise `json:"exercises"`
	UpdatedAt     time.Time  `json:"updatedAt,omitzero"`
}

// MealItem is one food line of a meal
type MealItem struct {
	Name     string    `json:"name"`
	Calories float64   `json:"calories"`
	LoggedAt time.Time `json:"loggedAt,omitzero"`
}

// Meal is the local-cache shape of a meal
type Meal struct {
	ClientID  string     `json:"client_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	Date      string     `json:"date,omitempty"`
	Name      string     `json:"name"`
	Calories  float64    `json:"calories"`
	EatenAt   time.Time  `json:"eatenAt,omitzero"`
	Items     []MealItem `json:"items,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitzero"`
}

// MealDay groups a local day's meals in mealHistory
type MealDay struct {
	Date  string `json:"date"`
	Meals []Meal `json:"meals"`
}

// DayTotals is the per-day aggregate; Net is always Consumed - Burned.
type DayTotals struct {
	Consumed  float64   `json:"consumed"`
	Burned    float64   `json:"burned"`
	Net       float64   `json:"net"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// DailyMetric is the input of SaveDailyMetricLocalFirst
type DailyMetric struct {
	ClientID string
	Date     string
	Consumed float64
	Burned   float64
}

// SaveResult reports how a local-first write reached the remote store
type SaveResult struct {
	ClientID  string
	Queued    bool // remote write deferred to the pending queue
	LocalOnly bool // offline; no remote attempt was made
}

// migrationFlag is persisted under KeyLocalMigrated
type migrationFlag struct {
	Done   bool      `json:"done"`
	UserID string    `json:"user_id,omitempty"`
	At     time.Time `json:"at,omitzero"`
}

func recompute(t DayTotals) DayTotals {
	t.Consumed = clampCalories(t.Consumed)
	t.Burned = clampCalories(t.Burned)
	t.Net = t.Consumed - t.Burned
	return t
}
