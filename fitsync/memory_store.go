// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same upsert and ownership semantics as PostgresStore.
// Useful for tests and local demos.
type MemoryStore struct {
	mu       sync.Mutex
	workouts map[string]WorkoutRow
	meals    map[string]MealRow
	metrics  map[string]DailyMetricRow // key: user|day
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workouts: make(map[string]WorkoutRow),
		meals:    make(map[string]MealRow),
		metrics:  make(map[string]DailyMetricRow),
	}
}

func metricKey(userID, day string) string { return userID + "|" + day }

func (m *MemoryStore) UpsertWorkout(_ context.Context, userID string, row WorkoutRow) error {
	row.UserID = userID
	if err := NormalizeWorkout(&row); err != nil {
		return err
	}
	row.Exercises = append([]ExerciseRow(nil), row.Exercises...)
	row.UpdatedAt = stampUpdated(row.UpdatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.workouts[row.ClientID]; ok && cur.UserID != userID {
		return fmt.Errorf("%w: workout %s", ErrOwnershipConflict, row.ClientID)
	}
	m.workouts[row.ClientID] = row
	return nil
}

func (m *MemoryStore) DeleteWorkout(_ context.Context, userID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.workouts[clientID]; ok && cur.UserID == userID {
		delete(m.workouts, clientID)
	}
	return nil
}

func (m *MemoryStore) ListWorkouts(_ context.Context, userID, fromDay, toDay string) ([]WorkoutRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkoutRow, 0)
	for _, w := range m.workouts {
		if w.UserID == userID && w.LocalDay >= fromDay && w.LocalDay <= toDay {
			w.Exercises = append([]ExerciseRow(nil), w.Exercises...)
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocalDay != out[j].LocalDay {
			return out[i].LocalDay < out[j].LocalDay
		}
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

func (m *MemoryStore) UpsertMeal(_ context.Context, userID string, row MealRow) error {
	row.UserID = userID
	if err := NormalizeMeal(&row); err != nil {
		return err
	}
	row.Items = append([]MealItemRow(nil), row.Items...)
	row.UpdatedAt = stampUpdated(row.UpdatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.meals[row.ClientID]; ok && cur.UserID != userID {
		return fmt.Errorf("%w: meal %s", ErrOwnershipConflict, row.ClientID)
	}
	m.meals[row.ClientID] = row
	return nil
}

func (m *MemoryStore) DeleteMeal(_ context.Context, userID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.meals[clientID]; ok && cur.UserID == userID {
		delete(m.meals, clientID)
	}
	return nil
}

func (m *MemoryStore) ListMeals(_ context.Context, userID, fromDay, toDay string) ([]MealRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MealRow, 0)
	for _, meal := range m.meals {
		if meal.UserID == userID && meal.LocalDay >= fromDay && meal.LocalDay <= toDay {
			meal.Items = append([]MealItemRow(nil), meal.Items...)
			out = append(out, meal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocalDay != out[j].LocalDay {
			return out[i].LocalDay < out[j].LocalDay
		}
		if !out[i].EatenAt.Equal(out[j].EatenAt) {
			return out[i].EatenAt.Before(out[j].EatenAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

func (m *MemoryStore) UpsertDailyMetric(_ context.Context, userID string, row DailyMetricRow) error {
	row.UserID = userID
	if err := NormalizeDailyMetric(&row); err != nil {
		return err
	}
	row.UpdatedAt = stampUpdated(row.UpdatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metricKey(userID, row.LocalDay)] = row
	return nil
}

func (m *MemoryStore) GetDailyMetric(_ context.Context, userID, day string) (*DailyMetricRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.metrics[metricKey(userID, day)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemoryStore) ListDailyMetrics(_ context.Context, userID, fromDay, toDay string) ([]DailyMetricRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DailyMetricRow, 0)
	for _, row := range m.metrics {
		if row.UserID == userID && row.LocalDay >= fromDay && row.LocalDay <= toDay {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalDay < out[j].LocalDay })
	return out, nil
}
