// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"

	"github.com/iceman4177/CalFit-sub000/fitsync"
)

// RemoteStore is the durable shared store. Upserts are keyed by client_id,
// or by (user, local_day) for daily metrics. *fitsync.PostgresStore and
// *HTTPRemote both satisfy it.
type RemoteStore interface {
	UpsertWorkout(ctx context.Context, userID string, row fitsync.WorkoutRow) error
	DeleteWorkout(ctx context.Context, userID, clientID string) error
	UpsertMeal(ctx context.Context, userID string, row fitsync.MealRow) error
	DeleteMeal(ctx context.Context, userID, clientID string) error
	UpsertDailyMetric(ctx context.Context, userID string, row fitsync.DailyMetricRow) error
	// GetDailyMetric returns nil, nil when the day has no row
	GetDailyMetric(ctx context.Context, userID, day string) (*fitsync.DailyMetricRow, error)
	ListWorkouts(ctx context.Context, userID, fromDay, toDay string) ([]fitsync.WorkoutRow, error)
	ListMeals(ctx context.Context, userID, fromDay, toDay string) ([]fitsync.MealRow, error)
	ListDailyMetrics(ctx context.Context, userID, fromDay, toDay string) ([]fitsync.DailyMetricRow, error)
}

var (
	_ RemoteStore = (*fitsync.PostgresStore)(nil)
	_ RemoteStore = (*fitsync.MemoryStore)(nil)
	_ RemoteStore = (*HTTPRemote)(nil)
)

func workoutRow(userID string, w Workout) fitsync.WorkoutRow {
	row := fitsync.WorkoutRow{
		ClientID:      w.ClientID,
		UserID:        userID,
		LocalDay:      w.Date,
		StartedAt:     w.StartedAt,
		TotalCalories: w.TotalCalories,
		UpdatedAt:     w.UpdatedAt,
		Exercises:     make([]fitsync.ExerciseRow, 0, len(w.Exercises)),
	}
	for _, ex := range w.Exercises {
		row.Exercises = append(row.Exercises, fitsync.ExerciseRow{
			Name:        ex.Name,
			Calories:    ex.Calories,
			DurationMin: ex.DurationMin,
			PerformedAt: ex.PerformedAt,
		})
	}
	return row
}

func workoutFromRow(row fitsync.WorkoutRow) Workout {
	w := Workout{
		ClientID:      row.ClientID,
		UserID:        row.UserID,
		Date:          row.LocalDay,
		StartedAt:     row.StartedAt,
		TotalCalories: row.TotalCalories,
		UpdatedAt:     row.UpdatedAt,
		Exercises:     make([]Exercise, 0, len(row.Exercises)),
	}
	for _, ex := range row.Exercises {
		w.Exercises = append(w.Exercises, Exercise{
			Name:        ex.Name,
			Calories:    ex.Calories,
			DurationMin: ex.DurationMin,
			PerformedAt: ex.PerformedAt,
		})
	}
	return w
}

func mealRow(userID string, m Meal) fitsync.MealRow {
	row := fitsync.MealRow{
		ClientID:      m.ClientID,
		UserID:        userID,
		LocalDay:      m.Date,
		Name:          m.Name,
		EatenAt:       m.EatenAt,
		TotalCalories: m.Calories,
		UpdatedAt:     m.UpdatedAt,
		Items:         make([]fitsync.MealItemRow, 0, len(m.Items)),
	}
	for _, it := range m.Items {
		row.Items = append(row.Items, fitsync.MealItemRow{
			Name:     it.Name,
			Calories: it.Calories,
			LoggedAt: it.LoggedAt,
		})
	}
	return row
}

func mealFromRow(row fitsync.MealRow) Meal {
	m := Meal{
		ClientID:  row.ClientID,
		UserID:    row.UserID,
		Date:      row.LocalDay,
		Name:      row.Name,
		Calories:  row.TotalCalories,
		EatenAt:   row.EatenAt,
		UpdatedAt: row.UpdatedAt,
	}
	for _, it := range row.Items {
		m.Items = append(m.Items, MealItem{
			Name:     it.Name,
			Calories: it.Calories,
			LoggedAt: it.LoggedAt,
		})
	}
	return m
}

func dailyMetricRow(userID, day string, t DayTotals) fitsync.DailyMetricRow {
	t = recompute(t)
	return fitsync.DailyMetricRow{
		UserID:    userID,
		LocalDay:  day,
		Consumed:  t.Consumed,
		Burned:    t.Burned,
		Net:       t.Net,
		UpdatedAt: t.UpdatedAt,
	}
}

func totalsFromRow(row fitsync.DailyMetricRow) DayTotals {
	return recompute(DayTotals{
		Consumed:  row.Consumed,
		Burned:    row.Burned,
		UpdatedAt: row.UpdatedAt,
	})
}
