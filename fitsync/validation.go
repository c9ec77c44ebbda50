// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Validation error sentinels for better error mapping
var (
	ErrInvalidRow        = errors.New("invalid_row")
	ErrOwnershipConflict = errors.New("ownership_conflict")
	ErrNotFound          = errors.New("not_found")
)

// ParseDay parses a YYYY-MM-DD local-day string.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid local_day %q", ErrInvalidRow, day)
	}
	return t, nil
}

// ClampCalories maps NaN, infinities and negative values to zero.
func ClampCalories(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// NormalizeWorkout validates a workout row and recomputes its total
func NormalizeWorkout(row *WorkoutRow) error {
	row.ClientID = strings.TrimSpace(row.ClientID)
	if row.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidRow)
	}
	if _, err := ParseDay(row.LocalDay); err != nil {
		return err
	}
	total := 0.0
	for i := range row.Exercises {
		row.Exercises[i].Calories = ClampCalories(row.Exercises[i].Calories)
		total += row.Exercises[i].Calories
	}
	if len(row.Exercises) > 0 {
		row.TotalCalories = total
	}
	row.TotalCalories = ClampCalories(row.TotalCalories)
	if row.Exercises == nil {
		row.Exercises = []ExerciseRow{}
	}
	return nil
}

// NormalizeMeal validates a meal row and recomputes its total
func NormalizeMeal(row *MealRow) error {
	row.ClientID = strings.TrimSpace(row.ClientID)
	if row.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidRow)
	}
	if _, err := ParseDay(row.LocalDay); err != nil {
		return err
	}
	total := 0.0
	for i := range row.Items {
		row.Items[i].Calories = ClampCalories(row.Items[i].Calories)
		total += row.Items[i].Calories
	}
	if len(row.Items) > 0 {
		row.TotalCalories = total
	}
	row.TotalCalories = ClampCalories(row.TotalCalories)
	if row.Items == nil {
		row.Items = []MealItemRow{}
	}
	return nil
}

// NormalizeDailyMetric validates a daily metric row; net is always consumed - burned.
func NormalizeDailyMetric(row *DailyMetricRow) error {
	if _, err := ParseDay(row.LocalDay); err != nil {
		return err
	}
	row.Consumed = ClampCalories(row.Consumed)
	row.Burned = ClampCalories(row.Burned)
	row.Net = row.Consumed - row.Burned
	return nil
}
