// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"time"
)

func (e *Engine) loadWorkouts(ctx context.Context, userID string) ([]Workout, error) {
	var out []Workout
	if err := e.loadJSON(ctx, ScopedKey(KeyWorkoutHistory, userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) saveWorkouts(ctx context.Context, userID string, workouts []Workout) error {
	if workouts == nil {
		workouts = []Workout{}
	}
	return e.saveJSON(ctx, ScopedKey(KeyWorkoutHistory, userID), workouts)
}

func (e *Engine) loadMealDays(ctx context.Context, userID string) ([]MealDay, error) {
	var out []MealDay
	if err := e.loadJSON(ctx, ScopedKey(KeyMealHistory, userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) saveMealDays(ctx context.Context, userID string, days []MealDay) error {
	if days == nil {
		days = []MealDay{}
	}
	return e.saveJSON(ctx, ScopedKey(KeyMealHistory, userID), days)
}

func (e *Engine) loadTotals(ctx context.Context, userID string) (map[string]DayTotals, error) {
	out := map[string]DayTotals{}
	if err := e.loadJSON(ctx, ScopedKey(KeyDailyMetricCache, userID), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]DayTotals{}
	}
	return out, nil
}

func (e *Engine) saveTotals(ctx context.Context, userID string, totals map[string]DayTotals) error {
	return e.saveJSON(ctx, ScopedKey(KeyDailyMetricCache, userID), totals)
}

// adjustDay applies calorie deltas to a day, never going below zero
func adjustDay(totals map[string]DayTotals, day string, dConsumed, dBurned float64, at time.Time) DayTotals {
	t := totals[day]
	t.Consumed += dConsumed
	t.Burned += dBurned
	t.UpdatedAt = at
	t = recompute(t)
	totals[day] = t
	return t
}

// DayTotals returns the cached aggregate for day for the signed-in user (zero when absent)
func (e *Engine) DayTotals(ctx context.Context, day string) (DayTotals, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	totals, err := e.loadTotals(ctx, e.userID())
	if err != nil {
		return DayTotals{}, err
	}
	return recompute(totals[day]), nil
}

// TodayTotals returns the cached aggregate for the current local day
func (e *Engine) TodayTotals(ctx context.Context) (DayTotals, error) {
	return e.DayTotals(ctx, e.Today())
}

// WorkoutHistory returns the cached workouts for the signed-in user
func (e *Engine) WorkoutHistory(ctx context.Context) ([]Workout, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return e.loadWorkouts(ctx, e.userID())
}

// MealHistory returns the cached meals, grouped by day, for the signed-in user
func (e *Engine) MealHistory(ctx context.Context) ([]MealDay, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return e.loadMealDays(ctx, e.userID())
}

// cachedDay returns the day a cached workout or meal is filed under, "" when unknown
func (e *Engine) cachedDay(ctx context.Context, userID string, domain Domain, clientID string) string {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	switch domain {
	case DomainWorkout:
		workouts, err := e.loadWorkouts(ctx, userID)
		if err == nil {
			if i := findWorkout(workouts, clientID); i >= 0 {
				return workouts[i].Date
			}
		}
	case DomainMeal:
		days, err := e.loadMealDays(ctx, userID)
		if err == nil {
			if di, _ := findMeal(days, clientID); di >= 0 {
				return days[di].Date
			}
		}
	}
	return ""
}

func findWorkout(workouts []Workout, clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range workouts {
		if workouts[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

// findMeal returns the day index and meal index of clientID, or -1, -1
func findMeal(days []MealDay, clientID string) (int, int) {
	if clientID == "" {
		return -1, -1
	}
	for di := range days {
		for mi := range days[di].Meals {
			if days[di].Meals[mi].ClientID == clientID {
				return di, mi
			}
		}
	}
	return -1, -1
}

func putMeal(days []MealDay, m Meal) []MealDay {
	for di := range days {
		if days[di].Date == m.Date {
			days[di].Meals = append(days[di].Meals, m)
			return days
		}
	}
	return append(days, MealDay{Date: m.Date, Meals: []Meal{m}})
}

func removeMealAt(days []MealDay, di, mi int) []MealDay {
	days[di].Meals = append(days[di].Meals[:mi:mi], days[di].Meals[mi+1:]...)
	if len(days[di].Meals) == 0 {
		days = append(days[:di:di], days[di+1:]...)
	}
	return days
}
