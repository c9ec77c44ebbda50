// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// MigrationReport describes one MigrateLocalToCloud run
type MigrationReport struct {
	AlreadyDone bool
	Workouts    int // workouts uploaded
	Meals       int // meals uploaded
	Days        int // day aggregates upserted
	Failures    int // remote calls that failed
}

// MigrationDone reports whether the bulk upload has completed on this device
func (e *Engine) MigrationDone(ctx context.Context) (bool, error) {
	var flag migrationFlag
	if err := e.loadJSON(ctx, KeyLocalMigrated, &flag); err != nil {
		return false, err
	}
	return flag.Done, nil
}

// MigrateLocalToCloud uploads all cached history once per device. Legacy records get an
// idempotency key (written back locally) and synthesized timestamps: sessions at local
// noon of their day, line items at the session time. Day totals are folded into the
// aggregate cache and upserted. The completion flag is set only when every upload
// succeeded; any failure leaves it unset so the next bootstrap retries the whole pass.
func (e *Engine) MigrateLocalToCloud(ctx context.Context, userID string) (MigrationReport, error) {
	var report MigrationReport
	if userID == "" {
		return report, ErrNotAuthenticated
	}
	done, err := e.MigrationDone(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read migration flag: %w", err)
	}
	if done {
		report.AlreadyDone = true
		return report, nil
	}
	if !e.online() {
		return report, ErrOffline
	}

	workouts, meals, folded, err := e.prepareMigration(ctx, userID)
	if err != nil {
		return report, err
	}

	for _, w := range workouts {
		if err := e.pushWorkout(ctx, userID, w); err != nil {
			report.Failures++
			e.logger.Warn("Migration upload failed", "kind", "workout", "client_id", w.ClientID, "error", err)
			continue
		}
		report.Workouts++
	}
	for _, m := range meals {
		if err := e.pushMeal(ctx, userID, m); err != nil {
			report.Failures++
			e.logger.Warn("Migration upload failed", "kind", "meal", "client_id", m.ClientID, "error", err)
			continue
		}
		report.Meals++
	}

	daysTotals, err := e.foldTotals(ctx, userID, folded)
	if err != nil {
		return report, err
	}
	days := make([]string, 0, len(daysTotals))
	for day := range daysTotals {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		if err := e.pushDailyMetric(ctx, userID, day, daysTotals[day]); err != nil {
			report.Failures++
			e.logger.Warn("Migration upload failed", "kind", "daily_metric", "day", day, "error", err)
			continue
		}
		report.Days++
	}

	if report.Failures > 0 {
		return report, fmt.Errorf("migration incomplete: %d uploads failed", report.Failures)
	}
	if err := e.saveJSON(ctx, KeyLocalMigrated, migrationFlag{Done: true, UserID: userID, At: e.now().UTC()}); err != nil {
		return report, fmt.Errorf("failed to persist migration flag: %w", err)
	}
	e.logger.Info("Migrated local history to cloud", "user_id", userID, "workouts", report.Workouts, "meals", report.Meals, "days", report.Days)
	return report, nil
}

// prepareMigration reshapes cached history in place and returns the records to upload
// along with per-day sums {consumed, burned}
func (e *Engine) prepareMigration(ctx context.Context, userID string) ([]Workout, []Meal, map[string]DayTotals, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	workouts, err := e.loadWorkouts(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read workout history: %w", err)
	}
	mealDays, err := e.loadMealDays(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read meal history: %w", err)
	}

	folded := map[string]DayTotals{}
	var uploadWorkouts []Workout
	for i := range workouts {
		w := &workouts[i]
		if w.Date == "" && w.StartedAt.IsZero() {
			e.logger.Warn("Skipping undated legacy workout", "client_id", w.ClientID)
			continue
		}
		if w.ClientID == "" {
			w.ClientID = uuid.New().String()
		}
		if w.Date == "" {
			w.Date = e.dayOf(w.StartedAt)
		}
		if w.StartedAt.IsZero() {
			w.StartedAt = e.localNoon(w.Date)
		}
		total := 0.0
		for j := range w.Exercises {
			w.Exercises[j].Calories = clampCalories(w.Exercises[j].Calories)
			if w.Exercises[j].PerformedAt.IsZero() {
				w.Exercises[j].PerformedAt = w.StartedAt
			}
			total += w.Exercises[j].Calories
		}
		if len(w.Exercises) > 0 {
			w.TotalCalories = total
		}
		w.TotalCalories = clampCalories(w.TotalCalories)
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = w.StartedAt
		}

		t := folded[w.Date]
		t.Burned += w.TotalCalories
		folded[w.Date] = t
		uploadWorkouts = append(uploadWorkouts, *w)
	}

	var uploadMeals []Meal
	for di := range mealDays {
		day := mealDays[di].Date
		if day == "" {
			continue
		}
		for mi := range mealDays[di].Meals {
			m := &mealDays[di].Meals[mi]
			if m.ClientID == "" {
				m.ClientID = uuid.New().String()
			}
			m.Date = day
			if m.EatenAt.IsZero() {
				m.EatenAt = e.localNoon(day)
			}
			if len(m.Items) == 0 && m.Calories > 0 {
				m.Items = []MealItem{{Name: m.Name, Calories: m.Calories}}
			}
			total := 0.0
			for j := range m.Items {
				m.Items[j].Calories = clampCalories(m.Items[j].Calories)
				if m.Items[j].LoggedAt.IsZero() {
					m.Items[j].LoggedAt = m.EatenAt
				}
				total += m.Items[j].Calories
			}
			if len(m.Items) > 0 {
				m.Calories = total
			}
			m.Calories = clampCalories(m.Calories)
			if m.UpdatedAt.IsZero() {
				m.UpdatedAt = m.EatenAt
			}

			t := folded[day]
			t.Consumed += m.Calories
			folded[day] = t
			uploadMeals = append(uploadMeals, *m)
		}
	}

	// Keys are written back before uploading so a retried migration reuses them
	if err := e.saveWorkouts(ctx, userID, workouts); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to write back workout keys: %w", err)
	}
	if err := e.saveMealDays(ctx, userID, mealDays); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to write back meal keys: %w", err)
	}
	return uploadWorkouts, uploadMeals, folded, nil
}

// foldTotals raises each cached day aggregate to at least the history sums and
// returns the resulting totals for the folded days
func (e *Engine) foldTotals(ctx context.Context, userID string, folded map[string]DayTotals) (map[string]DayTotals, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	totals, err := e.loadTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read day totals: %w", err)
	}
	now := e.now()
	out := make(map[string]DayTotals, len(folded))
	for day, sums := range folded {
		t := totals[day]
		if sums.Consumed > t.Consumed {
			t.Consumed = sums.Consumed
		}
		if sums.Burned > t.Burned {
			t.Burned = sums.Burned
		}
		t.UpdatedAt = now
		t = recompute(t)
		totals[day] = t
		out[day] = t
	}
	if err := e.saveTotals(ctx, userID, totals); err != nil {
		return nil, fmt.Errorf("failed to save day totals: %w", err)
	}
	return out, nil
}
