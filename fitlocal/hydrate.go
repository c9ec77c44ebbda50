// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"fmt"
)

// HydrateTodayTotalsFromCloud replaces the cached aggregate for today with the remote row.
// When the remote has no row, today is zeroed and zero-valued events are emitted for
// every domain so stale numbers from another account or device never linger.
func (e *Engine) HydrateTodayTotalsFromCloud(ctx context.Context, userID string) (DayTotals, error) {
	if userID == "" {
		return DayTotals{}, ErrNotAuthenticated
	}
	if !e.online() {
		return DayTotals{}, ErrOffline
	}
	today := e.Today()
	row, err := e.remote.GetDailyMetric(ctx, userID, today)
	if err != nil {
		return DayTotals{}, fmt.Errorf("failed to fetch today's totals: %w", err)
	}

	t := DayTotals{UpdatedAt: e.now()}
	if row != nil {
		t = totalsFromRow(*row)
	}
	t = recompute(t)

	e.cacheMu.Lock()
	totals, err := e.loadTotals(ctx, userID)
	if err == nil {
		totals[today] = t
		err = e.saveTotals(ctx, userID, totals)
	}
	e.cacheMu.Unlock()
	if err != nil {
		return DayTotals{}, err
	}

	if row == nil {
		for _, d := range []Domain{DomainMeal, DomainWorkout, DomainDailyMetric} {
			e.events.Emit(Event{Domain: d, Day: today, Totals: t})
		}
	} else {
		e.events.Emit(Event{Domain: DomainDailyMetric, Day: today, Totals: t})
	}
	e.logger.Debug("Hydrated today's totals", "day", today, "found", row != nil, "net", t.Net)
	return t, nil
}

// HydrateRecentWorkoutsToLocal adds remote workouts from the last days that the local
// history does not know yet. Entries already cached locally are kept as they are.
// Returns the number of workouts added.
func (e *Engine) HydrateRecentWorkoutsToLocal(ctx context.Context, userID string, days int) (int, error) {
	if userID == "" {
		return 0, ErrNotAuthenticated
	}
	if !e.online() {
		return 0, ErrOffline
	}
	if days <= 0 {
		days = e.config.HistoryDays
	}
	from, to := e.dayRange(days)
	rows, err := e.remote.ListWorkouts(ctx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch recent workouts: %w", err)
	}

	e.cacheMu.Lock()
	workouts, err := e.loadWorkouts(ctx, userID)
	if err != nil {
		e.cacheMu.Unlock()
		return 0, err
	}
	added := 0
	touched := map[string]bool{}
	for _, row := range rows {
		if row.ClientID == "" || findWorkout(workouts, row.ClientID) >= 0 {
			continue
		}
		workouts = append(workouts, workoutFromRow(row))
		touched[row.LocalDay] = true
		added++
	}
	if added == 0 {
		e.cacheMu.Unlock()
		return 0, nil
	}
	err = e.saveWorkouts(ctx, userID, workouts)
	e.cacheMu.Unlock()
	if err != nil {
		return 0, err
	}
	e.logger.Debug("Hydrated recent workouts", "added", added, "from", from, "to", to)
	e.seedDaysFromRange(ctx, userID, from, to, touched)
	return added, nil
}

// HydrateRecentMealsToLocal is the meal counterpart of HydrateRecentWorkoutsToLocal
func (e *Engine) HydrateRecentMealsToLocal(ctx context.Context, userID string, days int) (int, error) {
	if userID == "" {
		return 0, ErrNotAuthenticated
	}
	if !e.online() {
		return 0, ErrOffline
	}
	if days <= 0 {
		days = e.config.HistoryDays
	}
	from, to := e.dayRange(days)
	rows, err := e.remote.ListMeals(ctx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch recent meals: %w", err)
	}

	e.cacheMu.Lock()
	mealDays, err := e.loadMealDays(ctx, userID)
	if err != nil {
		e.cacheMu.Unlock()
		return 0, err
	}
	added := 0
	touched := map[string]bool{}
	for _, row := range rows {
		if row.ClientID == "" {
			continue
		}
		if di, _ := findMeal(mealDays, row.ClientID); di >= 0 {
			continue
		}
		mealDays = putMeal(mealDays, mealFromRow(row))
		touched[row.LocalDay] = true
		added++
	}
	if added == 0 {
		e.cacheMu.Unlock()
		return 0, nil
	}
	err = e.saveMealDays(ctx, userID, mealDays)
	e.cacheMu.Unlock()
	if err != nil {
		return 0, err
	}
	e.logger.Debug("Hydrated recent meals", "added", added, "from", from, "to", to)
	e.seedDaysFromRange(ctx, userID, from, to, touched)
	return added, nil
}

// seedDaysFromRange copies remote aggregates for days that received hydrated records but
// have no cached totals yet. Cached days keep their local value.
func (e *Engine) seedDaysFromRange(ctx context.Context, userID, from, to string, days map[string]bool) {
	rows, err := e.remote.ListDailyMetrics(ctx, userID, from, to)
	if err != nil {
		e.logger.Warn("Failed to fetch day totals for hydrated history", "error", err)
		return
	}
	found := map[string]DayTotals{}
	for _, row := range rows {
		if days[row.LocalDay] {
			found[row.LocalDay] = totalsFromRow(row)
		}
	}
	e.fillMissingTotals(ctx, userID, found)
}

// seedMissingDays fetches the remote aggregate of each day that has no cached totals,
// so a later delta adjustment starts from what every device has reported for it.
// Failures are logged and leave the cache unchanged.
func (e *Engine) seedMissingDays(ctx context.Context, userID string, days ...string) {
	if userID == "" || !e.online() {
		return
	}
	e.cacheMu.Lock()
	totals, err := e.loadTotals(ctx, userID)
	e.cacheMu.Unlock()
	if err != nil {
		return
	}

	found := map[string]DayTotals{}
	for _, day := range days {
		if day == "" {
			continue
		}
		if _, ok := totals[day]; ok {
			continue
		}
		if _, ok := found[day]; ok {
			continue
		}
		row, err := e.remote.GetDailyMetric(ctx, userID, day)
		if err != nil {
			e.logger.Debug("Could not seed day totals", "day", day, "error", err)
			continue
		}
		if row != nil {
			found[day] = totalsFromRow(*row)
		}
	}
	e.fillMissingTotals(ctx, userID, found)
}

// fillMissingTotals stores found for days still absent from the cache and emits their totals
func (e *Engine) fillMissingTotals(ctx context.Context, userID string, found map[string]DayTotals) {
	if len(found) == 0 {
		return
	}
	e.cacheMu.Lock()
	totals, err := e.loadTotals(ctx, userID)
	var seeded []Event
	if err == nil {
		for day, t := range found {
			if _, ok := totals[day]; ok {
				continue
			}
			t = recompute(t)
			totals[day] = t
			seeded = append(seeded, Event{Domain: DomainDailyMetric, Day: day, Totals: t})
		}
		if len(seeded) > 0 {
			err = e.saveTotals(ctx, userID, totals)
		}
	}
	e.cacheMu.Unlock()
	if err != nil {
		e.logger.Warn("Failed to store seeded day totals", "error", err)
		return
	}
	for _, ev := range seeded {
		e.events.Emit(ev)
	}
}

// MergeCalorieHistory combines per-day totals. A day present locally keeps the local
// value; cloud values only fill days with no local entry.
func MergeCalorieHistory(local, cloud map[string]DayTotals) map[string]DayTotals {
	merged := make(map[string]DayTotals, len(local)+len(cloud))
	for day, t := range cloud {
		merged[day] = recompute(t)
	}
	for day, t := range local {
		merged[day] = recompute(t)
	}
	return merged
}

// CalorieHistory returns the merged per-day totals for the last days. Offline or
// signed out, only the local cache is returned.
func (e *Engine) CalorieHistory(ctx context.Context, days int) (map[string]DayTotals, error) {
	if days <= 0 {
		days = e.config.HistoryDays
	}
	uid := e.userID()
	from, to := e.dayRange(days)

	e.cacheMu.Lock()
	all, err := e.loadTotals(ctx, uid)
	e.cacheMu.Unlock()
	if err != nil {
		return nil, err
	}
	local := map[string]DayTotals{}
	for day, t := range all {
		if day >= from && day <= to {
			local[day] = t
		}
	}

	cloud := map[string]DayTotals{}
	if uid != "" && e.online() {
		rows, err := e.remote.ListDailyMetrics(ctx, uid, from, to)
		if err != nil {
			e.logger.Warn("Failed to fetch cloud calorie history", "error", err)
		} else {
			for _, row := range rows {
				cloud[row.LocalDay] = totalsFromRow(row)
			}
		}
	}
	return MergeCalorieHistory(local, cloud), nil
}
