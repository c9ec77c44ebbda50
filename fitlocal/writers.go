// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// remoteOrQueue attempts push when online and signed in; any other outcome queues payload.
// Remote failures are logged, never returned.
func (e *Engine) remoteOrQueue(ctx context.Context, domain Domain, typ OpType, clientID string, payload any, push func(userID string) error) (SaveResult, error) {
	res := SaveResult{ClientID: clientID}
	user := e.currentUser()
	uid := ""
	if user != nil {
		uid = user.ID
	}

	switch {
	case !e.online():
		res.Queued, res.LocalOnly = true, true
	case user == nil:
		res.Queued = true
	case e.hasPendingFor(ctx, uid, typ, payload):
		e.logger.Debug("Earlier change still queued; queueing behind it", "type", typ, "client_id", clientID)
		res.Queued = true
	default:
		err := push(uid)
		if err == nil {
			recordWrite(domain, res)
			return res, nil
		}
		e.logger.Warn("Remote write failed; queued for retry", "type", typ, "client_id", clientID, "error", err)
		res.Queued = true
	}

	if _, err := e.Enqueue(ctx, typ, uid, payload); err != nil {
		return res, fmt.Errorf("failed to queue %s: %w", typ, err)
	}
	recordWrite(domain, res)
	return res, nil
}

// hasPendingFor reports whether the queue still holds an op for the record payload targets.
// A direct write would overtake it and be undone when the older op is replayed.
func (e *Engine) hasPendingFor(ctx context.Context, userID string, typ OpType, payload any) bool {
	_, ok := e.pendingFor(ctx, userID, typ, payload)
	return ok
}

// pendingFor returns the first queued op of userID (or anonymous) targeting the same record as payload
func (e *Engine) pendingFor(ctx context.Context, userID string, typ OpType, payload any) (PendingOperation, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PendingOperation{}, false
	}
	key := recordKey(typ, raw)
	if key == "" {
		return PendingOperation{}, false
	}
	ops, err := e.PendingOperations(ctx)
	if err != nil {
		e.logger.Warn("Failed to read pending operations", "error", err)
		return PendingOperation{}, false
	}
	for _, op := range ops {
		if (op.UserID == "" || op.UserID == userID) && opRecordKey(op) == key {
			return op, true
		}
	}
	return PendingOperation{}, false
}

// syncDayTotals pushes the cached aggregate of day, queueing it when the push fails
func (e *Engine) syncDayTotals(ctx context.Context, userID, day string) (bool, error) {
	e.cacheMu.Lock()
	totals, err := e.loadTotals(ctx, userID)
	e.cacheMu.Unlock()
	if err != nil {
		return false, err
	}
	row := dailyMetricRow(userID, day, totals[day])

	// an older push for this day is still queued: refresh it rather than overtake it
	if op, ok := e.pendingFor(ctx, userID, OpDailyMetricUpsert, row); ok {
		raw, err := json.Marshal(row)
		if err != nil {
			return false, err
		}
		if _, found, err := e.updateOp(ctx, op.ID, func(p *PendingOperation) { p.Payload = raw }); err != nil || found {
			return found, err
		}
	}

	if e.online() && userID != "" {
		err := e.remote.UpsertDailyMetric(ctx, userID, row)
		if err == nil {
			return false, nil
		}
		e.logger.Warn("Failed to push day totals; queued", "day", day, "error", err)
	}
	if _, err := e.Enqueue(ctx, OpDailyMetricUpsert, userID, row); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) pushWorkout(ctx context.Context, userID string, w Workout) error {
	return e.remote.UpsertWorkout(ctx, userID, workoutRow(userID, w))
}

func (e *Engine) pushMeal(ctx context.Context, userID string, m Meal) error {
	return e.remote.UpsertMeal(ctx, userID, mealRow(userID, m))
}

func (e *Engine) pushDailyMetric(ctx context.Context, userID, day string, t DayTotals) error {
	return e.remote.UpsertDailyMetric(ctx, userID, dailyMetricRow(userID, day, t))
}

// defaultStamp picks a timestamp for a record that only knows its day
func (e *Engine) defaultStamp(day string, now time.Time) time.Time {
	if day == "" || day == e.dayOf(now) {
		return now
	}
	return e.localNoon(day)
}

func (e *Engine) normalizeWorkout(w *Workout, now time.Time) {
	if w.ClientID == "" {
		w.ClientID = uuid.New().String()
	}
	if w.StartedAt.IsZero() {
		w.StartedAt = e.defaultStamp(w.Date, now)
	}
	if w.Date == "" {
		w.Date = e.dayOf(w.StartedAt)
	}
	total := 0.0
	for i := range w.Exercises {
		w.Exercises[i].Calories = clampCalories(w.Exercises[i].Calories)
		w.Exercises[i].DurationMin = clampCalories(w.Exercises[i].DurationMin)
		if w.Exercises[i].PerformedAt.IsZero() {
			w.Exercises[i].PerformedAt = w.StartedAt
		}
		total += w.Exercises[i].Calories
	}
	if len(w.Exercises) > 0 {
		w.TotalCalories = total
	}
	w.TotalCalories = clampCalories(w.TotalCalories)
	if w.Exercises == nil {
		w.Exercises = []Exercise{}
	}
	w.UpdatedAt = now
}

func (e *Engine) normalizeMeal(m *Meal, now time.Time) {
	if m.ClientID == "" {
		m.ClientID = uuid.New().String()
	}
	if m.EatenAt.IsZero() {
		m.EatenAt = e.defaultStamp(m.Date, now)
	}
	if m.Date == "" {
		m.Date = e.dayOf(m.EatenAt)
	}
	total := 0.0
	for i := range m.Items {
		m.Items[i].Calories = clampCalories(m.Items[i].Calories)
		if m.Items[i].LoggedAt.IsZero() {
			m.Items[i].LoggedAt = m.EatenAt
		}
		total += m.Items[i].Calories
	}
	if len(m.Items) > 0 {
		m.Calories = total
	}
	m.Calories = clampCalories(m.Calories)
	m.UpdatedAt = now
}

// SaveWorkoutLocalFirst records a workout locally, updates the day's burned total and
// sends it to the remote store (or queues it). Saving again with the same ClientID
// replaces the cached entry.
func (e *Engine) SaveWorkoutLocalFirst(ctx context.Context, w Workout) (SaveResult, error) {
	now := e.now()
	uid := e.userID()
	e.normalizeWorkout(&w, now)
	w.UserID = uid
	e.seedMissingDays(ctx, uid, w.Date, e.cachedDay(ctx, uid, DomainWorkout, w.ClientID))

	e.cacheMu.Lock()
	workouts, err := e.loadWorkouts(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	totals, err := e.loadTotals(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	var events []Event
	if i := findWorkout(workouts, w.ClientID); i >= 0 {
		old := workouts[i]
		t := adjustDay(totals, old.Date, 0, -old.TotalCalories, now)
		if old.Date != w.Date {
			events = append(events, Event{Domain: DomainWorkout, Day: old.Date, Totals: t})
		}
		workouts[i] = w
	} else {
		workouts = append(workouts, w)
	}
	events = append(events, Event{Domain: DomainWorkout, Day: w.Date, Totals: adjustDay(totals, w.Date, 0, w.TotalCalories, now)})
	if err := e.saveWorkouts(ctx, uid, workouts); err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	if err := e.saveTotals(ctx, uid, totals); err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	e.cacheMu.Unlock()

	for _, ev := range events {
		e.events.Emit(ev)
	}

	row := workoutRow(uid, w)
	res, err := e.remoteOrQueue(ctx, DomainWorkout, OpWorkoutUpsert, w.ClientID, row, func(userID string) error {
		return e.remote.UpsertWorkout(ctx, userID, workoutRow(userID, w))
	})
	if err == nil && !res.Queued && e.config.SyncAggregates {
		if _, err := e.syncDayTotals(ctx, uid, w.Date); err != nil {
			e.logger.Warn("Failed to sync day totals", "day", w.Date, "error", err)
		}
	}
	return res, err
}

// DeleteWorkoutLocalFirst removes a workout locally, then remotely (or queues the delete)
func (e *Engine) DeleteWorkoutLocalFirst(ctx context.Context, clientID string) (SaveResult, error) {
	if clientID == "" {
		return SaveResult{}, fmt.Errorf("client id is required")
	}
	now := e.now()
	uid := e.userID()
	e.seedMissingDays(ctx, uid, e.cachedDay(ctx, uid, DomainWorkout, clientID))

	e.cacheMu.Lock()
	workouts, err := e.loadWorkouts(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	totals, err := e.loadTotals(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	payload := deletePayload{ClientID: clientID}
	var events []Event
	if i := findWorkout(workouts, clientID); i >= 0 {
		old := workouts[i]
		payload.Date = old.Date
		workouts = append(workouts[:i:i], workouts[i+1:]...)
		events = append(events, Event{Domain: DomainWorkout, Day: old.Date, Totals: adjustDay(totals, old.Date, 0, -old.TotalCalories, now)})
		if err := e.saveWorkouts(ctx, uid, workouts); err != nil {
			e.cacheMu.Unlock()
			return SaveResult{}, err
		}
		if err := e.saveTotals(ctx, uid, totals); err != nil {
			e.cacheMu.Unlock()
			return SaveResult{}, err
		}
	}
	e.cacheMu.Unlock()

	for _, ev := range events {
		e.events.Emit(ev)
	}

	res, err := e.remoteOrQueue(ctx, DomainWorkout, OpWorkoutDelete, clientID, payload, func(userID string) error {
		return e.remote.DeleteWorkout(ctx, userID, clientID)
	})
	if err == nil && !res.Queued && payload.Date != "" && e.config.SyncAggregates {
		if _, err := e.syncDayTotals(ctx, uid, payload.Date); err != nil {
			e.logger.Warn("Failed to sync day totals", "day", payload.Date, "error", err)
		}
	}
	return res, err
}

// SaveMealLocalFirst records a meal locally, updates the day's consumed total and
// sends it to the remote store (or queues it)
func (e *Engine) SaveMealLocalFirst(ctx context.Context, m Meal) (SaveResult, error) {
	now := e.now()
	uid := e.userID()
	e.normalizeMeal(&m, now)
	m.UserID = uid
	e.seedMissingDays(ctx, uid, m.Date, e.cachedDay(ctx, uid, DomainMeal, m.ClientID))

	e.cacheMu.Lock()
	days, err := e.loadMealDays(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	totals, err := e.loadTotals(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	var events []Event
	if di, mi := findMeal(days, m.ClientID); di >= 0 {
		old := days[di].Meals[mi]
		oldDay := days[di].Date
		t := adjustDay(totals, oldDay, -old.Calories, 0, now)
		if oldDay != m.Date {
			events = append(events, Event{Domain: DomainMeal, Day: oldDay, Totals: t})
		}
		days = removeMealAt(days, di, mi)
	}
	days = putMeal(days, m)
	events = append(events, Event{Domain: DomainMeal, Day: m.Date, Totals: adjustDay(totals, m.Date, m.Calories, 0, now)})
	if err := e.saveMealDays(ctx, uid, days); err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	if err := e.saveTotals(ctx, uid, totals); err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	e.cacheMu.Unlock()

	for _, ev := range events {
		e.events.Emit(ev)
	}

	row := mealRow(uid, m)
	res, err := e.remoteOrQueue(ctx, DomainMeal, OpMealUpsert, m.ClientID, row, func(userID string) error {
		return e.remote.UpsertMeal(ctx, userID, mealRow(userID, m))
	})
	if err == nil && !res.Queued && e.config.SyncAggregates {
		if _, err := e.syncDayTotals(ctx, uid, m.Date); err != nil {
			e.logger.Warn("Failed to sync day totals", "day", m.Date, "error", err)
		}
	}
	return res, err
}

// DeleteMealLocalFirst removes a meal locally, then remotely (or queues the delete)
func (e *Engine) DeleteMealLocalFirst(ctx context.Context, clientID string) (SaveResult, error) {
	if clientID == "" {
		return SaveResult{}, fmt.Errorf("client id is required")
	}
	now := e.now()
	uid := e.userID()
	e.seedMissingDays(ctx, uid, e.cachedDay(ctx, uid, DomainMeal, clientID))

	e.cacheMu.Lock()
	days, err := e.loadMealDays(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	totals, err := e.loadTotals(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	payload := deletePayload{ClientID: clientID}
	var events []Event
	if di, mi := findMeal(days, clientID); di >= 0 {
		old := days[di].Meals[mi]
		payload.Date = days[di].Date
		days = removeMealAt(days, di, mi)
		events = append(events, Event{Domain: DomainMeal, Day: payload.Date, Totals: adjustDay(totals, payload.Date, -old.Calories, 0, now)})
		if err := e.saveMealDays(ctx, uid, days); err != nil {
			e.cacheMu.Unlock()
			return SaveResult{}, err
		}
		if err := e.saveTotals(ctx, uid, totals); err != nil {
			e.cacheMu.Unlock()
			return SaveResult{}, err
		}
	}
	e.cacheMu.Unlock()

	for _, ev := range events {
		e.events.Emit(ev)
	}

	res, err := e.remoteOrQueue(ctx, DomainMeal, OpMealDelete, clientID, payload, func(userID string) error {
		return e.remote.DeleteMeal(ctx, userID, clientID)
	})
	if err == nil && !res.Queued && payload.Date != "" && e.config.SyncAggregates {
		if _, err := e.syncDayTotals(ctx, uid, payload.Date); err != nil {
			e.logger.Warn("Failed to sync day totals", "day", payload.Date, "error", err)
		}
	}
	return res, err
}

// SaveDailyMetricLocalFirst overwrites a day's aggregate locally and upserts it remotely
// keyed by (user, day). An empty Date means today.
func (e *Engine) SaveDailyMetricLocalFirst(ctx context.Context, d DailyMetric) (SaveResult, error) {
	now := e.now()
	uid := e.userID()
	if d.Date == "" {
		d.Date = e.dayOf(now)
	}
	if d.ClientID == "" {
		d.ClientID = uuid.New().String()
	}
	t := recompute(DayTotals{Consumed: d.Consumed, Burned: d.Burned, UpdatedAt: now})

	e.cacheMu.Lock()
	totals, err := e.loadTotals(ctx, uid)
	if err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	totals[d.Date] = t
	if err := e.saveTotals(ctx, uid, totals); err != nil {
		e.cacheMu.Unlock()
		return SaveResult{}, err
	}
	e.cacheMu.Unlock()

	e.events.Emit(Event{Domain: DomainDailyMetric, Day: d.Date, Totals: t})

	row := dailyMetricRow(uid, d.Date, t)
	row.ClientID = d.ClientID
	return e.remoteOrQueue(ctx, DomainDailyMetric, OpDailyMetricUpsert, d.ClientID, row, func(userID string) error {
		row.UserID = userID
		return e.remote.UpsertDailyMetric(ctx, userID, row)
	})
}
