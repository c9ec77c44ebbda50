// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"errors"
)

// BootstrapReport collects the outcome of each stage; a failed stage never stops the next one
type BootstrapReport struct {
	UserID        string
	Promoted      []string // base keys promoted from legacy unscoped data
	Migration     MigrationReport
	Flush         FlushResult
	Today         DayTotals
	WorkoutsAdded int
	MealsAdded    int

	ScopeErr    error
	MigrateErr  error
	FlushErr    error
	TodayErr    error
	WorkoutsErr error
	MealsErr    error
}

// Err joins every stage error
func (r BootstrapReport) Err() error {
	return errors.Join(r.ScopeErr, r.MigrateErr, r.FlushErr, r.TodayErr, r.WorkoutsErr, r.MealsErr)
}

var scopedBases = []string{KeyWorkoutHistory, KeyMealHistory, KeyDailyMetricCache}

// Bootstrap runs the session-start sequence for the signed-in user:
// legacy promotion, migration, flush, then hydration of today and recent history.
// Returns ErrNotAuthenticated when nobody is signed in.
func (e *Engine) Bootstrap(ctx context.Context) (BootstrapReport, error) {
	user := e.currentUser()
	if user == nil {
		return BootstrapReport{}, ErrNotAuthenticated
	}
	report := BootstrapReport{UserID: user.ID}

	if _, err := e.GetOrCreateClientID(ctx); err != nil {
		report.ScopeErr = err
	}
	for _, base := range scopedBases {
		promoted, err := e.EnsureScopedFromLegacy(ctx, base, user.ID)
		if err != nil {
			report.ScopeErr = errors.Join(report.ScopeErr, err)
			continue
		}
		if promoted {
			report.Promoted = append(report.Promoted, base)
		}
	}

	report.Migration, report.MigrateErr = e.MigrateLocalToCloud(ctx, user.ID)
	if report.MigrateErr != nil {
		e.logger.Warn("Bootstrap: migration failed", "error", report.MigrateErr)
	}

	e.refresh(ctx, user.ID, &report)
	if err := report.Err(); err != nil {
		e.logger.Debug("Bootstrap finished with errors", "error", err)
	}
	return report, nil
}

// refresh is the flush + hydrate tail shared by Bootstrap and Resume
func (e *Engine) refresh(ctx context.Context, userID string, report *BootstrapReport) {
	report.Flush, report.FlushErr = e.FlushPending(ctx, FlushOptions{MaxTries: 1})
	if report.FlushErr != nil {
		e.logger.Warn("Flush failed", "error", report.FlushErr)
	}

	report.Today, report.TodayErr = e.HydrateTodayTotalsFromCloud(ctx, userID)
	if report.TodayErr != nil {
		e.logger.Warn("Hydrating today's totals failed", "error", report.TodayErr)
	}

	report.WorkoutsAdded, report.WorkoutsErr = e.HydrateRecentWorkoutsToLocal(ctx, userID, e.config.HistoryDays)
	if report.WorkoutsErr != nil {
		e.logger.Warn("Hydrating recent workouts failed", "error", report.WorkoutsErr)
	}

	report.MealsAdded, report.MealsErr = e.HydrateRecentMealsToLocal(ctx, userID, e.config.HistoryDays)
	if report.MealsErr != nil {
		e.logger.Warn("Hydrating recent meals failed", "error", report.MealsErr)
	}
}

// Resume re-runs flush and hydration (never migration) after focus or connectivity
// returns. Calls closer together than Config.ResumeThrottle are dropped; ran reports
// whether this call did any work.
func (e *Engine) Resume(ctx context.Context) (report BootstrapReport, ran bool) {
	user := e.currentUser()
	if user == nil {
		return report, false
	}

	e.resumeMu.Lock()
	allowed := e.resume.AllowN(e.now(), 1)
	e.resumeMu.Unlock()
	if !allowed {
		e.logger.Debug("Resume throttled")
		return report, false
	}

	report.UserID = user.ID
	e.refresh(ctx, user.ID, &report)
	return report, true
}
