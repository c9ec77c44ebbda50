// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable per-user record store served over HTTP.
// Writes are upserts keyed by the client idempotency key (or (user, day) for metrics),
// so replays never duplicate rows.
type Store interface {
	UpsertWorkout(ctx context.Context, userID string, row WorkoutRow) error
	DeleteWorkout(ctx context.Context, userID, clientID string) error
	ListWorkouts(ctx context.Context, userID, fromDay, toDay string) ([]WorkoutRow, error)

	UpsertMeal(ctx context.Context, userID string, row MealRow) error
	DeleteMeal(ctx context.Context, userID, clientID string) error
	ListMeals(ctx context.Context, userID, fromDay, toDay string) ([]MealRow, error)

	UpsertDailyMetric(ctx context.Context, userID string, row DailyMetricRow) error
	// GetDailyMetric returns nil, nil when no row exists for the day
	GetDailyMetric(ctx context.Context, userID, day string) (*DailyMetricRow, error)
	ListDailyMetrics(ctx context.Context, userID, fromDay, toDay string) ([]DailyMetricRow, error)
}

// StoreConfig holds configuration for the Postgres store
type StoreConfig struct {
	AppName string // Application name for connection tracking
}

// PostgresStore implements Store on top of a pgx pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *StoreConfig

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates the store from an existing pool and initializes the schema
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, config *StoreConfig, logger *slog.Logger) (*PostgresStore, error) {
	if config == nil {
		config = &StoreConfig{AppName: "fitsync"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := &PostgresStore{
		pool:   pool,
		logger: logger,
		config: config,
	}
	if err := store.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize fitsync store: %w", err)
	}
	logger.Debug("Database schema initialized successfully", "app", config.AppName)
	return store, nil
}

// Close marks the store closed. The pool is owned by the caller.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *PostgresStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

func stampUpdated(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// UpsertWorkout inserts or replaces the workout keyed by client_id.
// A key owned by another user is never overwritten.
func (s *PostgresStore) UpsertWorkout(ctx context.Context, userID string, row WorkoutRow) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	row.UserID = userID
	if err := NormalizeWorkout(&row); err != nil {
		return err
	}
	exercises, err := json.Marshal(row.Exercises)
	if err != nil {
		return fmt.Errorf("%w: encode exercises: %v", ErrInvalidRow, err)
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = stampUpdated(row.UpdatedAt)
	}

	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO fitsync.workouts (client_id, user_id, local_day, started_at, exercises, total_calories, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (client_id) DO UPDATE SET
				local_day = EXCLUDED.local_day,
				started_at = EXCLUDED.started_at,
				exercises = EXCLUDED.exercises,
				total_calories = EXCLUDED.total_calories,
				updated_at = EXCLUDED.updated_at
			WHERE fitsync.workouts.user_id = EXCLUDED.user_id`,
			row.ClientID, userID, row.LocalDay, row.StartedAt.UTC(), exercises, row.TotalCalories, stampUpdated(row.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert workout %s: %w", row.ClientID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: workout %s", ErrOwnershipConflict, row.ClientID)
		}
		return nil
	})
}

// DeleteWorkout removes the user's workout; deleting a missing key is not an error.
func (s *PostgresStore) DeleteWorkout(ctx context.Context, userID, clientID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM fitsync.workouts WHERE user_id = $1 AND client_id = $2`, userID, clientID)
		if err != nil {
			return fmt.Errorf("delete workout %s: %w", clientID, err)
		}
		return nil
	})
}

// ListWorkouts returns the user's workouts with local_day in [fromDay, toDay], oldest first
func (s *PostgresStore) ListWorkouts(ctx context.Context, userID, fromDay, toDay string) ([]WorkoutRow, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT client_id, user_id, local_day, started_at, exercises, total_calories, updated_at
		FROM fitsync.workouts
		WHERE user_id = $1 AND local_day >= $2 AND local_day <= $3
		ORDER BY local_day, started_at, client_id`, userID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("list workouts: %w", err)
	}
	defer rows.Close()

	out := make([]WorkoutRow, 0)
	for rows.Next() {
		var (
			w         WorkoutRow
			exercises []byte
		)
		if err := rows.Scan(&w.ClientID, &w.UserID, &w.LocalDay, &w.StartedAt, &exercises, &w.TotalCalories, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workout: %w", err)
		}
		if err := json.Unmarshal(exercises, &w.Exercises); err != nil {
			s.logger.Warn("Skipping workout with unreadable exercises", "client_id", w.ClientID, "error", err)
			w.Exercises = []ExerciseRow{}
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpsertMeal inserts or replaces the meal keyed by client_id
func (s *PostgresStore) UpsertMeal(ctx context.Context, userID string, row MealRow) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	row.UserID = userID
	if err := NormalizeMeal(&row); err != nil {
		return err
	}
	items, err := json.Marshal(row.Items)
	if err != nil {
		return fmt.Errorf("%w: encode items: %v", ErrInvalidRow, err)
	}
	if row.EatenAt.IsZero() {
		row.EatenAt = stampUpdated(row.UpdatedAt)
	}

	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO fitsync.meals (client_id, user_id, local_day, name, eaten_at, items, total_calories, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (client_id) DO UPDATE SET
				local_day = EXCLUDED.local_day,
				name = EXCLUDED.name,
				eaten_at = EXCLUDED.eaten_at,
				items = EXCLUDED.items,
				total_calories = EXCLUDED.total_calories,
				updated_at = EXCLUDED.updated_at
			WHERE fitsync.meals.user_id = EXCLUDED.user_id`,
			row.ClientID, userID, row.LocalDay, row.Name, row.EatenAt.UTC(), items, row.TotalCalories, stampUpdated(row.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert meal %s: %w", row.ClientID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: meal %s", ErrOwnershipConflict, row.ClientID)
		}
		return nil
	})
}

// DeleteMeal removes the user's meal; deleting a missing key is not an error.
func (s *PostgresStore) DeleteMeal(ctx context.Context, userID, clientID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM fitsync.meals WHERE user_id = $1 AND client_id = $2`, userID, clientID)
		if err != nil {
			return fmt.Errorf("delete meal %s: %w", clientID, err)
		}
		return nil
	})
}

// ListMeals returns the user's meals with local_day in [fromDay, toDay], oldest first
func (s *PostgresStore) ListMeals(ctx context.Context, userID, fromDay, toDay string) ([]MealRow, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT client_id, user_id, local_day, name, eaten_at, items, total_calories, updated_at
		FROM fitsync.meals
		WHERE user_id = $1 AND local_day >= $2 AND local_day <= $3
		ORDER BY local_day, eaten_at, client_id`, userID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	defer rows.Close()

	out := make([]MealRow, 0)
	for rows.Next() {
		var (
			m     MealRow
			items []byte
		)
		if err := rows.Scan(&m.ClientID, &m.UserID, &m.LocalDay, &m.Name, &m.EatenAt, &items, &m.TotalCalories, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		if err := json.Unmarshal(items, &m.Items); err != nil {
			s.logger.Warn("Skipping meal with unreadable items", "client_id", m.ClientID, "error", err)
			m.Items = []MealItemRow{}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertDailyMetric writes the aggregate for (user, local_day); net is recomputed.
func (s *PostgresStore) UpsertDailyMetric(ctx context.Context, userID string, row DailyMetricRow) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	row.UserID = userID
	if err := NormalizeDailyMetric(&row); err != nil {
		return err
	}

	return s.withTxRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO fitsync.daily_metrics (user_id, local_day, client_id, consumed, burned, net, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, local_day) DO UPDATE SET
				client_id = EXCLUDED.client_id,
				consumed = EXCLUDED.consumed,
				burned = EXCLUDED.burned,
				net = EXCLUDED.net,
				updated_at = EXCLUDED.updated_at`,
			userID, row.LocalDay, row.ClientID, row.Consumed, row.Burned, row.Net, stampUpdated(row.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert daily metric %s: %w", row.LocalDay, err)
		}
		return nil
	})
}

// GetDailyMetric returns the aggregate for the day, or nil when absent
func (s *PostgresStore) GetDailyMetric(ctx context.Context, userID, day string) (*DailyMetricRow, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var m DailyMetricRow
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, user_id, local_day, consumed, burned, net, updated_at
		FROM fitsync.daily_metrics
		WHERE user_id = $1 AND local_day = $2`, userID, day).
		Scan(&m.ClientID, &m.UserID, &m.LocalDay, &m.Consumed, &m.Burned, &m.Net, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily metric %s: %w", day, err)
	}
	return &m, nil
}

// ListDailyMetrics returns the user's aggregates with local_day in [fromDay, toDay]
func (s *PostgresStore) ListDailyMetrics(ctx context.Context, userID, fromDay, toDay string) ([]DailyMetricRow, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT client_id, user_id, local_day, consumed, burned, net, updated_at
		FROM fitsync.daily_metrics
		WHERE user_id = $1 AND local_day >= $2 AND local_day <= $3
		ORDER BY local_day`, userID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("list daily metrics: %w", err)
	}
	defer rows.Close()

	out := make([]DailyMetricRow, 0)
	for rows.Next() {
		var m DailyMetricRow
		if err := rows.Scan(&m.ClientID, &m.UserID, &m.LocalDay, &m.Consumed, &m.Burned, &m.Net, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan daily metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.pool.Ping(ctx)
}
