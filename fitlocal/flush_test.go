package fitlocal

import (
	"context"
	"testing"
	"time"

	"github.com/iceman4177/CalFit-sub000/fitsync"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine

	require.Equal(t, 1*time.Second, e.Backoff(0))
	require.Equal(t, 2*time.Second, e.Backoff(1))
	require.Equal(t, 16*time.Second, e.Backoff(4))
	require.Equal(t, 30*time.Second, e.Backoff(5))
	require.Equal(t, 30*time.Second, e.Backoff(64))
	require.Equal(t, 1*time.Second, e.Backoff(-3))
}

func TestFlushPending_RetryCountAndBackoffGrow(t *testing.T) {
	env := newTestEnv(t)
	env.remote.setFailing(true)
	ctx := context.Background()

	_, err := env.engine.SaveMealLocalFirst(ctx, Meal{Name: "toast", Calories: 150})
	require.NoError(t, err)
	require.Len(t, env.pending(t), 1)

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	var prev time.Time
	for i, wait := range expected {
		env.clock.Advance(time.Minute)
		res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
		require.NoError(t, err)
		require.Equal(t, 0, res.Flushed)
		require.Equal(t, 1, res.Failed)

		ops := env.pending(t)
		require.Len(t, ops, 1)
		op := ops[0]
		require.Equal(t, i+1, op.RetryCount)
		require.Equal(t, wait, op.NextAfter.Sub(env.clock.Now()))
		require.True(t, op.NextAfter.After(prev), "next_after never moves backwards")
		require.Contains(t, op.LastError, "remote unavailable")
		prev = op.NextAfter
	}
}

func TestFlushPending_NotDueIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.remote.setFailing(true)
	ctx := context.Background()

	_, err := env.engine.SaveWorkoutLocalFirst(ctx, Workout{TotalCalories: 100})
	require.NoError(t, err)
	_, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)

	env.remote.setFailing(false)
	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 0, res.Flushed)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 1, res.Remaining)

	env.clock.Advance(3 * time.Second)
	res, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Flushed)
	require.Equal(t, 0, res.Remaining)
}

func TestFlushPending_AlwaysFailingLeavesQueueIntact(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SetOnline(false)
	ctx := context.Background()

	_, err := env.engine.SaveMealLocalFirst(ctx, Meal{Name: "a", Calories: 100})
	require.NoError(t, err)
	_, err = env.engine.SaveWorkoutLocalFirst(ctx, Workout{TotalCalories: 200})
	require.NoError(t, err)
	_, err = env.engine.SaveDailyMetricLocalFirst(ctx, DailyMetric{Consumed: 100, Burned: 200})
	require.NoError(t, err)
	before := env.pending(t)
	require.Len(t, before, 3)

	env.conn.SetOnline(true)
	env.remote.setFailing(true)
	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 3})
	require.NoError(t, err)
	require.Equal(t, 0, res.Flushed)
	require.Equal(t, len(before), res.Failed)

	after := env.pending(t)
	require.Len(t, after, len(before))
	for i := range before {
		require.Equal(t, before[i].ID, after[i].ID, "order is preserved")
		require.Equal(t, 1, after[i].RetryCount, "later passes skip ops that are not due yet")
	}
}

func TestFlushPending_AlwaysSucceedingDrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SetOnline(false)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := env.engine.SaveMealLocalFirst(ctx, Meal{Name: "m", Calories: 100})
		require.NoError(t, err)
	}
	require.Len(t, env.pending(t), 4)

	env.conn.SetOnline(true)
	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 2})
	require.NoError(t, err)
	require.Equal(t, 4, res.Flushed)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, 0, res.Remaining)
	require.Empty(t, env.pending(t))

	metric, err := env.remote.store.GetDailyMetric(ctx, "alice", "2025-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	require.Equal(t, 400.0, metric.Consumed)
}

func TestFlushPending_OfflineOrSignedOutIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SetOnline(false)
	ctx := context.Background()

	_, err := env.engine.SaveWorkoutLocalFirst(ctx, Workout{TotalCalories: 100})
	require.NoError(t, err)

	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 3})
	require.NoError(t, err)
	require.Equal(t, 1, res.Remaining)
	require.Empty(t, env.remote.callLog())

	env.conn.SetOnline(true)
	env.session.SignOut()
	res, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 3})
	require.NoError(t, err)
	require.Equal(t, 1, res.Remaining)
	require.Empty(t, env.remote.callLog())
}

func TestFlushPending_OtherUsersOpsAreSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Enqueue(ctx, OpDailyMetricUpsert, "bob", map[string]any{"local_day": "2025-06-15", "consumed": 10})
	require.NoError(t, err)

	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 1, res.Remaining)
	require.Empty(t, env.remote.callLog())
}

func TestFlushPending_AnonymousOpsAdoptedBySignedInUser(t *testing.T) {
	env := newTestEnv(t)
	env.session.SignOut()
	ctx := context.Background()

	res, err := env.engine.SaveWorkoutLocalFirst(ctx, Workout{Exercises: []Exercise{{Name: "walk", Calories: 90}}})
	require.NoError(t, err)
	require.True(t, res.Queued)

	env.session.SignIn(User{ID: "alice"})
	flushed, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 1, flushed.Flushed)

	rows, err := env.remote.store.ListWorkouts(ctx, "alice", "2025-06-15", "2025-06-15")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, res.ClientID, rows[0].ClientID)
	require.Equal(t, "alice", rows[0].UserID)
}

func TestFlushPending_DeadLetter(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.DeadLetterAfter = 2 })
	env.remote.setFailing(true)
	ctx := context.Background()

	_, err := env.engine.SaveMealLocalFirst(ctx, Meal{Name: "cake", Calories: 500})
	require.NoError(t, err)

	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 0, res.DeadLettered)

	env.clock.Advance(time.Minute)
	res, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.DeadLettered)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, 0, res.Remaining)

	dead, err := env.engine.DeadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, OpMealUpsert, dead[0].Type)
	require.Equal(t, 2, dead[0].RetryCount)
}

func TestFlushPending_UnknownOperationStaysQueued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Enqueue(ctx, OpType("steps.upsert"), "alice", map[string]int{"steps": 1})
	require.NoError(t, err)

	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	ops := env.pending(t)
	require.Len(t, ops, 1)
	require.Contains(t, ops[0].LastError, "unknown")
}

func TestWorkoutRoundTripIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SetOnline(false)
	ctx := context.Background()

	res, err := env.engine.SaveWorkoutLocalFirst(ctx, Workout{Exercises: []Exercise{{Name: "squat", Calories: 180}}})
	require.NoError(t, err)

	// Simulate a replay: the same queued op delivered twice
	ops := env.pending(t)
	require.Len(t, ops, 1)
	_, err = env.engine.Enqueue(ctx, ops[0].Type, ops[0].UserID, ops[0].Payload)
	require.NoError(t, err)

	env.conn.SetOnline(true)
	_, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	_, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Empty(t, env.pending(t))

	rows, err := env.remote.store.ListWorkouts(ctx, "alice", "2025-06-01", "2025-06-30")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, res.ClientID, rows[0].ClientID)
	require.Equal(t, 180.0, rows[0].TotalCalories)
}

func TestFlushPending_LaterOpsForARecordWaitBehindAFailedOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Enqueue(ctx, OpWorkoutUpsert, "alice", fitsync.WorkoutRow{ClientID: "w-k", LocalDay: "2025-06-15", TotalCalories: 100})
	require.NoError(t, err)
	_, err = env.engine.Enqueue(ctx, OpWorkoutDelete, "alice", deletePayload{ClientID: "w-k", Date: "2025-06-15"})
	require.NoError(t, err)
	_, err = env.engine.Enqueue(ctx, OpMealUpsert, "alice", fitsync.MealRow{ClientID: "m-x", LocalDay: "2025-06-15", Name: "toast", TotalCalories: 80})
	require.NoError(t, err)

	env.remote.failOp("UpsertWorkout")
	res, err := env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Flushed, "an unrelated record still goes through")
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 2, res.Remaining)
	require.Zero(t, env.remote.count("DeleteWorkout"), "the delete must not overtake the failed upsert")

	env.remote.clearFailOp("UpsertWorkout")
	res, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Zero(t, res.Flushed, "the upsert is not due yet, so the delete keeps waiting")
	require.Equal(t, 2, res.Skipped)

	env.clock.Advance(3 * time.Second)
	res, err = env.engine.FlushPending(ctx, FlushOptions{MaxTries: 1})
	require.NoError(t, err)
	require.Equal(t, 2, res.Flushed)
	require.Empty(t, env.pending(t))

	rows, err := env.remote.store.ListWorkouts(ctx, "alice", "2025-06-01", "2025-06-30")
	require.NoError(t, err)
	require.Empty(t, rows, "the deleted workout stays deleted")
}
