package fitlocal

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBootstrap_Order(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.storage.Set(ctx, KeyWorkoutHistory,
		`[{"date":"2025-06-14","totalCalories":200,"exercises":[{"name":"hike","calories":200}]}]`))

	report, err := env.engine.Bootstrap(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Equal(t, "alice", report.UserID)
	require.Equal(t, []string{KeyWorkoutHistory}, report.Promoted)
	require.Equal(t, 1, report.Migration.Workouts)

	calls := env.remote.callLog()
	migrate := slices.Index(calls, "UpsertWorkout")
	today := slices.Index(calls, "GetDailyMetric")
	workouts := slices.Index(calls, "ListWorkouts")
	meals := slices.Index(calls, "ListMeals")
	require.GreaterOrEqual(t, migrate, 0)
	require.Less(t, migrate, today, "migration runs before hydration")
	require.Less(t, today, workouts)
	require.Less(t, workouts, meals)

	clientID, ok, err := env.storage.Get(ctx, KeyClientID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, clientID)

	done, err := env.engine.MigrationDone(ctx)
	require.NoError(t, err)
	require.True(t, done)
}

func TestBootstrap_FlushesQueuedWrites(t *testing.T) {
	env := newTestEnv(t)
	env.conn.SetOnline(false)
	ctx := context.Background()

	_, err := env.engine.SaveMealLocalFirst(ctx, Meal{Name: "bagel", Calories: 280})
	require.NoError(t, err)

	env.conn.SetOnline(true)
	report, err := env.engine.Bootstrap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Flush.Flushed)
	require.Empty(t, env.pending(t))
	require.Equal(t, 280.0, report.Today.Consumed, "today is hydrated after the queued meal reached the remote")
}

func TestBootstrap_StagesAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	seedLegacyHistory(t, env, "alice")
	env.remote.failOp("UpsertWorkout")
	env.remote.failOp("GetDailyMetric")
	ctx := context.Background()

	report, err := env.engine.Bootstrap(ctx)
	require.NoError(t, err)
	require.Error(t, report.MigrateErr)
	require.Error(t, report.TodayErr)
	require.NoError(t, report.WorkoutsErr)
	require.NoError(t, report.MealsErr)
	require.Error(t, report.Err())
	require.Equal(t, 1, env.remote.count("ListMeals"))
}

func TestBootstrap_SignedOut(t *testing.T) {
	env := newTestEnv(t)
	env.session.SignOut()

	_, err := env.engine.Bootstrap(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Empty(t, env.remote.callLog())
}

func TestResume_ThrottledAndSkipsMigration(t *testing.T) {
	env := newTestEnv(t)
	seedLegacyHistory(t, env, "alice")
	ctx := context.Background()

	_, ran := env.engine.Resume(ctx)
	require.True(t, ran)
	require.Zero(t, env.remote.count("UpsertWorkout"), "resume never migrates")
	require.Equal(t, 1, env.remote.count("GetDailyMetric"))

	env.clock.Advance(time.Second)
	_, ran = env.engine.Resume(ctx)
	require.False(t, ran)
	require.Equal(t, 1, env.remote.count("GetDailyMetric"))

	env.clock.Advance(2 * time.Second)
	_, ran = env.engine.Resume(ctx)
	require.True(t, ran)
	require.Equal(t, 2, env.remote.count("GetDailyMetric"))

	done, err := env.engine.MigrationDone(ctx)
	require.NoError(t, err)
	require.False(t, done)
}

func TestResume_SignedOut(t *testing.T) {
	env := newTestEnv(t)
	env.session.SignOut()

	_, ran := env.engine.Resume(context.Background())
	require.False(t, ran)
}
