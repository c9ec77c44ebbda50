package fitlocal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedKey(t *testing.T) {
	require.Equal(t, "mealHistory:u1", ScopedKey(KeyMealHistory, "u1"))
	require.Equal(t, "workoutHistory:u-2", ScopedKey(KeyWorkoutHistory, "u-2"))
	require.Equal(t, "dailyMetricsCache", ScopedKey(KeyDailyMetricCache, ""))
}

func TestGetOrCreateClientID_Stable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.GetOrCreateClientID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := env.engine.GetOrCreateClientID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	stored, ok, err := env.storage.Get(ctx, KeyClientID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, stored)
}

func TestEnsureScopedFromLegacy(t *testing.T) {
	ctx := context.Background()

	t.Run("SkipsWhenAnyScopedSlotExists", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.storage.Set(ctx, KeyMealHistory, `[{"date":"2025-06-10","meals":[]}]`))
		require.NoError(t, env.storage.Set(ctx, ScopedKey(KeyMealHistory, "bob"), `[]`))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyMealHistory, "alice")
		require.NoError(t, err)
		require.False(t, promoted)

		_, ok, err := env.storage.Get(ctx, ScopedKey(KeyMealHistory, "alice"))
		require.NoError(t, err)
		require.False(t, ok, "second account on the device must not inherit legacy data")
	})

	t.Run("PromotesUnattributedData", func(t *testing.T) {
		env := newTestEnv(t)
		legacy := `[{"date":"2025-06-10","totalCalories":300}]`
		require.NoError(t, env.storage.Set(ctx, KeyWorkoutHistory, legacy))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyWorkoutHistory, "alice")
		require.NoError(t, err)
		require.True(t, promoted)

		history, err := env.engine.WorkoutHistory(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.Equal(t, 300.0, history[0].TotalCalories)

		raw, ok, err := env.storage.Get(ctx, KeyWorkoutHistory)
		require.NoError(t, err)
		require.True(t, ok, "legacy document is left in place")
		require.Equal(t, legacy, raw)

		promoted, err = env.engine.EnsureScopedFromLegacy(ctx, KeyWorkoutHistory, "alice")
		require.NoError(t, err)
		require.False(t, promoted)
	})

	t.Run("FiltersOtherOwners", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.storage.Set(ctx, KeyWorkoutHistory,
			`[{"user_id":"alice","totalCalories":1},{"userId":"bob","totalCalories":2},{"totalCalories":3}]`))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyWorkoutHistory, "alice")
		require.NoError(t, err)
		require.True(t, promoted)

		raw, _, err := env.storage.Get(ctx, ScopedKey(KeyWorkoutHistory, "alice"))
		require.NoError(t, err)
		var records []map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &records))
		require.Len(t, records, 2)
		for _, rec := range records {
			require.NotEqual(t, "bob", rec["userId"])
		}
	})

	t.Run("AbortsWhenEverythingBelongsToSomeoneElse", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.storage.Set(ctx, KeyWorkoutHistory, `[{"owner_id":"bob","totalCalories":2}]`))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyWorkoutHistory, "alice")
		require.NoError(t, err)
		require.False(t, promoted)

		keys, err := env.storage.Keys(ctx, KeyWorkoutHistory+":")
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("FiltersNestedMealsByOwner", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.storage.Set(ctx, KeyMealHistory, `[
			{"date":"2025-06-13","meals":[{"client_id":"m-bob","user_id":"bob","name":"steak","calories":900}]},
			{"date":"2025-06-14","meals":[
				{"client_id":"m-alice","user_id":"alice","name":"oats","calories":300},
				{"client_id":"m-bob-2","user_id":"bob","name":"pie","calories":450}
			]}
		]`))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyMealHistory, "alice")
		require.NoError(t, err)
		require.True(t, promoted)

		days, err := env.engine.MealHistory(ctx)
		require.NoError(t, err)
		require.Len(t, days, 1, "a day holding only another account's meals is dropped")
		require.Equal(t, "2025-06-14", days[0].Date)
		require.Len(t, days[0].Meals, 1)
		require.Equal(t, "m-alice", days[0].Meals[0].ClientID)
	})

	t.Run("AbortsWhenNestedMealsBelongToSomeoneElse", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.storage.Set(ctx, KeyMealHistory,
			`[{"date":"2025-06-14","meals":[{"client_id":"m-bob","user_id":"bob","name":"steak","calories":900}]}]`))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyMealHistory, "alice")
		require.NoError(t, err)
		require.False(t, promoted)

		_, ok, err := env.storage.Get(ctx, ScopedKey(KeyMealHistory, "alice"))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("CopiesObjectDocuments", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.storage.Set(ctx, KeyDailyMetricCache, `{"2025-06-15":{"consumed":700,"burned":100}}`))

		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyDailyMetricCache, "alice")
		require.NoError(t, err)
		require.True(t, promoted)

		today, err := env.engine.TodayTotals(ctx)
		require.NoError(t, err)
		require.Equal(t, 700.0, today.Consumed)
		require.Equal(t, 600.0, today.Net)
	})

	t.Run("NothingToPromote", func(t *testing.T) {
		env := newTestEnv(t)
		promoted, err := env.engine.EnsureScopedFromLegacy(ctx, KeyMealHistory, "alice")
		require.NoError(t, err)
		require.False(t, promoted)

		promoted, err = env.engine.EnsureScopedFromLegacy(ctx, KeyMealHistory, "")
		require.NoError(t, err)
		require.False(t, promoted)
	})
}

func TestCorruptCacheIsTreatedAsEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.storage.Set(ctx, ScopedKey(KeyWorkoutHistory, "alice"), "{not json"))

	history, err := env.engine.WorkoutHistory(ctx)
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = env.engine.SaveWorkoutLocalFirst(ctx, Workout{TotalCalories: 50})
	require.NoError(t, err)
	history, err = env.engine.WorkoutHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
