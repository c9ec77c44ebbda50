package fitlocal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iceman4177/CalFit-sub000/fitsync"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	server *httptest.Server
	store  *fitsync.MemoryStore
	auth   *fitsync.JWTAuth
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := fitsync.NewMemoryStore()
	auth := fitsync.NewJWTAuth("test-secret")

	mux := http.NewServeMux()
	fitsync.NewHTTPHandlers(store, auth, logger).Register(mux)
	server := httptest.NewServer(auth.Middleware(mux))
	t.Cleanup(server.Close)
	return &httpFixture{server: server, store: store, auth: auth}
}

func (f *httpFixture) token(t *testing.T, userID string) func(ctx context.Context) (string, error) {
	t.Helper()
	tok, err := f.auth.GenerateToken(userID, userID+"@example.com", "device-1", time.Hour)
	require.NoError(t, err)
	return func(context.Context) (string, error) { return tok, nil }
}

func TestHTTPRemote_RoundTrip(t *testing.T) {
	f := newHTTPFixture(t)
	ctx := context.Background()
	remote := NewHTTPRemote(f.server.URL+"/", f.token(t, "alice"))

	require.NoError(t, remote.UpsertWorkout(ctx, "alice", fitsync.WorkoutRow{
		ClientID:  "w1",
		LocalDay:  "2025-06-15",
		StartedAt: time.Date(2025, 6, 15, 7, 30, 0, 0, time.UTC),
		Exercises: []fitsync.ExerciseRow{{Name: "run", Calories: 310}},
	}))
	workouts, err := remote.ListWorkouts(ctx, "alice", "2025-06-15", "2025-06-15")
	require.NoError(t, err)
	require.Len(t, workouts, 1)
	require.Equal(t, "alice", workouts[0].UserID)
	require.Equal(t, 310.0, workouts[0].TotalCalories)

	require.NoError(t, remote.DeleteWorkout(ctx, "alice", "w1"))
	workouts, err = remote.ListWorkouts(ctx, "alice", "2025-06-15", "2025-06-15")
	require.NoError(t, err)
	require.Empty(t, workouts)

	require.NoError(t, remote.UpsertMeal(ctx, "alice", fitsync.MealRow{
		ClientID: "m1", LocalDay: "2025-06-14", Name: "dinner",
		Items: []fitsync.MealItemRow{{Name: "pizza", Calories: 900}},
	}))
	meals, err := remote.ListMeals(ctx, "alice", "2025-06-10", "2025-06-15")
	require.NoError(t, err)
	require.Len(t, meals, 1)
	require.Equal(t, 900.0, meals[0].TotalCalories)
	require.NoError(t, remote.DeleteMeal(ctx, "alice", "m1"))

	missing, err := remote.GetDailyMetric(ctx, "alice", "2025-06-15")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, remote.UpsertDailyMetric(ctx, "alice", fitsync.DailyMetricRow{
		ClientID: "d1", LocalDay: "2025-06-15", Consumed: 2000, Burned: 450,
	}))
	metric, err := remote.GetDailyMetric(ctx, "alice", "2025-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	require.Equal(t, 1550.0, metric.Net)

	metrics, err := remote.ListDailyMetrics(ctx, "alice", "2025-06-09", "2025-06-15")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
}

func TestHTTPRemote_ErrorClassification(t *testing.T) {
	f := newHTTPFixture(t)
	ctx := context.Background()
	alice := NewHTTPRemote(f.server.URL, f.token(t, "alice"))
	bob := NewHTTPRemote(f.server.URL, f.token(t, "bob"))

	err := alice.UpsertMeal(ctx, "alice", fitsync.MealRow{ClientID: "m1", LocalDay: "15/06/2025"})
	require.ErrorIs(t, err, ErrRejected)
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, http.StatusBadRequest, remoteErr.Status)

	require.NoError(t, alice.UpsertMeal(ctx, "alice", fitsync.MealRow{ClientID: "shared", LocalDay: "2025-06-15", TotalCalories: 10}))
	err = bob.UpsertMeal(ctx, "bob", fitsync.MealRow{ClientID: "shared", LocalDay: "2025-06-15", TotalCalories: 20})
	require.ErrorIs(t, err, ErrRejected)
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, http.StatusConflict, remoteErr.Status)

	anonymous := NewHTTPRemote(f.server.URL, func(context.Context) (string, error) { return "not-a-jwt", nil })
	_, err = anonymous.ListMeals(ctx, "", "2025-06-15", "2025-06-15")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.True(t, isAuthError(err))

	noToken := NewHTTPRemote(f.server.URL, func(context.Context) (string, error) { return "", errors.New("signed out") })
	_, err = noToken.ListMeals(ctx, "", "2025-06-15", "2025-06-15")
	require.ErrorIs(t, err, ErrUnauthorized)

	f.server.Close()
	_, err = alice.ListWorkouts(ctx, "alice", "2025-06-15", "2025-06-15")
	require.ErrorIs(t, err, ErrNetworkFailure)
}

func TestEngineOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	ctx := context.Background()
	tok := f.token(t, "alice")

	clock := newFakeClock()
	conn := NewStaticConnectivity(false)
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Location = time.UTC
	cfg.PassDelay = 0
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := NewEngine(NewMemoryStorage(), NewHTTPRemote(f.server.URL, tok), conn, &TokenSession{Token: tok}, cfg)
	require.NoError(t, err)

	res, err := engine.SaveMealLocalFirst(ctx, Meal{Name: "lunch", Items: []MealItem{{Name: "wrap", Calories: 450}}})
	require.NoError(t, err)
	require.True(t, res.LocalOnly)

	conn.SetOnline(true)
	flushed, err := engine.FlushPending(ctx, FlushOptions{MaxTries: 2})
	require.NoError(t, err)
	require.Equal(t, 1, flushed.Flushed)

	meals, err := f.store.ListMeals(ctx, "alice", "2025-06-15", "2025-06-15")
	require.NoError(t, err)
	require.Len(t, meals, 1)
	require.Equal(t, 450.0, meals[0].TotalCalories)

	metric, err := f.store.GetDailyMetric(ctx, "alice", "2025-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	require.Equal(t, 450.0, metric.Consumed)
}
