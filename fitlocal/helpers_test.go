package fitlocal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iceman4177/CalFit-sub000/fitsync"
	"github.com/stretchr/testify/require"
)

var errRemoteDown = errors.New("remote unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyRemote wraps a MemoryStore, records calls in order and fails on demand
type flakyRemote struct {
	store *fitsync.MemoryStore

	mu      sync.Mutex
	failAll bool
	failOps map[string]bool
	calls   []string
}

func newFlakyRemote() *flakyRemote {
	return &flakyRemote{store: fitsync.NewMemoryStore(), failOps: map[string]bool{}}
}

func (f *flakyRemote) setFailing(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

func (f *flakyRemote) failOp(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[op] = true
}

func (f *flakyRemote) clearFailOp(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failOps, op)
}

func (f *flakyRemote) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if f.failAll || f.failOps[op] {
		return errRemoteDown
	}
	return nil
}

func (f *flakyRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *flakyRemote) count(op string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *flakyRemote) UpsertWorkout(ctx context.Context, userID string, row fitsync.WorkoutRow) error {
	if err := f.check("UpsertWorkout"); err != nil {
		return err
	}
	return f.store.UpsertWorkout(ctx, userID, row)
}

func (f *flakyRemote) DeleteWorkout(ctx context.Context, userID, clientID string) error {
	if err := f.check("DeleteWorkout"); err != nil {
		return err
	}
	return f.store.DeleteWorkout(ctx, userID, clientID)
}

func (f *flakyRemote) UpsertMeal(ctx context.Context, userID string, row fitsync.MealRow) error {
	if err := f.check("UpsertMeal"); err != nil {
		return err
	}
	return f.store.UpsertMeal(ctx, userID, row)
}

func (f *flakyRemote) DeleteMeal(ctx context.Context, userID, clientID string) error {
	if err := f.check("DeleteMeal"); err != nil {
		return err
	}
	return f.store.DeleteMeal(ctx, userID, clientID)
}

func (f *flakyRemote) UpsertDailyMetric(ctx context.Context, userID string, row fitsync.DailyMetricRow) error {
	if err := f.check("UpsertDailyMetric"); err != nil {
		return err
	}
	return f.store.UpsertDailyMetric(ctx, userID, row)
}

func (f *flakyRemote) GetDailyMetric(ctx context.Context, userID, day string) (*fitsync.DailyMetricRow, error) {
	if err := f.check("GetDailyMetric"); err != nil {
		return nil, err
	}
	return f.store.GetDailyMetric(ctx, userID, day)
}

func (f *flakyRemote) ListWorkouts(ctx context.Context, userID, fromDay, toDay string) ([]fitsync.WorkoutRow, error) {
	if err := f.check("ListWorkouts"); err != nil {
		return nil, err
	}
	return f.store.ListWorkouts(ctx, userID, fromDay, toDay)
}

func (f *flakyRemote) ListMeals(ctx context.Context, userID, fromDay, toDay string) ([]fitsync.MealRow, error) {
	if err := f.check("ListMeals"); err != nil {
		return nil, err
	}
	return f.store.ListMeals(ctx, userID, fromDay, toDay)
}

func (f *flakyRemote) ListDailyMetrics(ctx context.Context, userID, fromDay, toDay string) ([]fitsync.DailyMetricRow, error) {
	if err := f.check("ListDailyMetrics"); err != nil {
		return nil, err
	}
	return f.store.ListDailyMetrics(ctx, userID, fromDay, toDay)
}

type testEnv struct {
	engine  *Engine
	storage *MemoryStorage
	remote  *flakyRemote
	conn    *StaticConnectivity
	session *StaticSession
	clock   *fakeClock
}

func newTestEnv(t *testing.T, mutate ...func(cfg *Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		storage: NewMemoryStorage(),
		remote:  newFlakyRemote(),
		conn:    NewStaticConnectivity(true),
		session: NewStaticSession(&User{ID: "alice", Email: "alice@example.com"}),
		clock:   newFakeClock(),
	}
	cfg := DefaultConfig()
	cfg.PassDelay = 0
	cfg.Location = time.UTC
	cfg.Now = env.clock.Now
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, m := range mutate {
		m(cfg)
	}
	engine, err := NewEngine(env.storage, env.remote, env.conn, env.session, cfg)
	require.NoError(t, err)
	env.engine = engine
	return env
}

func (env *testEnv) pending(t *testing.T) []PendingOperation {
	t.Helper()
	ops, err := env.engine.PendingOperations(context.Background())
	require.NoError(t, err)
	return ops
}

// collectEvents subscribes and returns a function reading what was delivered so far
func collectEvents(e *Engine) func() []Event {
	var (
		mu     sync.Mutex
		events []Event
	)
	e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
}

// otherDevice returns a second engine for the same user, sharing env's remote and clock
func (env *testEnv) otherDevice(t *testing.T) *testEnv {
	t.Helper()
	other := &testEnv{
		storage: NewMemoryStorage(),
		remote:  env.remote,
		conn:    NewStaticConnectivity(true),
		session: NewStaticSession(&User{ID: "alice", Email: "alice@example.com"}),
		clock:   env.clock,
	}
	cfg := DefaultConfig()
	cfg.PassDelay = 0
	cfg.Location = time.UTC
	cfg.Now = other.clock.Now
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := NewEngine(other.storage, other.remote, other.conn, other.session, cfg)
	require.NoError(t, err)
	other.engine = engine
	return other
}
