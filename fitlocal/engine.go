// Package fitlocal is the device-side reconciliation engine for meals, workouts
// and daily calorie totals.
//
// Every write lands in local storage first and is then sent to the remote store,
// or queued for a later flush when the device is offline or the remote call fails.
// Hydration pulls remote state back with explicit precedence rules: remote wins for
// today's totals, local wins for history.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds engine tuning. Zero durations fall back to DefaultConfig values.
type Config struct {
	BackoffBase     time.Duration // 1s; first retry waits 2x this
	BackoffMax      time.Duration // 30s
	PassDelay       time.Duration // 1.2s between flush passes
	ResumeThrottle  time.Duration // 2.5s minimum spacing of Resume runs
	HistoryDays     int           // 7; window for recent-history hydration
	DeadLetterAfter int           // 0 = retry forever
	ListenerTries   int           // 3; MaxTries used by signal-triggered flushes
	SyncAggregates  bool          // push the day's totals after a record reaches the remote
	Location        *time.Location

	Logger *slog.Logger
	Locker QueueLocker
	Now    func() time.Time
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() *Config {
	return &Config{
		BackoffBase:     1 * time.Second,
		BackoffMax:      30 * time.Second,
		PassDelay:       1200 * time.Millisecond,
		ResumeThrottle:  2500 * time.Millisecond,
		HistoryDays:     7,
		DeadLetterAfter: 0,
		ListenerTries:   3,
		SyncAggregates:  true,
		Location:        time.Local,
	}
}

// Engine owns the local cache, the pending queue and the event emitter for one device
type Engine struct {
	storage Storage
	remote  RemoteStore
	conn    Connectivity
	session Session
	config  *Config
	logger  *slog.Logger
	events  *Emitter
	locker  QueueLocker
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	cacheMu  sync.Mutex // history and daily totals read-modify-write
	flushMu  sync.Mutex // one flush at a time
	idMu     sync.Mutex
	resumeMu sync.Mutex
	resume   *rate.Limiter
}

// NewEngine creates an engine over the given collaborators
func NewEngine(storage Storage, remote RemoteStore, conn Connectivity, session Session, config *Config) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if conn == nil {
		conn = NewStaticConnectivity(true)
	}
	if session == nil {
		session = NewStaticSession(nil)
	}

	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.PassDelay < 0 {
		cfg.PassDelay = 0
	}
	if cfg.ResumeThrottle <= 0 {
		cfg.ResumeThrottle = def.ResumeThrottle
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = def.HistoryDays
	}
	if cfg.ListenerTries <= 0 {
		cfg.ListenerTries = def.ListenerTries
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	e := &Engine{
		storage: storage,
		remote:  remote,
		conn:    conn,
		session: session,
		config:  &cfg,
		logger:  cfg.Logger,
		locker:  cfg.Locker,
		now:     cfg.Now,
		sleep:   sleepWithContext,
		resume:  rate.NewLimiter(rate.Every(cfg.ResumeThrottle), 1),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.locker == nil {
		e.locker = &MutexLocker{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.events = NewEmitter(e.logger)
	return e, nil
}

// Events returns the engine's emitter
func (e *Engine) Events() *Emitter { return e.events }

// Subscribe is shorthand for Events().Subscribe
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) { return e.events.Subscribe(fn) }

func (e *Engine) currentUser() *User {
	u := e.session.CurrentUser()
	if u == nil || u.ID == "" {
		return nil
	}
	return u
}

func (e *Engine) userID() string {
	if u := e.currentUser(); u != nil {
		return u.ID
	}
	return ""
}

func (e *Engine) online() bool { return e.conn.Online() }

// Today returns the current local-day key
func (e *Engine) Today() string { return e.dayOf(e.now()) }

func (e *Engine) dayOf(t time.Time) string {
	return t.In(e.config.Location).Format(dayLayout)
}

// localNoon is the synthesized timestamp for legacy records that only carry a day
func (e *Engine) localNoon(day string) time.Time {
	d, err := time.ParseInLocation(dayLayout, day, e.config.Location)
	if err != nil {
		return e.now()
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, e.config.Location)
}

// dayRange returns the inclusive [from, to] day keys covering the last n days
func (e *Engine) dayRange(days int) (string, string) {
	now := e.now().In(e.config.Location)
	return now.AddDate(0, 0, -(days - 1)).Format(dayLayout), now.Format(dayLayout)
}

const dayLayout = "2006-01-02"

func clampCalories(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// loadJSON decodes key into out. Missing keys and corrupt documents leave out untouched;
// only storage failures are returned.
func (e *Engine) loadJSON(ctx context.Context, key string, out any) error {
	raw, ok, err := e.storage.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		e.logger.Warn("Ignoring unreadable local document", "key", key, "error", err)
	}
	return nil
}

func (e *Engine) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return e.storage.Set(ctx, key, string(data))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func isAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
