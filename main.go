// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/iceman4177/CalFit-sub000/fitlocal"
	"github.com/iceman4177/CalFit-sub000/fitsync"
)

func main() {
	fmt.Println("🚀 CalFit sync - offline-first meals, workouts and daily calorie totals")
	fmt.Println("=======================================================================")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Sync Server (examples/fitsync_server/)")
	fmt.Println("   REST API over Postgres with JWT auth, health and Prometheus metrics")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/fitsync_server")
	fmt.Println()
	fmt.Println("2. 📱 Device CLI (examples/device_cli/)")
	fmt.Println("   SQLite-backed device cache with an offline queue")
	fmt.Println("   Run: go run ./examples/device_cli --help")
	fmt.Println()

	fmt.Println("🔁 In-process walkthrough:")
	if err := walkthrough(context.Background()); err != nil {
		log.Fatalf("walkthrough failed: %v", err)
	}
}

// walkthrough logs a meal while offline, reconnects and flushes it to an in-memory server store
func walkthrough(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	remote := fitsync.NewMemoryStore()
	conn := fitlocal.NewStaticConnectivity(false)
	session := fitlocal.NewStaticSession(&fitlocal.User{ID: "demo-user"})

	cfg := fitlocal.DefaultConfig()
	cfg.Logger = logger
	engine, err := fitlocal.NewEngine(fitlocal.NewMemoryStorage(), remote, conn, session, cfg)
	if err != nil {
		return err
	}
	engine.Subscribe(func(ev fitlocal.Event) {
		fmt.Printf("   event %-12s %s consumed=%.0f burned=%.0f net=%.0f\n", ev.Domain, ev.Day, ev.Totals.Consumed, ev.Totals.Burned, ev.Totals.Net)
	})

	res, err := engine.SaveMealLocalFirst(ctx, fitlocal.Meal{
		Name:  "lunch",
		Items: []fitlocal.MealItem{{Name: "rice", Calories: 250}, {Name: "chicken", Calories: 200}},
	})
	if err != nil {
		return err
	}
	fmt.Printf("   meal %s queued=%v local_only=%v\n", res.ClientID, res.Queued, res.LocalOnly)

	if _, err := engine.SaveWorkoutLocalFirst(ctx, fitlocal.Workout{
		Exercises: []fitlocal.Exercise{{Name: "run", Calories: 300}},
	}); err != nil {
		return err
	}

	conn.SetOnline(true)
	flushed, err := engine.FlushPending(ctx, fitlocal.FlushOptions{MaxTries: 1})
	if err != nil {
		return err
	}
	fmt.Printf("   flushed=%d remaining=%d\n", flushed.Flushed, flushed.Remaining)

	today := engine.Today()
	metric, err := remote.GetDailyMetric(ctx, "demo-user", today)
	if err != nil {
		return err
	}
	if metric != nil {
		fmt.Printf("   server totals %s: consumed=%.0f burned=%.0f net=%.0f\n", today, metric.Consumed, metric.Burned, metric.Net)
	}
	return nil
}
