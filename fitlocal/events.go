// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"log/slog"
	"sync"
)

// Domain identifies which record family an Event is about
type Domain string

const (
	DomainWorkout     Domain = "workout"
	DomainMeal        Domain = "meal"
	DomainDailyMetric Domain = "daily_metric"
)

// Event announces a change to a day's totals
type Event struct {
	Domain Domain
	Day    string
	Totals DayTotals
}

type subscriber struct {
	id int
	fn func(Event)
}

// Emitter delivers events synchronously, in subscription order
type Emitter struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
	logger *slog.Logger
}

// NewEmitter creates an emitter that logs recovered listener panics to logger
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers fn and returns a function that removes it
func (e *Emitter) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit calls every listener; a panicking listener does not stop the others
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	subs := append([]subscriber(nil), e.subs...)
	e.mu.Unlock()

	for _, s := range subs {
		e.deliver(s, ev)
	}
}

func (e *Emitter) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Event listener panicked", "domain", ev.Domain, "day", ev.Day, "panic", r)
		}
	}()
	s.fn(ev)
}
