// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"sync"
)

// AttachSyncListeners flushes once immediately, then again (with Config.ListenerTries
// passes) on every reconnect or visibility signal until ctx is done or detach is called.
func (e *Engine) AttachSyncListeners(ctx context.Context, sig Signals) (detach func()) {
	return e.listen(ctx, sig, true, func(ctx context.Context) {
		if _, err := e.FlushPending(ctx, FlushOptions{MaxTries: e.config.ListenerTries}); err != nil {
			e.logger.Warn("Signal-triggered flush failed", "error", err)
		}
	})
}

// Attach runs Resume on every reconnect or visibility signal
func (e *Engine) Attach(ctx context.Context, sig Signals) (detach func()) {
	return e.listen(ctx, sig, false, func(ctx context.Context) {
		e.Resume(ctx)
	})
}

func (e *Engine) listen(ctx context.Context, sig Signals, immediate bool, run func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if immediate {
			run(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sig.Reconnected:
				if !ok {
					sig.Reconnected = nil
					continue
				}
				run(ctx)
			case _, ok := <-sig.Visible:
				if !ok {
					sig.Visible = nil
					continue
				}
				run(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
