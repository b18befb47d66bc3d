// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"time"

	"github.com/benbjohnson/clock"
)

// waiter is the interruptible sleep between loop iterations.  Wake()
// may be called from any goroutine; a wake-up delivered while nothing
// is waiting is remembered for the next Wait(), so a shutdown signal
// can never be lost in the gap between iterations.
type waiter struct {
	clk    clock.Clock
	period time.Duration
	wake   chan struct{}
}

func newWaiter(clk clock.Clock, period time.Duration) *waiter {
	return &waiter{
		clk:    clk,
		period: period,
		wake:   make(chan struct{}, 1),
	}
}

// Wait blocks for up to the waiter's period, and reports whether it
// was woken early.
func (w *waiter) Wait() bool {
	timer := w.clk.Timer(w.period)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-w.wake:
		return true
	}
}

// Wake causes an in-progress (or the next) Wait to return
// immediately.  It never blocks.
func (w *waiter) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
