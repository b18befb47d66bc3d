// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// executorPool bounds how many executions run concurrently.  There is
// deliberately no queue: a scheduler that cannot run a claimed
// execution right now must not claim it, or it would starve its
// peers.  The due-polling loop therefore acquires a slot before
// attempting a claim, and releases it on every path that does not end
// in a running worker.
type executorPool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newExecutorPool(size int) *executorPool {
	return &executorPool{
		slots: make(chan struct{}, size),
	}
}

// TryAcquire takes a worker slot if one is free, without blocking.
// Every true return must be paired with exactly one Release.
func (p *executorPool) TryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a worker slot.
func (p *executorPool) Release() {
	<-p.slots
}

// FreeSlots reports how many slots are currently available.
func (p *executorPool) FreeSlots() int {
	return cap(p.slots) - len(p.slots)
}

// Execute runs f on its own goroutine.  The caller must hold a slot;
// f is responsible for releasing it.
func (p *executorPool) Execute(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f()
	}()
}

// WaitIdle blocks until every submitted execution has finished, or
// until timeout passes, and reports whether the pool drained.
func (p *executorPool) WaitIdle(clk clock.Clock, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
