// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestWaiterExpires(t *testing.T) {
	w := newWaiter(clock.New(), time.Millisecond)
	assert.False(t, w.Wait())
}

func TestWaiterWoken(t *testing.T) {
	w := newWaiter(clock.New(), time.Hour)
	go w.Wake()
	assert.True(t, w.Wait())
}

func TestWaiterWakeBeforeWait(t *testing.T) {
	// A wake-up delivered while nothing is waiting still
	// interrupts the next Wait; a shutdown signal cannot be lost
	// between iterations.
	w := newWaiter(clock.New(), time.Hour)
	w.Wake()
	assert.True(t, w.Wait())
}

func TestWaiterWakeIdempotent(t *testing.T) {
	w := newWaiter(clock.New(), time.Millisecond)
	w.Wake()
	w.Wake()
	w.Wake()
	assert.True(t, w.Wait())
	// Only one pending wake-up is remembered; the next wait runs
	// out its period.
	assert.False(t, w.Wait())
}
