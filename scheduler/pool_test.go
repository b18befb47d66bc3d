// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := newExecutorPool(2)
	assert.Equal(t, 2, p.FreeSlots())

	assert.True(t, p.TryAcquire())
	assert.True(t, p.TryAcquire())
	assert.Equal(t, 0, p.FreeSlots())
	assert.False(t, p.TryAcquire())

	p.Release()
	assert.Equal(t, 1, p.FreeSlots())
	assert.True(t, p.TryAcquire())
}

func TestPoolExecute(t *testing.T) {
	p := newExecutorPool(1)
	assert.True(t, p.TryAcquire())

	done := make(chan struct{})
	p.Execute(func() {
		defer p.Release()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execute callback never ran")
	}
	assert.True(t, p.WaitIdle(clock.New(), 5*time.Second))
	assert.Equal(t, 1, p.FreeSlots())
}

func TestPoolWaitIdleTimeout(t *testing.T) {
	p := newExecutorPool(1)
	assert.True(t, p.TryAcquire())

	release := make(chan struct{})
	p.Execute(func() {
		defer p.Release()
		<-release
	})

	assert.False(t, p.WaitIdle(clock.New(), 10*time.Millisecond))
	close(release)
	assert.True(t, p.WaitIdle(clock.New(), 5*time.Second))
}
