// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"sync"
	"time"

	"github.com/diffeo/go-schedule/schedule"
)

// CurrentlyExecuting records one execution this scheduler is running
// right now.
type CurrentlyExecuting struct {
	// Execution is the claimed execution, with the version Pick
	// returned.
	Execution schedule.Execution

	// StartedAt is when the execution was claimed.
	StartedAt time.Time
}

// executingSet tracks the executions currently running in this
// process.  The due-polling loop inserts on claim and removes on
// completion; the heartbeat loop reads a snapshot, so the live set
// can mutate while a heartbeat pass is under way.
type executingSet struct {
	sem        sync.Mutex
	executions map[schedule.TaskInstance]CurrentlyExecuting
}

func newExecutingSet() *executingSet {
	return &executingSet{
		executions: make(map[schedule.TaskInstance]CurrentlyExecuting),
	}
}

func (s *executingSet) Add(e schedule.Execution, startedAt time.Time) {
	s.sem.Lock()
	defer s.sem.Unlock()
	s.executions[e.TaskInstance] = CurrentlyExecuting{
		Execution: e,
		StartedAt: startedAt,
	}
}

func (s *executingSet) Remove(instance schedule.TaskInstance) {
	s.sem.Lock()
	defer s.sem.Unlock()
	delete(s.executions, instance)
}

func (s *executingSet) Len() int {
	s.sem.Lock()
	defer s.sem.Unlock()
	return len(s.executions)
}

// Snapshot copies the current set out, so callers can iterate without
// holding the lock.
func (s *executingSet) Snapshot() []CurrentlyExecuting {
	s.sem.Lock()
	defer s.sem.Unlock()
	snapshot := make([]CurrentlyExecuting, 0, len(s.executions))
	for _, cur := range s.executions {
		snapshot = append(snapshot, cur)
	}
	return snapshot
}
