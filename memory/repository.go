// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package memory provides an in-process, in-memory implementation of
// the execution repository.  There is no persistence, nor any sharing
// beyond the process.  The entire store is behind a single mutex; this
// is tuned for correctness, not scalability.
//
// This is mostly intended for tests, including in-process testing of
// the scheduler engine, and for single-node embedded use where
// durability does not matter.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/diffeo/go-schedule/schedule"
)

// Store holds the shared execution table.  Several repositories, one
// per simulated scheduler, can be built over one store; this is how
// tests exercise the claim protocol.
type Store struct {
	sem        sync.Mutex
	executions map[schedule.TaskInstance]*schedule.Execution
}

// NewStore creates an empty in-memory execution store.
func NewStore() *Store {
	return &Store{
		executions: make(map[schedule.TaskInstance]*schedule.Execution),
	}
}

// Repository returns a repository view of this store for one named
// scheduler.  Pick records this name as the claim owner.
func (s *Store) Repository(schedulerName string) schedule.ExecutionRepository {
	return &repository{store: s, name: schedulerName}
}

// New creates a store with a single repository view, for the common
// single-scheduler case.
func New(schedulerName string) schedule.ExecutionRepository {
	return NewStore().Repository(schedulerName)
}

type repository struct {
	store *Store
	name  string
}

func (r *repository) CreateIfNotExists(e schedule.Execution) (bool, error) {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	if _, present := r.store.executions[e.TaskInstance]; present {
		return false, nil
	}
	stored := schedule.Execution{
		TaskInstance:  e.TaskInstance,
		ExecutionTime: e.ExecutionTime,
		Version:       1,
	}
	r.store.executions[e.TaskInstance] = &stored
	return true, nil
}

func (r *repository) DueExecutions(now time.Time) ([]schedule.Execution, error) {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	var due []schedule.Execution
	for _, stored := range r.store.executions {
		if stored.IsDue(now) {
			due = append(due, *stored)
		}
	}
	sortExecutions(due)
	return due, nil
}

func (r *repository) Pick(e schedule.Execution, timePicked time.Time) (*schedule.Execution, error) {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	stored, present := r.store.executions[e.TaskInstance]
	if !present || stored.Picked || stored.Version != e.Version {
		// Some other scheduler got here first.
		return nil, nil
	}
	stored.Picked = true
	stored.PickedBy = r.name
	stored.LastHeartbeat = timePicked
	stored.Version++
	picked := *stored
	return &picked, nil
}

func (r *repository) UpdateHeartbeat(e schedule.Execution, t time.Time) error {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	stored, present := r.store.executions[e.TaskInstance]
	if !present || !stored.Picked || stored.PickedBy != e.PickedBy || stored.Version != e.Version {
		// The claim has moved on; a stale heartbeat must not
		// resurrect it.
		return nil
	}
	stored.LastHeartbeat = t
	return nil
}

func (r *repository) Reschedule(e schedule.Execution, nextTime, lastSuccess, lastFailure time.Time) error {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	stored, present := r.store.executions[e.TaskInstance]
	if !present {
		return schedule.ErrExecutionGone
	}
	if stored.Version != e.Version {
		return schedule.ErrStaleExecution
	}
	stored.Picked = false
	stored.PickedBy = ""
	stored.LastHeartbeat = time.Time{}
	stored.ExecutionTime = nextTime
	if !lastSuccess.IsZero() {
		stored.LastSuccess = lastSuccess
	}
	if !lastFailure.IsZero() {
		stored.LastFailure = lastFailure
	}
	stored.Version++
	return nil
}

func (r *repository) Remove(e schedule.Execution) error {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	stored, present := r.store.executions[e.TaskInstance]
	if !present {
		return schedule.ErrExecutionGone
	}
	if stored.Version != e.Version {
		return schedule.ErrStaleExecution
	}
	delete(r.store.executions, e.TaskInstance)
	return nil
}

func (r *repository) OldExecutions(olderThan time.Time) ([]schedule.Execution, error) {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	var old []schedule.Execution
	for _, stored := range r.store.executions {
		if stored.Picked && !stored.LastHeartbeat.After(olderThan) {
			old = append(old, *stored)
		}
	}
	sortExecutions(old)
	return old, nil
}

// FailingExecutions always returns nil: the in-memory store does not
// track failure history.  The durable backend implements this
// faithfully.
func (r *repository) FailingExecutions(failingFor time.Duration) ([]schedule.Execution, error) {
	return nil, nil
}

func (r *repository) ScheduledExecutions() ([]schedule.Execution, error) {
	r.store.sem.Lock()
	defer r.store.sem.Unlock()

	all := make([]schedule.Execution, 0, len(r.store.executions))
	for _, stored := range r.store.executions {
		all = append(all, *stored)
	}
	sortExecutions(all)
	return all, nil
}

// sortExecutions orders executions ascending by execution time, ties
// broken by task name and then instance ID so results are
// deterministic.
func sortExecutions(executions []schedule.Execution) {
	sort.Slice(executions, func(i, j int) bool {
		ei, ej := executions[i], executions[j]
		if !ei.ExecutionTime.Equal(ej.ExecutionTime) {
			return ei.ExecutionTime.Before(ej.ExecutionTime)
		}
		if ei.TaskInstance.TaskName != ej.TaskInstance.TaskName {
			return ei.TaskInstance.TaskName < ej.TaskInstance.TaskName
		}
		return ei.TaskInstance.ID < ej.TaskInstance.ID
	})
}
