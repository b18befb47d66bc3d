// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package schedule defines the abstract API to the scheduler system.
//
// In most cases, applications will know of specific implementations of
// this API and will get an ExecutionRepository from that implementation;
// the memory and postgres packages provide the two standard backends.
// The scheduler package runs executions out of a repository.
//
// An Execution is a plain value.  Code that reads an execution from a
// repository and later hands it back (to Pick, Reschedule, and so on)
// must hand back the same value it read: the embedded version is what
// lets the repository detect that somebody else got there first.
package schedule

import "time"

// TaskInstance identifies one concrete scheduled occurrence of a task.
// TaskName selects the handler set from the registry; ID distinguishes
// instances of the same task.  The pair is globally unique while the
// execution is scheduled.
type TaskInstance struct {
	// TaskName is the name of the task as registered.
	TaskName string

	// ID is the caller-chosen instance identifier.  Recurring tasks
	// conventionally use a fixed ID such as "recurring"; one-time
	// tasks often use a UUID.
	ID string
}

// String renders a task instance in the canonical "task/id" form used
// in logs.
func (ti TaskInstance) String() string {
	return ti.TaskName + "/" + ti.ID
}

// Execution is a scheduled occurrence of a task instance at a specific
// time.  It is the central entity of the system.
type Execution struct {
	// TaskInstance identifies this execution.  At most one row per
	// task instance exists in a repository at any time.
	TaskInstance TaskInstance

	// ExecutionTime is the instant at which this execution becomes
	// eligible to run.
	ExecutionTime time.Time

	// Picked is true iff some scheduler has claimed this execution
	// and is (or was) running it.
	Picked bool

	// PickedBy is the name of the claiming scheduler.  It is set iff
	// Picked is true.
	PickedBy string

	// LastHeartbeat is the time of the most recent heartbeat.  It is
	// set while the execution is picked.
	LastHeartbeat time.Time

	// LastSuccess and LastFailure are the times of the most recent
	// terminal outcomes.  They are purely informational.
	LastSuccess time.Time
	LastFailure time.Time

	// Version counts modifications to the row.  Every conditional
	// repository operation checks it, which is what makes the claim
	// protocol safe across schedulers.
	Version int64
}

// IsFree reports whether this execution is unclaimed.
func (e Execution) IsFree() bool {
	return !e.Picked
}

// IsDue reports whether this execution is eligible to be claimed at
// the given time.
func (e Execution) IsDue(now time.Time) bool {
	return !e.Picked && !e.ExecutionTime.After(now)
}

// ExecutionRepository is the durable store of scheduled executions.
// Two implementations exist: the postgres package provides the durable
// store shared by a scheduler cluster, and the memory package provides
// a non-durable single-process store for tests and embedded use.
//
// Every mutating operation is a single atomic store operation guarded
// by the version recorded in the passed-in Execution.  There is no
// multi-row transactional API; correctness follows from per-row
// atomicity plus the version check.
type ExecutionRepository interface {
	// CreateIfNotExists inserts a new execution iff no row with the
	// same task instance exists, and reports whether it inserted.
	// Concurrent calls with the same task instance produce exactly
	// one insertion, so scheduling is idempotent.
	CreateIfNotExists(e Execution) (bool, error)

	// DueExecutions returns all free executions whose execution
	// time is at or before now, sorted ascending by execution time
	// with ties broken by task name and then instance ID.
	DueExecutions(now time.Time) ([]Execution, error)

	// Pick atomically claims a due execution for the scheduler this
	// repository was built for.  The claim succeeds iff the row
	// still exists, is still free, and still has e's version.  On
	// success the returned copy has Picked set, PickedBy naming
	// this scheduler, a fresh LastHeartbeat of timePicked, and an
	// incremented version.  A nil return with a nil error means
	// another scheduler won the race; that is not an error.
	//
	// Pick is the sole synchronization point between competing
	// schedulers.
	Pick(e Execution, timePicked time.Time) (*Execution, error)

	// UpdateHeartbeat sets the row's last heartbeat to t iff the
	// row is still claimed with e's version and owner.  Otherwise
	// it silently does nothing; the claim has moved on and the
	// stale heartbeat must not resurrect it.
	UpdateHeartbeat(e Execution, t time.Time) error

	// Reschedule atomically releases a claimed execution back to
	// free with a new execution time.  A non-zero lastSuccess or
	// lastFailure replaces the stored value; a zero time preserves
	// it.  If e's version no longer matches, returns
	// ErrStaleExecution: a recurring task must not double-schedule.
	Reschedule(e Execution, nextTime, lastSuccess, lastFailure time.Time) error

	// Remove deletes a claimed execution.  If e's version no longer
	// matches, returns ErrStaleExecution.
	Remove(e Execution) error

	// OldExecutions returns all claimed executions, regardless of
	// owner, whose last heartbeat is at or before olderThan, sorted
	// ascending by execution time.  These are the dead-execution
	// candidates.
	OldExecutions(olderThan time.Time) ([]Execution, error)

	// FailingExecutions returns executions whose last failure is at
	// or before now minus failingFor and which have no success
	// recorded after that failure.  This is informational; the
	// memory backend returns nil.
	FailingExecutions(failingFor time.Duration) ([]Execution, error)

	// ScheduledExecutions returns every execution in the store,
	// claimed or free, sorted ascending by execution time.
	ScheduledExecutions() ([]Execution, error)
}

// SchedulerClient is the scheduling surface handed to application code:
// startup hooks, task bodies, and anything else that needs to put new
// work into the store without touching repository internals.
type SchedulerClient interface {
	// Schedule records that instance should run at executionTime.
	// It reports whether a new execution was created; false means
	// an execution for this instance already exists, which is not
	// an error.
	Schedule(instance TaskInstance, executionTime time.Time) (bool, error)
}
