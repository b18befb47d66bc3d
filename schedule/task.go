// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package schedule

import (
	"context"
	"time"
)

// ExecutionResult is the terminal result of running a task body.
type ExecutionResult int

const (
	// OK means the task body returned normally.
	OK ExecutionResult = iota

	// Failed means the task body returned an error or panicked.
	// The scheduler logs the cause and continues.
	Failed
)

// String renders an execution result for logs.
func (r ExecutionResult) String() string {
	switch r {
	case OK:
		return "ok"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SchedulerState is the read-only view of a running scheduler's
// lifecycle flags.  Task bodies receive it through ExecutionContext
// and are expected to poll IsShuttingDown during long-running work.
type SchedulerState interface {
	// IsRunning reports whether the scheduler has started and not
	// yet finished shutting down.
	IsRunning() bool

	// IsShuttingDown reports whether a shutdown has been requested.
	IsShuttingDown() bool
}

// ExecutionContext carries per-scheduler context into a task body.
type ExecutionContext struct {
	// SchedulerName is the name of the scheduler running this
	// execution, as written into PickedBy.
	SchedulerName string

	// State lets the task observe a shutdown in progress.
	State SchedulerState
}

// ExecuteFunc is a task body.  The context is canceled only when the
// scheduler's shutdown grace period expires; cooperative code should
// watch ec.State instead.  A non-nil error (or a panic) makes the
// terminal result Failed.
type ExecuteFunc func(ctx context.Context, e Execution, ec ExecutionContext) error

// ExecutionComplete describes a finished execution, as passed to a
// task's completion handler.
type ExecutionComplete struct {
	// Execution is the claimed execution that just ran.
	Execution Execution

	// Time is when the task body finished.
	Time time.Time

	// Result is the terminal result.
	Result ExecutionResult

	// Err is the cause when Result is Failed, if one was captured.
	Err error
}

// ExecutionOperations lets completion and dead-execution handlers
// decide the fate of one specific execution.  Both operations are
// conditional on the execution's version, so a handler working from a
// stale view has no effect on the row.
type ExecutionOperations interface {
	// Reschedule releases the execution back to free at nextTime.
	// Non-zero lastSuccess/lastFailure values replace the stored
	// outcome timestamps; zero values preserve them.
	Reschedule(nextTime, lastSuccess, lastFailure time.Time) error

	// Remove deletes the execution.
	Remove() error
}

// CompletionHandler decides what happens to an execution after its
// task body finishes: reschedule it, remove it, or anything else the
// ops handle allows.  If the handler returns an error or panics, the
// row is left claimed and dead-execution detection recovers it later;
// that is the designed recovery path.
type CompletionHandler func(complete ExecutionComplete, ops ExecutionOperations) error

// DeadExecutionHandler decides how to recover an execution whose
// owning scheduler has stopped heartbeating.  Typical policies
// reschedule with a backoff, or remove one-shot work.  Errors are
// logged and the execution reappears on a later detection tick.
type DeadExecutionHandler func(e Execution, now time.Time, ops ExecutionOperations) error

// StartupHandler runs synchronously when a scheduler starts, before
// any loop does.  It may schedule new executions through the client.
type StartupHandler func(c SchedulerClient, now time.Time) error

// Task binds a name to the handlers that define a kind of scheduled
// work.  Execute is required; OnComplete and OnDead default to
// CompleteRemove and DeadReschedule(time.Minute) when nil.  OnStartup
// is only invoked for tasks listed in the scheduler's start set.
type Task struct {
	Name       string
	Execute    ExecuteFunc
	OnComplete CompletionHandler
	OnDead     DeadExecutionHandler
	OnStartup  StartupHandler
}

// repositoryOperations is the standard ExecutionOperations bound to a
// repository row.
type repositoryOperations struct {
	repository ExecutionRepository
	execution  Execution
}

// OperationsFor returns the ops handle for one execution, backed by a
// repository.  The execution must carry the version the caller most
// recently observed.
func OperationsFor(r ExecutionRepository, e Execution) ExecutionOperations {
	return repositoryOperations{repository: r, execution: e}
}

func (ops repositoryOperations) Reschedule(nextTime, lastSuccess, lastFailure time.Time) error {
	return ops.repository.Reschedule(ops.execution, nextTime, lastSuccess, lastFailure)
}

func (ops repositoryOperations) Remove() error {
	return ops.repository.Remove(ops.execution)
}
