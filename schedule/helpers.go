// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package schedule

import (
	"context"
	"time"
)

// This file contains stock completion and dead-execution policies,
// and constructors for the two common task shapes built from them.

// CompleteRemove deletes the execution whatever its result.  This is
// the policy for one-shot work with no retry.
func CompleteRemove() CompletionHandler {
	return func(complete ExecutionComplete, ops ExecutionOperations) error {
		return ops.Remove()
	}
}

// CompleteReschedule puts the execution back on its schedule after
// every run, stamping LastSuccess or LastFailure as appropriate.  This
// is the policy for recurring work.
func CompleteReschedule(s Schedule) CompletionHandler {
	return func(complete ExecutionComplete, ops ExecutionOperations) error {
		next := s.Next(complete.Time)
		if complete.Result == OK {
			return ops.Reschedule(next, complete.Time, time.Time{})
		}
		return ops.Reschedule(next, time.Time{}, complete.Time)
	}
}

// CompleteRemoveOrRetry removes the execution on success, and retries
// it after retryDelay on failure.
func CompleteRemoveOrRetry(retryDelay time.Duration) CompletionHandler {
	return func(complete ExecutionComplete, ops ExecutionOperations) error {
		if complete.Result == OK {
			return ops.Remove()
		}
		return ops.Reschedule(complete.Time.Add(retryDelay), time.Time{}, complete.Time)
	}
}

// DeadReschedule revives a dead execution by releasing it to run again
// after delay, recording the death as a failure.
func DeadReschedule(delay time.Duration) DeadExecutionHandler {
	return func(e Execution, now time.Time, ops ExecutionOperations) error {
		return ops.Reschedule(now.Add(delay), time.Time{}, now)
	}
}

// DeadRemove drops a dead execution entirely.
func DeadRemove() DeadExecutionHandler {
	return func(e Execution, now time.Time, ops ExecutionOperations) error {
		return ops.Remove()
	}
}

// RecurringInstanceID is the instance ID RecurringTask uses for its
// single execution.
const RecurringInstanceID = "recurring"

// RecurringTask builds a task that maintains one execution, rescheduled
// on s after every run.  Listing the task in a scheduler's start set
// makes it schedule itself; the first execution is created at startup
// if it does not already exist.  A dead execution is revived a minute
// after detection.
func RecurringTask(name string, s Schedule, run ExecuteFunc) Task {
	return Task{
		Name:       name,
		Execute:    run,
		OnComplete: CompleteReschedule(s),
		OnDead:     DeadReschedule(time.Minute),
		OnStartup: func(c SchedulerClient, now time.Time) error {
			instance := TaskInstance{TaskName: name, ID: RecurringInstanceID}
			_, err := c.Schedule(instance, s.Next(now))
			return err
		},
	}
}

// OneTimeTask builds a task whose executions are scheduled ad hoc
// (typically with UUID instance IDs), removed on success, and retried
// after retryDelay on failure or death.
func OneTimeTask(name string, retryDelay time.Duration, run ExecuteFunc) Task {
	return Task{
		Name:       name,
		Execute:    run,
		OnComplete: CompleteRemoveOrRetry(retryDelay),
		OnDead:     DeadReschedule(retryDelay),
	}
}

// NopExecute is an ExecuteFunc that does nothing and succeeds.  It is
// mostly useful in tests and benchmarks.
func NopExecute(ctx context.Context, e Execution, ec ExecutionContext) error {
	return nil
}
