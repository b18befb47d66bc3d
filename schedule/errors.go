// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package schedule

import (
	"errors"
	"fmt"
)

// ErrStaleExecution is returned from ExecutionRepository.Reschedule()
// and Remove() when the execution's version no longer matches the
// stored row.  Some other scheduler completed, rescheduled, or
// recovered this execution first.
var ErrStaleExecution = errors.New("Execution version does not match stored row")

// ErrExecutionGone is returned from repository operations that refer
// to an execution whose row no longer exists.
var ErrExecutionGone = errors.New("Execution no longer exists")

// ErrNoExecuteFunc is returned from NewRegistry() if a task has no
// Execute function.
var ErrNoExecuteFunc = errors.New("Task has no Execute function")

// ErrNoTaskName is returned from NewRegistry() if a task has an empty
// name.
var ErrNoTaskName = errors.New("Task has no name")

// ErrDuplicateTask is returned from NewRegistry() if two tasks share
// a name.
type ErrDuplicateTask struct {
	Name string
}

func (err ErrDuplicateTask) Error() string {
	return fmt.Sprintf("Task %q registered twice", err.Name)
}

// ErrUnknownTask is returned under the Fail registry policy when a
// stored execution names a task that is not registered.
type ErrUnknownTask struct {
	Name string
}

func (err ErrUnknownTask) Error() string {
	return fmt.Sprintf("No such task %q", err.Name)
}
