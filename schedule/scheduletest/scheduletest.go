// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package scheduletest provides generic functional tests for the
// ExecutionRepository interface.  A typical backend test module sets
// the NewRepository hook in an init function and then calls the
// package-level test functions from plain wrappers:
//
//     package mybackend_test
//
//     import "testing"
//     import "github.com/diffeo/go-schedule/schedule/scheduletest"
//
//     func init() {
//         scheduletest.NewRepository = ...
//     }
//
//     func TestPickContention(t *testing.T) {
//         scheduletest.TestPickContention(t)
//     }
//
// Tests isolate themselves by task name, one per test, and clear any
// leftover executions for that task during setup, so a shared durable
// backend can run the suite repeatedly.
package scheduletest

import (
	"testing"
	"time"

	"github.com/diffeo/go-schedule/schedule"
	"github.com/stretchr/testify/assert"
)

// NewRepository builds a repository view of the backend under test
// for one named scheduler.  Views for different names must share the
// same backing store.  Backend test modules must set this before any
// test runs.
var NewRepository func(schedulerName string) schedule.ExecutionRepository

// HasFailureHistory states whether the backend under test implements
// FailingExecutions.  The in-memory backend does not.
var HasFailureHistory bool

// SimpleTestSetup encapsulates the common setup code for repository
// tests: a repository view and a per-test task name whose leftover
// executions are cleared.
type SimpleTestSetup struct {
	// TaskName is the task name this test owns.  Required.
	TaskName string

	// SchedulerName is the claim-owner name for Repository.  If
	// empty, "scheduler-a" is used.
	SchedulerName string

	// Repository is the repository view, set up by SetUp().
	Repository schedule.ExecutionRepository
}

// SetUp initializes the repository and removes any executions left
// over from a previous run of this test.
func (sts *SimpleTestSetup) SetUp(t *testing.T) {
	if sts.SchedulerName == "" {
		sts.SchedulerName = "scheduler-a"
	}
	sts.Repository = NewRepository(sts.SchedulerName)

	all, err := sts.Repository.ScheduledExecutions()
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	for _, e := range all {
		if e.TaskInstance.TaskName == sts.TaskName {
			err = sts.Repository.Remove(e)
			assert.NoError(t, err)
		}
	}
}

// Instance builds a task instance within this test's task name.
func (sts *SimpleTestSetup) Instance(id string) schedule.TaskInstance {
	return schedule.TaskInstance{TaskName: sts.TaskName, ID: id}
}

// Schedule creates an execution for id at executionTime and asserts
// that it was created.
func (sts *SimpleTestSetup) Schedule(t *testing.T, id string, executionTime time.Time) {
	created, err := sts.Repository.CreateIfNotExists(schedule.Execution{
		TaskInstance:  sts.Instance(id),
		ExecutionTime: executionTime,
	})
	if assert.NoError(t, err) {
		assert.True(t, created, "execution %v already existed", id)
	}
}

// PickDue runs a due scan at now and picks the single due execution
// for this test's task, asserting each step.
func (sts *SimpleTestSetup) PickDue(t *testing.T, now time.Time) *schedule.Execution {
	due := sts.DueForTask(t, now)
	if !assert.Len(t, due, 1) {
		t.FailNow()
	}
	picked, err := sts.Repository.Pick(due[0], now)
	if !assert.NoError(t, err) || !assert.NotNil(t, picked) {
		t.FailNow()
	}
	return picked
}

// DueForTask returns the due executions belonging to this test's task.
func (sts *SimpleTestSetup) DueForTask(t *testing.T, now time.Time) []schedule.Execution {
	due, err := sts.Repository.DueExecutions(now)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return filterTask(due, sts.TaskName)
}

// OldForTask returns the dead-execution candidates belonging to this
// test's task.
func (sts *SimpleTestSetup) OldForTask(t *testing.T, olderThan time.Time) []schedule.Execution {
	old, err := sts.Repository.OldExecutions(olderThan)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return filterTask(old, sts.TaskName)
}

// filterTask keeps only executions with the given task name.  A
// shared backend may hold rows from other tests' tasks.
func filterTask(executions []schedule.Execution, taskName string) []schedule.Execution {
	var mine []schedule.Execution
	for _, e := range executions {
		if e.TaskInstance.TaskName == taskName {
			mine = append(mine, e)
		}
	}
	return mine
}
