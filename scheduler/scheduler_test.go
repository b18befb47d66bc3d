// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-schedule/memory"
	"github.com/diffeo/go-schedule/schedule"
	"github.com/stretchr/testify/assert"
)

// Suite bundles the common test fixture: a mock clock, a shared
// in-memory store, and one bootstrapped scheduler that tests drive by
// calling loop ticks directly.
type Suite struct {
	Clock     *clock.Mock
	Store     *memory.Store
	Scheduler *Scheduler
}

func (s *Suite) SetUpTest(t *testing.T, tasks []schedule.Task) {
	s.Clock = clock.NewMock()
	s.Store = memory.NewStore()
	s.Scheduler = &Scheduler{
		Repository:        s.Store.Repository("sched-under-test"),
		Tasks:             tasks,
		Name:              "sched-under-test",
		HeartbeatInterval: time.Minute,
		Clock:             s.Clock,
	}
	if !assert.NoError(t, s.Scheduler.bootstrap()) {
		t.FailNow()
	}
}

// Schedule seeds one execution directly through the store.
func (s *Suite) Schedule(t *testing.T, taskName, id string, at time.Time) {
	created, err := s.Scheduler.Repository.CreateIfNotExists(schedule.Execution{
		TaskInstance:  schedule.TaskInstance{TaskName: taskName, ID: id},
		ExecutionTime: at,
	})
	if assert.NoError(t, err) {
		assert.True(t, created)
	}
}

// WaitForWorkers joins all in-flight worker goroutines, using real
// time so the mock clock stays untouched.
func (s *Suite) WaitForWorkers(t *testing.T) {
	if !s.Scheduler.pool.WaitIdle(clock.New(), 5*time.Second) {
		t.Fatal("worker pool did not drain")
	}
}

// All returns every execution in the store.
func (s *Suite) All(t *testing.T) []schedule.Execution {
	all, err := s.Scheduler.Repository.ScheduledExecutions()
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return all
}

// countingTask runs a counter increment on every execution.
func countingTask(name string, count *int32) schedule.Task {
	return schedule.Task{
		Name: name,
		Execute: func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
			atomic.AddInt32(count, 1)
			return nil
		},
	}
}

// gatedTask blocks each execution until release is closed.
func gatedTask(name string, count *int32, release chan struct{}) schedule.Task {
	return schedule.Task{
		Name: name,
		Execute: func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
			<-release
			atomic.AddInt32(count, 1)
			return nil
		},
	}
}

func TestSingleDueExecution(t *testing.T) {
	var s Suite
	var count int32
	s.SetUpTest(t, []schedule.Task{countingTask("x", &count)})

	s.Schedule(t, "x", "1", s.Clock.Now())

	err := s.Scheduler.pollDue()
	assert.NoError(t, err)
	s.WaitForWorkers(t)

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
	// The default completion policy removed the one-shot row.
	assert.Len(t, s.All(t), 0)
}

func TestDueExecutionNotYet(t *testing.T) {
	var s Suite
	var count int32
	s.SetUpTest(t, []schedule.Task{countingTask("x", &count)})

	s.Schedule(t, "x", "1", s.Clock.Now().Add(time.Hour))

	err := s.Scheduler.pollDue()
	assert.NoError(t, err)
	s.WaitForWorkers(t)

	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
	assert.Len(t, s.All(t), 1)
}

func TestTwoSchedulersOneExecution(t *testing.T) {
	var s Suite
	var count int32
	s.SetUpTest(t, []schedule.Task{countingTask("y", &count)})

	peer := &Scheduler{
		Repository:        s.Store.Repository("peer"),
		Tasks:             []schedule.Task{countingTask("y", &count)},
		Name:              "peer",
		HeartbeatInterval: time.Minute,
		Clock:             s.Clock,
	}
	if !assert.NoError(t, peer.bootstrap()) {
		return
	}

	s.Schedule(t, "y", "1", s.Clock.Now())

	assert.NoError(t, s.Scheduler.pollDue())
	assert.NoError(t, peer.pollDue())
	s.WaitForWorkers(t)
	if !peer.pool.WaitIdle(clock.New(), 5*time.Second) {
		t.Fatal("peer worker pool did not drain")
	}

	// Exactly one of the two schedulers ran the task body.
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestSlotExhaustion(t *testing.T) {
	var s Suite
	var count int32
	release := make(chan struct{})
	s.SetUpTest(t, []schedule.Task{gatedTask("job", &count, release)})
	s.Scheduler.ExecutorThreads = 1
	if !assert.NoError(t, s.Scheduler.bootstrap()) {
		return
	}

	now := s.Clock.Now()
	s.Schedule(t, "job", "a", now.Add(-2*time.Second))
	s.Schedule(t, "job", "b", now.Add(-time.Second))

	// One tick with one slot: only the earlier execution is
	// claimed.
	err := s.Scheduler.pollDue()
	assert.NoError(t, err)

	all := s.All(t)
	if assert.Len(t, all, 2) {
		assert.Equal(t, "a", all[0].TaskInstance.ID)
		assert.True(t, all[0].Picked)
		assert.Equal(t, "b", all[1].TaskInstance.ID)
		assert.True(t, all[1].IsFree())
	}

	close(release)
	s.WaitForWorkers(t)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	// A second tick picks up the remaining execution.
	err = s.Scheduler.pollDue()
	assert.NoError(t, err)
	s.WaitForWorkers(t)
	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
	assert.Len(t, s.All(t), 0)
}

func TestSkipScanWhenSaturated(t *testing.T) {
	var s Suite
	var count int32
	release := make(chan struct{})
	s.SetUpTest(t, []schedule.Task{gatedTask("job", &count, release)})
	s.Scheduler.ExecutorThreads = 1
	if !assert.NoError(t, s.Scheduler.bootstrap()) {
		return
	}

	s.Schedule(t, "job", "a", s.Clock.Now())
	assert.NoError(t, s.Scheduler.pollDue())

	// The pool is saturated; another tick must not touch the
	// store at all.
	s.Schedule(t, "job", "b", s.Clock.Now())
	assert.NoError(t, s.Scheduler.pollDue())
	all := s.All(t)
	if assert.Len(t, all, 2) {
		assert.True(t, all[1].IsFree())
	}

	close(release)
	s.WaitForWorkers(t)
}

func TestHeartbeat(t *testing.T) {
	var s Suite
	var count int32
	release := make(chan struct{})
	s.SetUpTest(t, []schedule.Task{gatedTask("job", &count, release)})

	s.Schedule(t, "job", "1", s.Clock.Now())
	assert.NoError(t, s.Scheduler.pollDue())

	picked := s.All(t)[0]
	assert.Equal(t, s.Clock.Now(), picked.LastHeartbeat)

	s.Clock.Add(time.Minute)
	assert.NoError(t, s.Scheduler.updateHeartbeats())

	refreshed := s.All(t)[0]
	assert.Equal(t, s.Clock.Now(), refreshed.LastHeartbeat)
	assert.Equal(t, int32(1), s.heartbeatCandidates(t))

	close(release)
	s.WaitForWorkers(t)
}

// heartbeatCandidates counts the currently-executing snapshot.
func (s *Suite) heartbeatCandidates(t *testing.T) int32 {
	return int32(len(s.Scheduler.executing.Snapshot()))
}

func TestDeadRecovery(t *testing.T) {
	var s Suite
	var count int32
	recovered := make(chan schedule.TaskInstance, 1)
	task := countingTask("z", &count)
	task.OnDead = func(e schedule.Execution, now time.Time, ops schedule.ExecutionOperations) error {
		recovered <- e.TaskInstance
		return ops.Reschedule(now.Add(time.Minute), time.Time{}, now)
	}
	s.SetUpTest(t, []schedule.Task{task})

	// A peer claims the execution and then dies without ever
	// heartbeating again.
	deadPeer := s.Store.Repository("dead-peer")
	s.Schedule(t, "z", "1", s.Clock.Now())
	due, err := deadPeer.DueExecutions(s.Clock.Now())
	if !assert.NoError(t, err) || !assert.Len(t, due, 1) {
		return
	}
	_, err = deadPeer.Pick(due[0], s.Clock.Now())
	if !assert.NoError(t, err) {
		return
	}

	// One heartbeat interval short of the threshold: not dead yet.
	s.Clock.Add(3 * time.Minute)
	assert.NoError(t, s.Scheduler.detectDead())
	assert.Len(t, recovered, 0)

	// At the threshold of four heartbeat intervals: recovered.
	s.Clock.Add(time.Minute)
	assert.NoError(t, s.Scheduler.detectDead())
	if assert.Len(t, recovered, 1) {
		assert.Equal(t, schedule.TaskInstance{TaskName: "z", ID: "1"}, <-recovered)
	}

	all := s.All(t)
	if assert.Len(t, all, 1) {
		assert.True(t, all[0].IsFree())
		assert.Equal(t, s.Clock.Now().Add(time.Minute), all[0].ExecutionTime)
		assert.Equal(t, s.Clock.Now(), all[0].LastFailure)
	}
}

func TestCompletionHandlerFailure(t *testing.T) {
	var s Suite
	var count int32
	recovered := make(chan schedule.TaskInstance, 1)
	task := countingTask("flaky", &count)
	task.OnComplete = func(complete schedule.ExecutionComplete, ops schedule.ExecutionOperations) error {
		return errors.New("completion handler broke")
	}
	task.OnDead = func(e schedule.Execution, now time.Time, ops schedule.ExecutionOperations) error {
		recovered <- e.TaskInstance
		return ops.Reschedule(now.Add(time.Minute), time.Time{}, now)
	}
	s.SetUpTest(t, []schedule.Task{task})

	s.Schedule(t, "flaky", "1", s.Clock.Now())
	assert.NoError(t, s.Scheduler.pollDue())
	s.WaitForWorkers(t)

	// The task body ran, but the failed completion handler left
	// the row claimed.
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
	all := s.All(t)
	if assert.Len(t, all, 1) {
		assert.True(t, all[0].Picked)
	}

	// Dead detection is the designed recovery path.
	s.Clock.Add(4 * time.Minute)
	assert.NoError(t, s.Scheduler.detectDead())
	assert.Len(t, recovered, 1)
	all = s.All(t)
	if assert.Len(t, all, 1) {
		assert.True(t, all[0].IsFree())
	}
}

func TestFailedExecutionStillCompletes(t *testing.T) {
	var s Suite
	results := make(chan schedule.ExecutionResult, 1)
	task := schedule.Task{
		Name: "boom",
		Execute: func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
			panic("task body exploded")
		},
		OnComplete: func(complete schedule.ExecutionComplete, ops schedule.ExecutionOperations) error {
			results <- complete.Result
			return ops.Remove()
		},
	}
	s.SetUpTest(t, []schedule.Task{task})

	s.Schedule(t, "boom", "1", s.Clock.Now())
	assert.NoError(t, s.Scheduler.pollDue())
	s.WaitForWorkers(t)

	// The panic became a Failed result; the completion handler
	// still ran and removed the row; the scheduler survived.
	if assert.Len(t, results, 1) {
		assert.Equal(t, schedule.Failed, <-results)
	}
	assert.Len(t, s.All(t), 0)
}

func TestUnknownTaskSkipped(t *testing.T) {
	var s Suite
	var count int32
	s.SetUpTest(t, []schedule.Task{countingTask("known", &count)})

	s.Schedule(t, "forgotten", "1", s.Clock.Now())
	s.Schedule(t, "known", "1", s.Clock.Now())

	assert.NoError(t, s.Scheduler.pollDue())
	s.WaitForWorkers(t)

	// The known task ran; the unknown row is untouched.
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
	all := s.All(t)
	if assert.Len(t, all, 1) {
		assert.Equal(t, "forgotten", all[0].TaskInstance.TaskName)
		assert.True(t, all[0].IsFree())
	}
}

func TestUnknownTaskFailPolicy(t *testing.T) {
	var s Suite
	var count int32
	s.SetUpTest(t, []schedule.Task{countingTask("known", &count)})
	s.Scheduler.UnknownTaskPolicy = schedule.Fail

	s.Schedule(t, "forgotten", "1", s.Clock.Now())
	err := s.Scheduler.pollDue()
	assert.Equal(t, schedule.ErrUnknownTask{Name: "forgotten"}, err)
}

func TestIdempotentClientSchedule(t *testing.T) {
	var s Suite
	var count int32
	s.SetUpTest(t, []schedule.Task{countingTask("x", &count)})

	client := s.Scheduler.Client()
	instance := schedule.TaskInstance{TaskName: "x", ID: "1"}
	created, err := client.Schedule(instance, s.Clock.Now())
	if assert.NoError(t, err) {
		assert.True(t, created)
	}
	created, err = client.Schedule(instance, s.Clock.Now().Add(time.Hour))
	if assert.NoError(t, err) {
		assert.False(t, created)
	}
	assert.Len(t, s.All(t), 1)
}

func TestStartTasksSeedExecutions(t *testing.T) {
	var s Suite
	var count int32
	task := countingTask("report", &count)
	task.OnComplete = schedule.CompleteReschedule(schedule.FixedDelay(time.Hour))
	task.OnStartup = schedule.RecurringTask("report", schedule.FixedDelay(time.Hour), nil).OnStartup
	s.SetUpTest(t, []schedule.Task{task})
	s.Scheduler.StartTasks = []string{"report"}

	s.Scheduler.runStartTasks()

	all := s.All(t)
	if assert.Len(t, all, 1) {
		assert.Equal(t, schedule.TaskInstance{TaskName: "report", ID: schedule.RecurringInstanceID},
			all[0].TaskInstance)
		assert.Equal(t, s.Clock.Now().Add(time.Hour), all[0].ExecutionTime)
	}
}

func TestStartStop(t *testing.T) {
	store := memory.NewStore()
	var count int32
	sched := &Scheduler{
		Repository: store.Repository("lifecycle"),
		Tasks:      []schedule.Task{countingTask("x", &count)},
		Name:       "lifecycle",
	}

	err := sched.Start()
	if !assert.NoError(t, err) {
		return
	}
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.IsShuttingDown())

	sched.Stop()
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.IsShuttingDown())
	assert.Len(t, sched.executing.Snapshot(), 0)
}

func TestStartWithoutRepository(t *testing.T) {
	sched := &Scheduler{Tasks: []schedule.Task{{Name: "x", Execute: schedule.NopExecute}}}
	err := sched.Start()
	assert.Exactly(t, ErrNoRepository, err)
}

func TestRecurringRoundTrip(t *testing.T) {
	var s Suite
	var count int32
	task := schedule.RecurringTask("tick", schedule.FixedDelay(time.Minute),
		func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	s.SetUpTest(t, []schedule.Task{task})
	s.Scheduler.StartTasks = []string{"tick"}

	s.Scheduler.runStartTasks()

	// Not due until a minute has passed.
	assert.NoError(t, s.Scheduler.pollDue())
	s.WaitForWorkers(t)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))

	s.Clock.Add(time.Minute)
	assert.NoError(t, s.Scheduler.pollDue())
	s.WaitForWorkers(t)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	// The completion handler put it back on the schedule, free and
	// stamped successful.
	all := s.All(t)
	if assert.Len(t, all, 1) {
		assert.True(t, all[0].IsFree())
		assert.Equal(t, s.Clock.Now().Add(time.Minute), all[0].ExecutionTime)
		assert.Equal(t, s.Clock.Now(), all[0].LastSuccess)
	}
}
