// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduletest

import (
	"sync"
	"testing"
	"time"

	"github.com/diffeo/go-schedule/schedule"
	"github.com/stretchr/testify/assert"
)

var baseTime = time.Date(2017, time.April, 1, 12, 0, 0, 0, time.UTC)

// TestCreateIsIdempotent checks that creating the same task instance
// twice inserts exactly one execution, keeping the winner's time.
func TestCreateIsIdempotent(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestCreateIsIdempotent"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)

	created, err := sts.Repository.CreateIfNotExists(schedule.Execution{
		TaskInstance:  sts.Instance("x"),
		ExecutionTime: baseTime.Add(time.Hour),
	})
	if assert.NoError(t, err) {
		assert.False(t, created)
	}

	due := sts.DueForTask(t, baseTime.Add(2*time.Hour))
	if assert.Len(t, due, 1) {
		assert.Equal(t, baseTime, due[0].ExecutionTime)
	}
}

// TestCreateConcurrent races concurrent creates of one task instance
// and checks that exactly one wins.
func TestCreateConcurrent(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestCreateConcurrent"}
	sts.SetUp(t)

	const callers = 8
	var (
		wg      sync.WaitGroup
		sem     sync.Mutex
		created int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			ok, err := sts.Repository.CreateIfNotExists(schedule.Execution{
				TaskInstance:  sts.Instance("shared"),
				ExecutionTime: baseTime.Add(time.Duration(n) * time.Minute),
			})
			assert.NoError(t, err)
			if ok {
				sem.Lock()
				created++
				sem.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	due := sts.DueForTask(t, baseTime.Add(time.Hour))
	assert.Len(t, due, 1)
}

// TestDueOrdering checks that due executions come back ascending by
// execution time, with ties broken by instance ID.
func TestDueOrdering(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestDueOrdering"}
	sts.SetUp(t)

	sts.Schedule(t, "late", baseTime.Add(2*time.Minute))
	sts.Schedule(t, "b-tied", baseTime)
	sts.Schedule(t, "a-tied", baseTime)
	sts.Schedule(t, "future", baseTime.Add(time.Hour))

	due := sts.DueForTask(t, baseTime.Add(5*time.Minute))
	if assert.Len(t, due, 3) {
		assert.Equal(t, "a-tied", due[0].TaskInstance.ID)
		assert.Equal(t, "b-tied", due[1].TaskInstance.ID)
		assert.Equal(t, "late", due[2].TaskInstance.ID)
	}
}

// TestDueExcludesPicked checks that a claimed execution disappears
// from the due scan even when its execution time has passed.
func TestDueExcludesPicked(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestDueExcludesPicked"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	sts.PickDue(t, baseTime)

	assert.Len(t, sts.DueForTask(t, baseTime.Add(time.Hour)), 0)
}

// TestPickLifecycle checks the fields Pick sets on a successful claim.
func TestPickLifecycle(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestPickLifecycle"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	due := sts.DueForTask(t, baseTime)
	if !assert.Len(t, due, 1) {
		return
	}
	assert.True(t, due[0].IsFree())
	assert.Empty(t, due[0].PickedBy)
	assert.True(t, due[0].LastHeartbeat.IsZero())

	picked, err := sts.Repository.Pick(due[0], baseTime)
	if assert.NoError(t, err) && assert.NotNil(t, picked) {
		assert.True(t, picked.Picked)
		assert.Equal(t, "scheduler-a", picked.PickedBy)
		assert.False(t, picked.LastHeartbeat.Before(baseTime))
		assert.Equal(t, due[0].Version+1, picked.Version)
	}
}

// TestPickContention lets two schedulers observe the same due
// execution; exactly one claim must succeed.
func TestPickContention(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestPickContention"}
	sts.SetUp(t)
	other := NewRepository("scheduler-b")

	sts.Schedule(t, "x", baseTime)
	due := sts.DueForTask(t, baseTime)
	if !assert.Len(t, due, 1) {
		return
	}

	won, err := sts.Repository.Pick(due[0], baseTime)
	if !assert.NoError(t, err) || !assert.NotNil(t, won) {
		return
	}
	lost, err := other.Pick(due[0], baseTime)
	if assert.NoError(t, err) {
		assert.Nil(t, lost)
	}

	assert.Equal(t, "scheduler-a", won.PickedBy)
}

// TestPickStaleVersion checks that a pick with an outdated version
// observation returns empty.
func TestPickStaleVersion(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestPickStaleVersion"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	stale := sts.DueForTask(t, baseTime)[0]

	// Pick and release, bumping the version twice.
	picked, err := sts.Repository.Pick(stale, baseTime)
	if !assert.NoError(t, err) || !assert.NotNil(t, picked) {
		return
	}
	err = sts.Repository.Reschedule(*picked, baseTime, time.Time{}, time.Time{})
	if !assert.NoError(t, err) {
		return
	}

	again, err := sts.Repository.Pick(stale, baseTime)
	if assert.NoError(t, err) {
		assert.Nil(t, again)
	}
}

// TestRescheduleRoundTrip walks the basic recurring lifecycle:
// schedule, claim, reschedule, observe due again at the new time.
func TestRescheduleRoundTrip(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestRescheduleRoundTrip"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)

	later := baseTime.Add(time.Hour)
	err := sts.Repository.Reschedule(*picked, later, baseTime, time.Time{})
	if !assert.NoError(t, err) {
		return
	}

	assert.Len(t, sts.DueForTask(t, baseTime), 0)
	due := sts.DueForTask(t, later)
	if assert.Len(t, due, 1) {
		released := due[0]
		assert.True(t, released.IsFree())
		assert.Empty(t, released.PickedBy)
		assert.True(t, released.LastHeartbeat.IsZero())
		assert.Equal(t, later, released.ExecutionTime)
		assert.Equal(t, baseTime, released.LastSuccess)
		assert.True(t, released.LastFailure.IsZero())
	}
}

// TestReschedulePreservesOutcomes checks that zero outcome arguments
// preserve previously stored timestamps.
func TestReschedulePreservesOutcomes(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestReschedulePreservesOutcomes"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)
	err := sts.Repository.Reschedule(*picked, baseTime, baseTime, time.Time{})
	if !assert.NoError(t, err) {
		return
	}

	picked = sts.PickDue(t, baseTime)
	failedAt := baseTime.Add(time.Minute)
	err = sts.Repository.Reschedule(*picked, baseTime, time.Time{}, failedAt)
	if !assert.NoError(t, err) {
		return
	}

	due := sts.DueForTask(t, baseTime)
	if assert.Len(t, due, 1) {
		assert.Equal(t, baseTime, due[0].LastSuccess)
		assert.Equal(t, failedAt, due[0].LastFailure)
	}
}

// TestRescheduleStale checks that an execution handed back with an
// outdated version has no effect: a recurring task must not
// double-schedule.
func TestRescheduleStale(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestRescheduleStale"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)

	err := sts.Repository.Reschedule(*picked, baseTime.Add(time.Hour), baseTime, time.Time{})
	if !assert.NoError(t, err) {
		return
	}

	// Replaying the same completion must fail and change nothing.
	err = sts.Repository.Reschedule(*picked, baseTime.Add(2*time.Hour), baseTime, time.Time{})
	assert.Exactly(t, schedule.ErrStaleExecution, err)

	due := sts.DueForTask(t, baseTime.Add(3*time.Hour))
	if assert.Len(t, due, 1) {
		assert.Equal(t, baseTime.Add(time.Hour), due[0].ExecutionTime)
	}
}

// TestRemove checks deletion of a claimed execution, and that a stale
// remove afterwards reports the row gone.
func TestRemove(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestRemove"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)

	err := sts.Repository.Remove(*picked)
	assert.NoError(t, err)
	assert.Len(t, sts.DueForTask(t, baseTime), 0)

	err = sts.Repository.Remove(*picked)
	assert.Exactly(t, schedule.ErrExecutionGone, err)
}

// TestRemoveStale checks that removing with an outdated version has
// no effect on the row.
func TestRemoveStale(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestRemoveStale"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)
	err := sts.Repository.Reschedule(*picked, baseTime.Add(time.Hour), time.Time{}, time.Time{})
	if !assert.NoError(t, err) {
		return
	}

	err = sts.Repository.Remove(*picked)
	assert.Exactly(t, schedule.ErrStaleExecution, err)
	due := sts.DueForTask(t, baseTime.Add(time.Hour))
	assert.Len(t, due, 1)
}

// TestOldExecutions checks dead-candidate scanning: a claimed
// execution appears once its heartbeat is old enough, and a heartbeat
// refresh takes it back out.
func TestOldExecutions(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestOldExecutions"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)

	// Not old yet: the threshold is before the pick heartbeat.
	assert.Len(t, sts.OldForTask(t, baseTime.Add(-time.Second)), 0)

	// Old: the threshold has passed the heartbeat.
	old := sts.OldForTask(t, baseTime.Add(20*time.Minute))
	if assert.Len(t, old, 1) {
		assert.Equal(t, picked.TaskInstance, old[0].TaskInstance)
		assert.Equal(t, "scheduler-a", old[0].PickedBy)
	}

	// A heartbeat refresh rescues it.
	err := sts.Repository.UpdateHeartbeat(*picked, baseTime.Add(21*time.Minute))
	if assert.NoError(t, err) {
		assert.Len(t, sts.OldForTask(t, baseTime.Add(20*time.Minute)), 0)
	}
}

// TestOldExecutionsAnyOwner checks that dead scanning sees claims
// regardless of which scheduler owns them.
func TestOldExecutionsAnyOwner(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestOldExecutionsAnyOwner"}
	sts.SetUp(t)
	other := NewRepository("scheduler-b")

	sts.Schedule(t, "x", baseTime)
	due := sts.DueForTask(t, baseTime)
	if !assert.Len(t, due, 1) {
		return
	}
	picked, err := other.Pick(due[0], baseTime)
	if !assert.NoError(t, err) || !assert.NotNil(t, picked) {
		return
	}

	old := sts.OldForTask(t, baseTime.Add(20*time.Minute))
	if assert.Len(t, old, 1) {
		assert.Equal(t, "scheduler-b", old[0].PickedBy)
	}
}

// TestDeadRecovery walks the recovery path: the current version from
// a dead scan is enough to reschedule somebody else's claim.
func TestDeadRecovery(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestDeadRecovery"}
	sts.SetUp(t)
	other := NewRepository("scheduler-b")

	sts.Schedule(t, "x", baseTime)
	due := sts.DueForTask(t, baseTime)
	if !assert.Len(t, due, 1) {
		return
	}
	_, err := other.Pick(due[0], baseTime)
	if !assert.NoError(t, err) {
		return
	}

	now := baseTime.Add(20 * time.Minute)
	old := sts.OldForTask(t, now)
	if !assert.Len(t, old, 1) {
		return
	}
	revived := now.Add(time.Minute)
	err = schedule.OperationsFor(sts.Repository, old[0]).Reschedule(revived, time.Time{}, now)
	if !assert.NoError(t, err) {
		return
	}

	due = sts.DueForTask(t, revived)
	if assert.Len(t, due, 1) {
		assert.True(t, due[0].IsFree())
		assert.Equal(t, revived, due[0].ExecutionTime)
		assert.Equal(t, now, due[0].LastFailure)
	}
}

// TestUpdateHeartbeatStale checks that a heartbeat against a released
// row silently does nothing.
func TestUpdateHeartbeatStale(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestUpdateHeartbeatStale"}
	sts.SetUp(t)

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)
	err := sts.Repository.Reschedule(*picked, baseTime.Add(time.Hour), time.Time{}, time.Time{})
	if !assert.NoError(t, err) {
		return
	}

	err = sts.Repository.UpdateHeartbeat(*picked, baseTime.Add(2*time.Hour))
	assert.NoError(t, err)

	due := sts.DueForTask(t, baseTime.Add(time.Hour))
	if assert.Len(t, due, 1) {
		assert.True(t, due[0].LastHeartbeat.IsZero())
	}
}

// TestScheduledExecutions checks the full listing, claimed and free.
func TestScheduledExecutions(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestScheduledExecutions"}
	sts.SetUp(t)

	sts.Schedule(t, "a", baseTime)
	sts.Schedule(t, "b", baseTime.Add(time.Hour))
	due := sts.DueForTask(t, baseTime)
	if assert.Len(t, due, 1) {
		_, err := sts.Repository.Pick(due[0], baseTime)
		assert.NoError(t, err)
	}

	all, err := sts.Repository.ScheduledExecutions()
	if !assert.NoError(t, err) {
		return
	}
	mine := filterTask(all, sts.TaskName)
	if assert.Len(t, mine, 2) {
		assert.Equal(t, "a", mine[0].TaskInstance.ID)
		assert.True(t, mine[0].Picked)
		assert.Equal(t, "b", mine[1].TaskInstance.ID)
		assert.True(t, mine[1].IsFree())
	}
}

// TestFailingExecutions checks the informational failure listing on
// backends that keep failure history.
func TestFailingExecutions(t *testing.T) {
	sts := SimpleTestSetup{TaskName: "TestFailingExecutions"}
	sts.SetUp(t)
	if !HasFailureHistory {
		t.Skip("backend does not track failure history")
	}

	sts.Schedule(t, "x", baseTime)
	picked := sts.PickDue(t, baseTime)
	err := sts.Repository.Reschedule(*picked, baseTime.Add(time.Hour), time.Time{}, baseTime)
	if !assert.NoError(t, err) {
		return
	}

	failing, err := sts.Repository.FailingExecutions(0)
	if assert.NoError(t, err) {
		assert.NotEmpty(t, filterTask(failing, sts.TaskName))
	}
}
