// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import (
	"fmt"

	"github.com/diffeo/go-schedule/schedule"
	"github.com/sirupsen/logrus"
)

// This file contains the three control loops and the worker body.
// Each loop is one long-running goroutine alternating a tick function
// with an interruptible sleep.  Tick errors are logged and counted;
// the loop always continues.  Nothing here ever terminates the
// scheduler.

// runLoop alternates tick and sleep until shutdown.  The first tick
// runs immediately, so freshly seeded work does not wait out a full
// polling interval.
func (s *Scheduler) runLoop(name string, w *waiter, tick func() error) {
	defer s.loops.Done()
	for {
		if s.shuttingDown.Load() {
			return
		}
		err := s.guard(tick)
		if err != nil {
			s.UnexpectedErrors.Inc()
			s.Log.WithField("loop", name).WithError(err).Error("scheduler loop iteration failed")
		}
		if s.shuttingDown.Load() {
			return
		}
		w.Wait()
	}
}

// guard runs f, converting a panic into an error so no loop and no
// callback can take the scheduler down.
func (s *Scheduler) guard(f func() error) (err error) {
	defer func() {
		if oops := recover(); oops != nil {
			err = fmt.Errorf("panic: %v", oops)
		}
	}()
	return f()
}

// lookupTask resolves a stored execution's task name, applying the
// unknown-task policy.  Under WarnAndSkip an unknown name logs once
// and the execution is excluded from the scan.
func (s *Scheduler) lookupTask(name string) (schedule.Task, bool, error) {
	task, present := s.registry.Task(name)
	if present {
		return task, true, nil
	}
	if s.UnknownTaskPolicy == schedule.Fail {
		return schedule.Task{}, false, schedule.ErrUnknownTask{Name: name}
	}
	s.warnedSem.Lock()
	warned := s.warnedTasks[name]
	s.warnedTasks[name] = true
	s.warnedSem.Unlock()
	if !warned {
		s.Log.WithField("task", name).Warn("store has executions for an unregistered task; skipping them")
	}
	return schedule.Task{}, false, nil
}

// pollDue is one due-polling tick: scan for due executions and claim
// and dispatch as many as there are free worker slots.
func (s *Scheduler) pollDue() error {
	// No free slot means nothing claimed could run; skip the scan
	// entirely and leave the work to peers or a later tick.
	if s.pool.FreeSlots() == 0 {
		return nil
	}

	now := s.Clock.Now()
	due, err := s.Repository.DueExecutions(now)
	if err != nil {
		return err
	}

	for _, e := range due {
		if s.shuttingDown.Load() {
			return nil
		}
		task, known, err := s.lookupTask(e.TaskInstance.TaskName)
		if err != nil {
			return err
		}
		if !known {
			continue
		}

		// The slot is taken before the claim; if the claim does
		// not end in a running worker, the slot comes back on
		// that same path.
		if !s.pool.TryAcquire() {
			return nil
		}
		pickedAt := s.Clock.Now()
		picked, err := s.Repository.Pick(e, pickedAt)
		if err != nil {
			s.pool.Release()
			return err
		}
		if picked == nil {
			// Another scheduler claimed it first.
			s.pool.Release()
			continue
		}

		execution := *picked
		s.executing.Add(execution, pickedAt)
		s.pool.Execute(func() {
			s.runExecution(task, execution)
		})
	}
	return nil
}

// runExecution is the worker body: run the user code, then let the
// task's completion handler decide the execution's fate.
func (s *Scheduler) runExecution(task schedule.Task, e schedule.Execution) {
	defer s.pool.Release()
	defer s.executing.Remove(e.TaskInstance)

	log := s.Log.WithFields(logrus.Fields{
		"task":     e.TaskInstance.TaskName,
		"instance": e.TaskInstance.ID,
	})

	result := schedule.OK
	err := s.guard(func() error {
		return task.Execute(s.taskCtx, e, schedule.ExecutionContext{
			SchedulerName: s.Name,
			State:         s,
		})
	})
	if err != nil {
		result = schedule.Failed
		s.UnexpectedErrors.Inc()
		log.WithError(err).Error("execution failed")
	}

	complete := schedule.ExecutionComplete{
		Execution: e,
		Time:      s.Clock.Now(),
		Result:    result,
		Err:       err,
	}
	ops := schedule.OperationsFor(s.Repository, e)
	err = s.guard(func() error {
		return task.OnComplete(complete, ops)
	})
	if err != nil {
		// The execution stays claimed; dead detection will hand
		// it to the task's recovery handler once the heartbeat
		// lapses.
		s.UnexpectedErrors.Inc()
		log.WithError(err).Error("completion handler failed; leaving execution for dead detection")
	}
}

// detectDead is one dead-detection tick: find claims whose heartbeat
// has lapsed, whoever owns them, and let each task's recovery handler
// decide what to do.
func (s *Scheduler) detectDead() error {
	now := s.Clock.Now()
	old, err := s.Repository.OldExecutions(now.Add(-s.deadThreshold()))
	if err != nil {
		return err
	}

	for _, e := range old {
		if s.shuttingDown.Load() {
			return nil
		}
		task, known, err := s.lookupTask(e.TaskInstance.TaskName)
		if err != nil {
			return err
		}
		if !known {
			continue
		}

		log := s.Log.WithFields(logrus.Fields{
			"task":      e.TaskInstance.TaskName,
			"instance":  e.TaskInstance.ID,
			"picked_by": e.PickedBy,
			"heartbeat": e.LastHeartbeat,
		})
		log.Info("recovering dead execution")
		err = s.guard(func() error {
			return task.OnDead(e, now, schedule.OperationsFor(s.Repository, e))
		})
		if err != nil {
			// The row is untouched and will show up again on
			// a later tick.
			s.UnexpectedErrors.Inc()
			log.WithError(err).Error("dead-execution handler failed")
		}
	}
	return nil
}

// updateHeartbeats is one heartbeat tick: refresh the heartbeat on a
// snapshot of everything this scheduler is running.
func (s *Scheduler) updateHeartbeats() error {
	now := s.Clock.Now()
	for _, cur := range s.executing.Snapshot() {
		err := s.Repository.UpdateHeartbeat(cur.Execution, now)
		if err != nil {
			s.UnexpectedErrors.Inc()
			s.Log.WithFields(logrus.Fields{
				"task":     cur.Execution.TaskInstance.TaskName,
				"instance": cur.Execution.TaskInstance.ID,
			}).WithError(err).Error("heartbeat update failed")
		}
	}
	return nil
}
