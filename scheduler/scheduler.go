// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package scheduler runs scheduled executions out of an execution
// repository.  Several scheduler processes can share one durable
// repository; the repository's claim protocol guarantees each
// execution runs on at most one of them at a time.
//
// A Scheduler is configured by filling in its exported fields and
// calling Start():
//
//	sched := scheduler.Scheduler{
//	    Repository: repository,
//	    Tasks: []schedule.Task{
//	        schedule.RecurringTask("report", schedule.Daily(6, 0), runReport),
//	    },
//	    StartTasks: []string{"report"},
//	}
//	err := sched.Start()
//	...
//	sched.Stop()
//
// Three loops run per scheduler: due-polling (claim and dispatch due
// executions), dead-detection (recover executions whose owner stopped
// heartbeating, on behalf of the whole fleet), and heartbeat (prove
// this scheduler is alive).  Up to ExecutorThreads task bodies run
// concurrently.
package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-schedule/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Scheduler is one cooperating member of a scheduler fleet.  Fill in
// the exported fields before calling Start(); they must not change
// afterwards.
type Scheduler struct {
	// Repository is the execution store this scheduler works
	// against.  This field is required.
	Repository schedule.ExecutionRepository

	// Tasks defines the complete set of tasks this scheduler knows
	// how to run.  This field is required.
	Tasks []schedule.Task

	// StartTasks names the tasks whose OnStartup hooks run, in
	// order, when the scheduler starts.
	StartTasks []string

	// Name identifies this scheduler process; it is recorded as
	// the claim owner of every execution it picks.  If unset, the
	// hostname is used.
	Name string

	// ExecutorThreads is the number of concurrently running task
	// bodies.  If unset, uses 10.
	ExecutorThreads int

	// PollingInterval states how often the scheduler scans for due
	// executions.  If unset, defaults to 10 seconds.
	PollingInterval time.Duration

	// HeartbeatInterval states how often the scheduler refreshes
	// the heartbeat on its running executions.  Dead detection
	// runs every two heartbeat intervals and considers a claim
	// dead after four; those multipliers are design constants, not
	// configuration.  If unset, defaults to 5 minutes.
	HeartbeatInterval time.Duration

	// UnknownTaskPolicy states what happens when a stored
	// execution names a task not in Tasks.  The default,
	// WarnAndSkip, logs once per name and leaves the row alone.
	UnknownTaskPolicy schedule.UnknownTaskPolicy

	// Clock defines the scheduler's time source.  Only test code
	// should need to set this.
	Clock clock.Clock

	// Log receives the scheduler's log output.  If unset, a new
	// logrus logger with default settings is used.
	Log *logrus.Logger

	// UnexpectedErrors is incremented for every caught error or
	// panic in any loop or callback.  If unset, an unregistered
	// counter is used, so by default this is a no-op sink; daemons
	// register their own counter and pass it here.
	UnexpectedErrors prometheus.Counter

	// LoopGracePeriod bounds how long Stop() waits for each
	// control loop to exit.  If unset, defaults to 5 seconds.
	LoopGracePeriod time.Duration

	// ShutdownGracePeriod bounds how long Stop() waits for
	// in-flight task bodies.  If unset, defaults to 30 minutes.
	ShutdownGracePeriod time.Duration

	// registry resolves task names, after defaults have been
	// filled into each task's handlers.
	registry *schedule.Registry

	// pool bounds concurrent task bodies.
	pool *executorPool

	// executing tracks what is running right now, for heartbeats
	// and shutdown diagnostics.
	executing *executingSet

	// running and shuttingDown are the scheduler lifecycle flags:
	// written by Start/Stop, read everywhere.
	running      atomic.Bool
	shuttingDown atomic.Bool

	// pollWaiter, deadWaiter, and heartbeatWaiter pace the three
	// loops; Stop() wakes all three.
	pollWaiter      *waiter
	deadWaiter      *waiter
	heartbeatWaiter *waiter

	// loops tracks the three loop goroutines.
	loops sync.WaitGroup

	// taskCtx is handed to task bodies; cancelTasks fires when the
	// shutdown grace period expires.
	taskCtx     context.Context
	cancelTasks context.CancelFunc

	// warnedTasks remembers which unknown task names have already
	// been logged.
	warnedSem   sync.Mutex
	warnedTasks map[string]bool
}

// setDefaults fills in default values for any uninitialized fields.
func (s *Scheduler) setDefaults() {
	if s.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = uuid.NewV4().String()
		}
		s.Name = hostname
	}
	if s.ExecutorThreads == 0 {
		s.ExecutorThreads = 10
	}
	if s.PollingInterval == time.Duration(0) {
		s.PollingInterval = time.Duration(10) * time.Second
	}
	if s.HeartbeatInterval == time.Duration(0) {
		s.HeartbeatInterval = time.Duration(5) * time.Minute
	}
	if s.Clock == nil {
		s.Clock = clock.New()
	}
	if s.Log == nil {
		s.Log = logrus.New()
	}
	if s.UnexpectedErrors == nil {
		s.UnexpectedErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedule",
			Name:      "unexpected_errors_total",
			Help:      "Caught errors and panics in scheduler loops and callbacks",
		})
	}
	if s.LoopGracePeriod == time.Duration(0) {
		s.LoopGracePeriod = time.Duration(5) * time.Second
	}
	if s.ShutdownGracePeriod == time.Duration(0) {
		s.ShutdownGracePeriod = time.Duration(30) * time.Minute
	}
}

// deadInterval is the dead-detection loop period.
func (s *Scheduler) deadInterval() time.Duration {
	return 2 * s.HeartbeatInterval
}

// deadThreshold is how far behind a heartbeat must be before the
// claim counts as dead.  The gap between this and the detection
// period gives a claim at least one missed heartbeat of slack, so a
// transient pause does not get its work stolen.
func (s *Scheduler) deadThreshold() time.Duration {
	return 4 * s.HeartbeatInterval
}

// bootstrap creates the internal object set for the scheduler.  It is
// separate from Start so tests can drive loop iterations by hand.
func (s *Scheduler) bootstrap() error {
	s.setDefaults()
	if s.Repository == nil {
		return ErrNoRepository
	}

	// Normalize the task list: every task gets the default
	// completion and recovery policies if it declares none.
	tasks := make([]schedule.Task, len(s.Tasks))
	for i, task := range s.Tasks {
		if task.OnComplete == nil {
			task.OnComplete = schedule.CompleteRemove()
		}
		if task.OnDead == nil {
			task.OnDead = schedule.DeadReschedule(time.Minute)
		}
		tasks[i] = task
	}
	registry, err := schedule.NewRegistry(tasks)
	if err != nil {
		return err
	}
	s.registry = registry

	s.pool = newExecutorPool(s.ExecutorThreads)
	s.executing = newExecutingSet()
	s.pollWaiter = newWaiter(s.Clock, s.PollingInterval)
	s.deadWaiter = newWaiter(s.Clock, s.deadInterval())
	s.heartbeatWaiter = newWaiter(s.Clock, s.HeartbeatInterval)
	s.taskCtx, s.cancelTasks = context.WithCancel(context.Background())
	s.warnedTasks = make(map[string]bool)
	return nil
}

// Start brings the scheduler up: it validates the configuration, runs
// the start tasks' startup hooks synchronously in order, and launches
// the three control loops.  Errors from startup hooks are logged and
// do not abort the start.
func (s *Scheduler) Start() error {
	err := s.bootstrap()
	if err != nil {
		return err
	}
	s.running.Store(true)

	s.runStartTasks()

	s.loops.Add(3)
	go s.runLoop("due-polling", s.pollWaiter, s.pollDue)
	go s.runLoop("dead-detection", s.deadWaiter, s.detectDead)
	go s.runLoop("heartbeat", s.heartbeatWaiter, s.updateHeartbeats)

	s.Log.WithFields(logrus.Fields{
		"scheduler": s.Name,
		"executors": s.ExecutorThreads,
	}).Info("scheduler started")
	return nil
}

// runStartTasks invokes the startup hooks of the configured start
// tasks, synchronously and in order.
func (s *Scheduler) runStartTasks() {
	client := s.Client()
	for _, name := range s.StartTasks {
		task, present := s.registry.Task(name)
		if !present {
			s.Log.WithField("task", name).Warn("start task is not registered")
			continue
		}
		if task.OnStartup == nil {
			continue
		}
		err := s.guard(func() error {
			return task.OnStartup(client, s.Clock.Now())
		})
		if err != nil {
			s.UnexpectedErrors.Inc()
			s.Log.WithField("task", name).WithError(err).Error("start task failed")
		}
	}
}

// Stop shuts the scheduler down.  It stops the three loops, then
// waits up to ShutdownGracePeriod for in-flight task bodies.  Any
// execution still running when that expires is logged by identity and
// its context is canceled.
func (s *Scheduler) Stop() {
	if s.cancelTasks == nil {
		// Never bootstrapped; nothing to stop.
		return
	}
	s.shuttingDown.Store(true)
	defer s.cancelTasks()

	s.pollWaiter.Wake()
	s.deadWaiter.Wake()
	s.heartbeatWaiter.Wake()
	if !waitTimeout(&s.loops, s.Clock, s.LoopGracePeriod) {
		s.Log.Warn("scheduler loops did not stop in time")
	}

	if !s.pool.WaitIdle(s.Clock, s.ShutdownGracePeriod) {
		for _, cur := range s.executing.Snapshot() {
			s.Log.WithFields(logrus.Fields{
				"task":     cur.Execution.TaskInstance.TaskName,
				"instance": cur.Execution.TaskInstance.ID,
				"started":  cur.StartedAt,
			}).Warn("execution still running at shutdown")
		}
		s.cancelTasks()
		s.pool.WaitIdle(s.Clock, s.LoopGracePeriod)
	}

	s.running.Store(false)
	s.Log.WithField("scheduler", s.Name).Info("scheduler stopped")
}

// IsRunning reports whether the scheduler has started and not yet
// finished shutting down.  Part of schedule.SchedulerState.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// IsShuttingDown reports whether a shutdown has been requested.  Part
// of schedule.SchedulerState.
func (s *Scheduler) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Client returns the scheduling surface for application code.  The
// client is valid before Start(), so setup code can seed executions.
func (s *Scheduler) Client() schedule.SchedulerClient {
	return schedulerClient{scheduler: s}
}

type schedulerClient struct {
	scheduler *Scheduler
}

func (c schedulerClient) Schedule(instance schedule.TaskInstance, executionTime time.Time) (bool, error) {
	return c.scheduler.Repository.CreateIfNotExists(schedule.Execution{
		TaskInstance:  instance,
		ExecutionTime: executionTime,
	})
}

// waitTimeout waits for a WaitGroup, bounded by timeout, and reports
// whether the group finished.
func waitTimeout(wg *sync.WaitGroup, clk clock.Clock, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
