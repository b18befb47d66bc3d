// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"context"
	"time"

	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/go-schedule/schedule"
)

// The demonstration task set: a recurring tick that logs every ten
// seconds, and a one-time greeting that seeds a fresh instance of
// itself half a minute after every daemon start.

func demoTasks(log *logrus.Logger) []schedule.Task {
	tick := schedule.RecurringTask("demo-tick", schedule.FixedDelay(10*time.Second),
		func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
			log.WithField("instance", e.TaskInstance.ID).Info("tick")
			return nil
		})

	greet := schedule.OneTimeTask("demo-greet", time.Minute,
		func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
			log.WithFields(logrus.Fields{
				"instance":  e.TaskInstance.ID,
				"scheduler": ec.SchedulerName,
			}).Info("hello from a one-time task")
			return nil
		})
	greet.OnStartup = func(c schedule.SchedulerClient, now time.Time) error {
		instance := schedule.TaskInstance{
			TaskName: "demo-greet",
			ID:       uuid.NewV4().String(),
		}
		_, err := c.Schedule(instance, now.Add(30*time.Second))
		return err
	}

	return []schedule.Task{tick, greet}
}

func demoStartTasks() []string {
	return []string{"demo-tick", "demo-greet"}
}
