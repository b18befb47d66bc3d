// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package schedbench provides a load-generation tool for the
// scheduler.  It can mass-schedule one-time executions, run a
// scheduler until the backlog drains, and clear leftovers.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satori/go.uuid"
	"github.com/urfave/cli"

	"github.com/diffeo/go-schedule/backend"
	"github.com/diffeo/go-schedule/schedule"
	"github.com/diffeo/go-schedule/scheduler"
)

// benchTaskName is the task every benchmark execution belongs to.
const benchTaskName = "bench"

type benchState struct {
	Backend    backend.Backend
	Repository schedule.ExecutionRepository
}

var bench benchState

var addExecutions = cli.Command{
	Name:  "add",
	Usage: "schedule many one-time executions due immediately",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "count",
			Value: 100,
			Usage: "number of executions to schedule",
		},
		cli.IntFlag{
			Name:  "concurrency",
			Value: 8,
			Usage: "schedule from this many goroutines",
		},
	},
	Action: func(c *cli.Context) {
		count := c.Int("count")
		concurrency := c.Int("concurrency")
		now := time.Now()

		numbers := make(chan int)
		go func() {
			for i := 1; i <= count; i++ {
				numbers <- i
			}
			close(numbers)
		}()

		wg := sync.WaitGroup{}
		wg.Add(concurrency)
		for i := 0; i < concurrency; i++ {
			go func() {
				defer wg.Done()
				for range numbers {
					instance := schedule.TaskInstance{
						TaskName: benchTaskName,
						ID:       uuid.NewV4().String(),
					}
					_, err := bench.Repository.CreateIfNotExists(schedule.Execution{
						TaskInstance:  instance,
						ExecutionTime: now,
					})
					if err != nil {
						fmt.Printf("could not schedule %v: %v\n", instance, err)
						return
					}
				}
			}()
		}
		wg.Wait()
	},
}

var runScheduler = cli.Command{
	Name:  "run",
	Usage: "run a scheduler until the benchmark backlog drains",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "executors",
			Value: 10,
			Usage: "size of the worker pool",
		},
		cli.DurationFlag{
			Name:  "delay",
			Value: 0,
			Usage: "simulated work per execution",
		},
		cli.DurationFlag{
			Name:  "poll",
			Value: time.Second,
			Usage: "due-polling interval",
		},
	},
	Action: func(c *cli.Context) {
		delay := c.Duration("delay")
		var completed int64

		sched := &scheduler.Scheduler{
			Repository:      bench.Repository,
			Name:            c.GlobalString("name"),
			ExecutorThreads: c.Int("executors"),
			PollingInterval: c.Duration("poll"),
			Tasks: []schedule.Task{
				schedule.OneTimeTask(benchTaskName, time.Minute,
					func(ctx context.Context, e schedule.Execution, ec schedule.ExecutionContext) error {
						time.Sleep(delay)
						atomic.AddInt64(&completed, 1)
						return nil
					}),
			},
		}

		started := time.Now()
		err := sched.Start()
		if err != nil {
			fmt.Printf("could not start scheduler: %v\n", err)
			return
		}
		for {
			remaining, err := benchBacklog()
			if err != nil {
				fmt.Printf("could not read backlog: %v\n", err)
				break
			}
			if remaining == 0 {
				break
			}
			time.Sleep(time.Second)
		}
		sched.Stop()

		elapsed := time.Since(started)
		count := atomic.LoadInt64(&completed)
		fmt.Printf("completed %v executions in %v", count, elapsed)
		if elapsed > 0 && count > 0 {
			fmt.Printf(" (%.1f/sec)", float64(count)/elapsed.Seconds())
		}
		fmt.Println()
	},
}

var clearExecutions = cli.Command{
	Name:  "clear",
	Usage: "delete all benchmark executions",
	Action: func(c *cli.Context) {
		all, err := bench.Repository.ScheduledExecutions()
		if err != nil {
			fmt.Printf("could not list executions: %v\n", err)
			return
		}
		for _, e := range all {
			if e.TaskInstance.TaskName != benchTaskName {
				continue
			}
			err = bench.Repository.Remove(e)
			if err != nil {
				fmt.Printf("could not remove %v: %v\n", e.TaskInstance, err)
			}
		}
	},
}

// benchBacklog counts remaining benchmark executions.
func benchBacklog() (int, error) {
	all, err := bench.Repository.ScheduledExecutions()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range all {
		if e.TaskInstance.TaskName == benchTaskName {
			count++
		}
	}
	return count, nil
}

func main() {
	bench.Backend = backend.Backend{Implementation: "memory"}
	app := cli.NewApp()
	app.Usage = "benchmark the scheduler system"
	app.Flags = []cli.Flag{
		cli.GenericFlag{
			Name:  "backend",
			Value: &bench.Backend,
			Usage: "impl[:address] of the storage backend",
		},
		cli.StringFlag{
			Name:  "name",
			Value: "schedbench",
			Usage: "scheduler name written as the claim owner",
		},
	}
	app.Commands = []cli.Command{
		addExecutions,
		runScheduler,
		clearExecutions,
	}
	app.Before = func(c *cli.Context) (err error) {
		bench.Repository, err = bench.Backend.Repository(c.GlobalString("name"))
		return
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
	}
}
