// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package scheduled provides the scheduler daemon.  It runs one
// scheduler over a chosen storage backend and serves a read-only
// status API plus Prometheus metrics over HTTP.  Several instances of
// this daemon pointed at the same PostgreSQL database cooperate as a
// fleet: each scheduled execution runs on exactly one of them at a
// time, and work owned by a crashed instance is recovered by its
// peers.
//
// The daemon itself only knows the demonstration task set; real
// deployments are expected to build their own main around the
// scheduler package the way this one is built.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/diffeo/go-schedule/backend"
	"github.com/diffeo/go-schedule/scheduler"
	"github.com/diffeo/go-schedule/statusserver"
	"github.com/gorilla/mux"
)

var unexpectedErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "schedule",
	Name:      "unexpected_errors_total",
	Help:      "Caught errors and panics in scheduler loops and callbacks",
})

func init() {
	prometheus.MustRegister(unexpectedErrors)
}

func main() {
	bind := flag.String("bind", ":5935", "[ip]:port for the status HTTP server")
	storage := backend.Backend{Implementation: "memory", Address: ""}
	flag.Var(&storage, "backend", "impl[:address] of the storage backend")
	configFile := flag.String("config", "", "scheduler configuration YAML file")
	demo := flag.Bool("demo", false, "run the demonstration task set")
	flag.Parse()

	log := logrus.New()

	cfg := defaultConfig()
	if *configFile != "" {
		err := loadConfigYaml(*configFile, &cfg)
		if err != nil {
			log.WithError(err).Fatal("could not load configuration")
		}
	}
	if cfg.SchedulerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.WithError(err).Fatal("could not determine scheduler name")
		}
		cfg.SchedulerName = hostname
	}

	repository, err := storage.Repository(cfg.SchedulerName)
	if err != nil {
		log.WithError(err).Fatal("could not create execution repository")
	}

	sched := &scheduler.Scheduler{
		Repository:        repository,
		Name:              cfg.SchedulerName,
		ExecutorThreads:   cfg.ExecutorThreads,
		PollingInterval:   cfg.PollingInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Log:               log,
		UnexpectedErrors:  unexpectedErrors,
	}
	if *demo || cfg.Demo {
		sched.Tasks = demoTasks(log)
		sched.StartTasks = demoStartTasks()
	}

	err = sched.Start()
	if err != nil {
		log.WithError(err).Fatal("could not start scheduler")
	}

	router := mux.NewRouter()
	statusserver.PopulateRouter(router, repository, clock.New())
	router.Path("/metrics").Handler(promhttp.Handler())
	n := negroni.New(negroni.NewRecovery(), negroni.NewLogger())
	n.UseHandler(router)
	server := &http.Server{Addr: *bind, Handler: n}
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("status server failed")
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	log.Info("shutting down")
	sched.Stop()
	_ = server.Close()
}
