// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"io/ioutil"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"
)

// config holds the daemon's YAML-configurable settings.  Durations
// are written in Go syntax, e.g. "30s" or "5m".
type config struct {
	SchedulerName     string        `mapstructure:"scheduler_name"`
	ExecutorThreads   int           `mapstructure:"executor_threads"`
	PollingInterval   time.Duration `mapstructure:"polling_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Demo              bool          `mapstructure:"demo"`
}

// defaultConfig returns the zero configuration; the scheduler package
// fills in its own defaults for any unset value.
func defaultConfig() config {
	return config{}
}

// loadConfigYaml reads a YAML file into the configuration.  The file
// is decoded in two steps, YAML to a generic map and mapstructure
// into the typed struct, so duration strings work and unknown keys
// are tolerated.
func loadConfigYaml(filename string, cfg *config) error {
	bytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	var raw map[string]interface{}
	err = yaml.Unmarshal(bytes, &raw)
	if err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     cfg,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
