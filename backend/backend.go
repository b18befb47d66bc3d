// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package backend provides a standard way to construct an execution
// repository based on command-line flags.
package backend

import (
	"errors"
	"strings"

	"github.com/diffeo/go-schedule/memory"
	"github.com/diffeo/go-schedule/postgres"
	"github.com/diffeo/go-schedule/schedule"
)

// Backend describes user-visible parameters to store scheduled
// executions.  This implements the flag.Value interface, and so a
// typical use is
//
//	func main() {
//	    backend := backend.Backend{Implementation: "memory"}
//	    flag.Var(&backend, "backend", "impl[:address] of execution storage")
//	    flag.Parse()
//	    repository, err := backend.Repository(schedulerName)
//	}
type Backend struct {
	// Implementation holds the name of the implementation; for
	// instance, "memory" or "postgres".
	Implementation string

	// Address holds some backend-specific address, such as a
	// database connect string.
	Address string
}

// Repository creates a new execution repository for one named
// scheduler.  This generally should be only called once: if the
// backend has in-process state, such as a database connection pool or
// an in-memory store, calling this multiple times creates multiple
// copies of that state.  In particular, if b.Implementation is
// "memory", multiple calls will create multiple independent stores.
func (b *Backend) Repository(schedulerName string) (schedule.ExecutionRepository, error) {
	switch b.Implementation {
	case "memory":
		return memory.New(schedulerName), nil
	case "postgres":
		return postgres.New(b.Address, schedulerName)
	default:
		return nil, errors.New("unknown execution storage backend " + b.Implementation)
	}
}

// String renders a backend description as a string.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set parses a string into an existing backend description.  The
// string should be of the form "implementation:address", where
// address can be any string.  This is part of the flag.Value
// interface.  Neither function attempts to validate the address part
// of the string or to actually make a connection.
func (b *Backend) Set(param string) (err error) {
	parts := strings.SplitN(param, ":", 2)
	switch len(parts) {
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	default:
		err = errors.New("must specify a backend type")
	}
	return
}
