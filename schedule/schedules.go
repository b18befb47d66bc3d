// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// A Schedule decides when a recurring task runs next.  Implementations
// must be safe for concurrent use; the stock ones here are stateless.
type Schedule interface {
	// Next returns the first execution time strictly after the
	// given instant.
	Next(after time.Time) time.Time
}

type fixedDelay struct {
	delay time.Duration
}

// FixedDelay runs a task again a fixed duration after each completion.
func FixedDelay(delay time.Duration) Schedule {
	return fixedDelay{delay: delay}
}

func (s fixedDelay) Next(after time.Time) time.Time {
	return after.Add(s.delay)
}

type daily struct {
	hour, minute int
}

// Daily runs a task once a day at the given wall-clock time, in the
// location of the reference instant.
func Daily(hour, minute int) Schedule {
	return daily{hour: hour, minute: minute}
}

func (s daily) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(),
		s.hour, s.minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type cronSchedule struct {
	inner cron.Schedule
}

// Cron runs a task on a standard five-field cron expression, for
// instance "*/10 * * * *".  Descriptors such as "@hourly" are also
// accepted.
func Cron(expr string) (Schedule, error) {
	inner, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	return cronSchedule{inner: inner}, nil
}

func (s cronSchedule) Next(after time.Time) time.Time {
	return s.inner.Next(after)
}
