// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedDelay(t *testing.T) {
	s := FixedDelay(5 * time.Minute)
	base := time.Date(2017, time.March, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(5*time.Minute), s.Next(base))
}

func TestDailyLaterToday(t *testing.T) {
	s := Daily(15, 30)
	base := time.Date(2017, time.March, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t,
		time.Date(2017, time.March, 1, 15, 30, 0, 0, time.UTC),
		s.Next(base))
}

func TestDailyTomorrow(t *testing.T) {
	s := Daily(9, 0)
	base := time.Date(2017, time.March, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t,
		time.Date(2017, time.March, 2, 9, 0, 0, 0, time.UTC),
		s.Next(base))
}

func TestDailyExactBoundary(t *testing.T) {
	// An execution finishing at exactly the scheduled time rolls to
	// the next day; Next is strictly after its argument.
	s := Daily(9, 0)
	base := time.Date(2017, time.March, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t,
		time.Date(2017, time.March, 2, 9, 0, 0, 0, time.UTC),
		s.Next(base))
}

func TestCron(t *testing.T) {
	s, err := Cron("*/10 * * * *")
	if !assert.NoError(t, err) {
		return
	}
	base := time.Date(2017, time.March, 1, 12, 3, 0, 0, time.UTC)
	assert.Equal(t,
		time.Date(2017, time.March, 1, 12, 10, 0, 0, time.UTC),
		s.Next(base))
}

func TestCronInvalid(t *testing.T) {
	_, err := Cron("not a cron expression")
	assert.Error(t, err)
}
