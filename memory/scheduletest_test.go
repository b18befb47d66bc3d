// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory_test

import (
	"testing"

	"github.com/diffeo/go-schedule/memory"
	"github.com/diffeo/go-schedule/schedule/scheduletest"
)

func init() {
	store := memory.NewStore()
	scheduletest.NewRepository = store.Repository
	scheduletest.HasFailureHistory = false
}

func TestCreateIsIdempotent(t *testing.T) {
	scheduletest.TestCreateIsIdempotent(t)
}
func TestCreateConcurrent(t *testing.T) {
	scheduletest.TestCreateConcurrent(t)
}
func TestDueOrdering(t *testing.T) {
	scheduletest.TestDueOrdering(t)
}
func TestDueExcludesPicked(t *testing.T) {
	scheduletest.TestDueExcludesPicked(t)
}
func TestPickLifecycle(t *testing.T) {
	scheduletest.TestPickLifecycle(t)
}
func TestPickContention(t *testing.T) {
	scheduletest.TestPickContention(t)
}
func TestPickStaleVersion(t *testing.T) {
	scheduletest.TestPickStaleVersion(t)
}
func TestRescheduleRoundTrip(t *testing.T) {
	scheduletest.TestRescheduleRoundTrip(t)
}
func TestReschedulePreservesOutcomes(t *testing.T) {
	scheduletest.TestReschedulePreservesOutcomes(t)
}
func TestRescheduleStale(t *testing.T) {
	scheduletest.TestRescheduleStale(t)
}
func TestRemove(t *testing.T) {
	scheduletest.TestRemove(t)
}
func TestRemoveStale(t *testing.T) {
	scheduletest.TestRemoveStale(t)
}
func TestOldExecutions(t *testing.T) {
	scheduletest.TestOldExecutions(t)
}
func TestOldExecutionsAnyOwner(t *testing.T) {
	scheduletest.TestOldExecutionsAnyOwner(t)
}
func TestDeadRecovery(t *testing.T) {
	scheduletest.TestDeadRecovery(t)
}
func TestUpdateHeartbeatStale(t *testing.T) {
	scheduletest.TestUpdateHeartbeatStale(t)
}
func TestScheduledExecutions(t *testing.T) {
	scheduletest.TestScheduledExecutions(t)
}
func TestFailingExecutions(t *testing.T) {
	scheduletest.TestFailingExecutions(t)
}
