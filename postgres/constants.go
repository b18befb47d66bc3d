// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres

// This file contains SQL fragments shared between the repository
// queries.

const (
	// executionTable is the one table this backend owns.
	executionTable = "scheduled_execution"

	// executionTaskName and friends name its columns.
	executionTaskName      = "task_name"
	executionTaskInstance  = "task_instance"
	executionTime          = "execution_time"
	executionPicked        = "picked"
	executionPickedBy      = "picked_by"
	executionLastHeartbeat = "last_heartbeat"
	executionLastSuccess   = "last_success"
	executionLastFailure   = "last_failure"
	executionVersion       = "version"

	// executionIsFree and executionIsClaimed select the two row
	// states.
	executionIsFree    = executionPicked + "=FALSE"
	executionIsClaimed = executionPicked + "=TRUE"

	// executionOrder is the deterministic result order shared by
	// all scans.
	executionOrder = " ORDER BY " + executionTime + ", " +
		executionTaskName + ", " + executionTaskInstance
)

// executionColumns lists every column, in the order scanExecution
// reads them.
var executionColumns = []string{
	executionTaskName,
	executionTaskInstance,
	executionTime,
	executionPicked,
	executionPickedBy,
	executionLastHeartbeat,
	executionLastSuccess,
	executionLastFailure,
	executionVersion,
}
