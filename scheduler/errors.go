// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package scheduler

import "errors"

// ErrNoRepository is returned from Start() if no execution repository
// was configured.  This is the only error that prevents a scheduler
// from running.
var ErrNoRepository = errors.New("Scheduler has no execution repository")
