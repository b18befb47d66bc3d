// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package statusserver provides a read-only HTTP view of an execution
// repository: what is scheduled, what is due, and what keeps failing.
// It is intended to sit next to a scheduler daemon for operators and
// health checks; it never mutates the store.
package statusserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-schedule/schedule"
	"github.com/gorilla/mux"
)

// NewRouter creates an HTTP handler serving the status API at the URL
// path root.  For more control over the paths, create a mux.Router
// and call PopulateRouter instead.
func NewRouter(repository schedule.ExecutionRepository, clk clock.Clock) http.Handler {
	r := mux.NewRouter()
	PopulateRouter(r, repository, clk)
	return r
}

// PopulateRouter adds the status routes to an existing
// github.com/gorilla/mux router object.  This can be used to place
// the status API under a subpath:
//
//	r := mux.NewRouter()
//	s := r.PathPrefix("/status").Subrouter()
//	statusserver.PopulateRouter(s, repository, clock.New())
func PopulateRouter(r *mux.Router, repository schedule.ExecutionRepository, clk clock.Clock) {
	api := &statusAPI{Repository: repository, Clock: clk}
	r.Path("/executions").Methods("GET").HandlerFunc(api.Executions)
	r.Path("/executions/due").Methods("GET").HandlerFunc(api.DueExecutions)
	r.Path("/executions/failing").Methods("GET").HandlerFunc(api.FailingExecutions)
	r.Path("/healthz").Methods("GET").HandlerFunc(api.Health)
}

// statusAPI holds the persistent state for the status API.
type statusAPI struct {
	Repository schedule.ExecutionRepository
	Clock      clock.Clock
}

// ExecutionData is the JSON rendering of one execution.
type ExecutionData struct {
	TaskName      string     `json:"task_name"`
	TaskInstance  string     `json:"task_instance"`
	ExecutionTime time.Time  `json:"execution_time"`
	Picked        bool       `json:"picked"`
	PickedBy      string     `json:"picked_by,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastFailure   *time.Time `json:"last_failure,omitempty"`
	Version       int64      `json:"version"`
}

// ExecutionList is the JSON rendering of an execution listing.
type ExecutionList struct {
	Executions []ExecutionData `json:"executions"`
}

func (api *statusAPI) Executions(w http.ResponseWriter, req *http.Request) {
	all, err := api.Repository.ScheduledExecutions()
	api.renderExecutions(w, all, err)
}

func (api *statusAPI) DueExecutions(w http.ResponseWriter, req *http.Request) {
	due, err := api.Repository.DueExecutions(api.Clock.Now())
	api.renderExecutions(w, due, err)
}

func (api *statusAPI) FailingExecutions(w http.ResponseWriter, req *http.Request) {
	failingFor := time.Duration(0)
	if param := req.FormValue("duration"); param != "" {
		var err error
		failingFor, err = time.ParseDuration(param)
		if err != nil {
			renderError(w, http.StatusBadRequest, err)
			return
		}
	}
	failing, err := api.Repository.FailingExecutions(failingFor)
	api.renderExecutions(w, failing, err)
}

func (api *statusAPI) Health(w http.ResponseWriter, req *http.Request) {
	renderJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (api *statusAPI) renderExecutions(w http.ResponseWriter, executions []schedule.Execution, err error) {
	if err != nil {
		renderError(w, http.StatusInternalServerError, err)
		return
	}
	list := ExecutionList{Executions: make([]ExecutionData, len(executions))}
	for i, e := range executions {
		list.Executions[i] = marshalExecution(e)
	}
	renderJSON(w, http.StatusOK, list)
}

func marshalExecution(e schedule.Execution) ExecutionData {
	return ExecutionData{
		TaskName:      e.TaskInstance.TaskName,
		TaskInstance:  e.TaskInstance.ID,
		ExecutionTime: e.ExecutionTime,
		Picked:        e.Picked,
		PickedBy:      e.PickedBy,
		LastHeartbeat: timeOrNil(e.LastHeartbeat),
		LastSuccess:   timeOrNil(e.LastSuccess),
		LastFailure:   timeOrNil(e.LastFailure),
		Version:       e.Version,
	}
}

// timeOrNil maps the zero time to a JSON null.
func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, status int, err error) {
	renderJSON(w, status, map[string]string{"error": err.Error()})
}
