package model

import (
	"net/http"
	"time"
)

// Method identifies how a submission was made on the judge.
type Method string

const (
	// MethodClassic is a submission through the problem page, polled via the JSON API.
	MethodClassic Method = "classic"
	// MethodIDE is a submission through the online IDE, polled via the HTML status table.
	MethodIDE Method = "ide"
)

// State is the tracking state of a submission.
type State string

const (
	StatePending State = "pending"
	StateFinal   State = "final"
)

const (
	// UnknownProblemName is used when enrichment cannot resolve a name.
	UnknownProblemName = "Unknown Problem"
)

// PollTarget is the resource polled for a verdict.
type PollTarget struct {
	URL   string `json:"url"`
	Token string `json:"-"`
}

// SubmissionRecord is one tracked submission.
type SubmissionRecord struct {
	ID          string     `json:"id"`
	Method      Method     `json:"method"`
	Target      PollTarget `json:"target"`
	ProblemName string     `json:"problem_name,omitempty"`
	ProblemCode string     `json:"problem_code,omitempty"`
	State       State      `json:"state"`
	Verdict     string     `json:"verdict,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Final reports whether the record reached its terminal state.
func (r SubmissionRecord) Final() bool {
	return r.State == StateFinal
}

// Label returns the "name (code)" form used in notifications and status.
func (r SubmissionRecord) Label() string {
	return r.ProblemName + " (" + r.ProblemCode + ")"
}

// ProblemInfo is the enrichment returned by a problem provider.
type ProblemInfo struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// FallbackProblemInfo is used when enrichment fails for a submission.
func FallbackProblemInfo(submissionID string) ProblemInfo {
	return ProblemInfo{Name: UnknownProblemName, Code: submissionID}
}

// ObservedRequest is an outgoing browser request seen by the daemon,
// either reported by the browser shim or captured by the proxy.
type ObservedRequest struct {
	Method string
	URL    string
	Header http.Header
}

// ObserveResult describes what observation did with a request.
type ObserveResult struct {
	Matched bool   `json:"matched"`
	Created bool   `json:"created"`
	ID      string `json:"id,omitempty"`
	Method  Method `json:"method,omitempty"`
}

// PageReport is the active judge page reported by the browser shim.
type PageReport struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
	HTML  string `json:"html,omitempty"`
}

// Status is the last-outcome summary shown to the user.
type Status struct {
	LastStatus  string     `json:"last_status"`
	LastProblem string     `json:"last_problem"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

const (
	DefaultLastStatus  = "Idle"
	DefaultLastProblem = "None"
)
