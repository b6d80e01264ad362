package model

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusUnstarted RunStatus = "unstarted"
	RunStatusRunning   RunStatus = "running"
	RunStatusPassed    RunStatus = "passed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusFinished  RunStatus = "finished"
)

// IsTerminal reports whether the status closes a run.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusPassed || s == RunStatusFailed || s == RunStatusFinished
}

// StatusEvent returns the remote status_event for a terminal status,
// e.g. "pass", "fail_parallel". Unknown statuses map to "finish".
func (s RunStatus) StatusEvent(parallel bool) string {
	var event string
	switch s {
	case RunStatusPassed:
		event = "pass"
	case RunStatusFailed:
		event = "fail"
	default:
		event = "finish"
	}
	if parallel {
		event += "_parallel"
	}
	return event
}

// ParseRunStatus converts user input ("pass", "passed", "FAILED", ...) into a RunStatus.
func ParseRunStatus(s string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed":
		return RunStatusPassed
	case "fail", "failed":
		return RunStatusFailed
	case "running":
		return RunStatusRunning
	case "unstarted":
		return RunStatusUnstarted
	default:
		return RunStatusFinished
	}
}

// Run represents one test-execution session.
type Run struct {
	// Opaque run id assigned by the remote service or restored from a earlier session
	ID         string    `json:"id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Env        string    `json:"env,omitempty"`
	GroupTitle string    `json:"group_title,omitempty"`
	Parallel   bool      `json:"parallel,omitempty"`
	Status     RunStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunParams are the parameters for creating (or resuming) a run.
type RunParams struct {
	// Existing run to resume instead of creating a new one
	RunID            string `json:"runId,omitempty"`
	Title            string `json:"title,omitempty"`
	Env              string `json:"env,omitempty"`
	GroupTitle       string `json:"groupTitle,omitempty"`
	Label            string `json:"label,omitempty"`
	Parallel         bool   `json:"parallel,omitempty"`
	SharedRun        bool   `json:"sharedRun,omitempty"`
	SharedRunTimeout int    `json:"sharedRunTimeout,omitempty"`
	JiraID           string `json:"jiraId,omitempty"`
	CIBuildURL       string `json:"ciBuildUrl,omitempty"`
	// Set to "publish" to make the report public
	AccessEvent string `json:"accessEvent,omitempty"`
	// Per-call override of batch mode; nil keeps the configured default
	BatchEnabled *bool `json:"isBatchEnabled,omitempty"`
}

// FinishParams are the parameters of the terminal run update.
type FinishParams struct {
	Status   RunStatus `json:"status,omitempty"`
	Parallel bool      `json:"parallel,omitempty"`
}

// FilterOptions select tests before a run starts.
type FilterOptions struct {
	// One of tag, plan, label, jira
	Type string `json:"type"`
	ID   string `json:"id"`
}
