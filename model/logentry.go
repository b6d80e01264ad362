package model

import "encoding/json"

// LogAction identifies the kind of a replay log line.
type LogAction string

const (
	LogActionCreateRun     LogAction = "createRun"
	LogActionAddTest       LogAction = "addTest"
	LogActionAddTestsBatch LogAction = "addTestsBatch"
	LogActionFinishRun     LogAction = "finishRun"
)

// LogDataVariables marks the environment snapshot line.
const LogDataVariables = "variables"

// LogEntry is one line of the append-only replay log. Only the fields that
// belong to the entry's kind are set.
type LogEntry struct {
	// Unix milliseconds
	T        int64     `json:"t"`
	Datetime string    `json:"datetime,omitempty"`
	Action   LogAction `json:"action,omitempty"`

	// Environment snapshot
	Data    string            `json:"data,omitempty"`
	EnvVars map[string]string `json:"testomatioEnvVars,omitempty"`

	Params json.RawMessage `json:"params,omitempty"`
	Test   *TestData       `json:"testId,omitempty"`
	Tests  []TestData      `json:"tests,omitempty"`
	RunID  string          `json:"runId,omitempty"`
}
