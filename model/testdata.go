package model

// Status is the outcome of a single test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusUnknown Status = "unknown"
)

// ParseStatus normalizes adapter-provided statuses. The empty string is kept
// as is: it marks an update that carries no outcome, e.g. late artifacts.
func ParseStatus(s string) Status {
	switch s {
	case "":
		return ""
	case "passed", "pass", "ok", "success":
		return StatusPassed
	case "failed", "fail", "error", "broken":
		return StatusFailed
	case "skipped", "skip", "pending", "disabled":
		return StatusSkipped
	default:
		return StatusUnknown
	}
}

// StepCategory tells who produced a step.
type StepCategory string

const (
	StepCategoryUser      StepCategory = "user"
	StepCategoryFramework StepCategory = "framework"
	StepCategoryHook      StepCategory = "hook"
)

// Step is one node of the step hierarchy of a test.
type Step struct {
	Category StepCategory `json:"category,omitempty"`
	Title    string       `json:"title"`
	// Duration in milliseconds
	Duration float64    `json:"duration,omitempty"`
	Steps    []Step     `json:"steps,omitempty"`
	Error    *TestError `json:"error,omitempty"`
}

// TestError describes a failure.
type TestError struct {
	Message  string `json:"message,omitempty"`
	Stack    string `json:"stack,omitempty"`
	Diff     string `json:"diff,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// FileBuffer is an in-memory artifact.
type FileBuffer struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// TestData is one reported test outcome as supplied by an adapter.
type TestData struct {
	// Correlation id. Resending the same rid updates the already reported record.
	Rid        string `json:"rid,omitempty"`
	Title      string `json:"title,omitempty"`
	SuiteTitle string `json:"suite_title,omitempty"`
	SuiteID    string `json:"suite_id,omitempty"`
	TestID     string `json:"test_id,omitempty"`
	Status     Status `json:"status,omitempty"`
	// Free text message, overridden by Error.Message when present
	Message string     `json:"message,omitempty"`
	Error   *TestError `json:"error,omitempty"`
	// Formatted stack block, filled by the client
	Stack string `json:"stack,omitempty"`
	// Duration in milliseconds
	Time    float64        `json:"run_time,omitempty"`
	Steps   []Step         `json:"steps,omitempty"`
	File    string         `json:"file,omitempty"`
	Code    string         `json:"code,omitempty"`
	Example map[string]any `json:"example,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Logs    string         `json:"logs,omitempty"`
	// Local artifact references
	Files        []string     `json:"files,omitempty"`
	FilesBuffers []FileBuffer `json:"filesBuffers,omitempty"`
	// Uploaded artifact URLs, filled by the client
	Artifacts []string `json:"artifacts,omitempty"`
	// Ask the service to create tests that are not yet known
	Create bool `json:"create,omitempty"`
	// Set by the client once Stack and Artifacts hold its own output. A
	// prepared record is delivered as is when it is reported again.
	Prepared bool `json:"prepared,omitempty"`
}

// Clone returns a copy that shares no slices or maps with t.
func (t TestData) Clone() TestData {
	c := t
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	c.Steps = append([]Step(nil), t.Steps...)
	c.Files = append([]string(nil), t.Files...)
	c.FilesBuffers = append([]FileBuffer(nil), t.FilesBuffers...)
	c.Artifacts = append([]string(nil), t.Artifacts...)
	if t.Example != nil {
		c.Example = make(map[string]any, len(t.Example))
		for k, v := range t.Example {
			c.Example[k] = v
		}
	}
	if t.Meta != nil {
		c.Meta = make(map[string]any, len(t.Meta))
		for k, v := range t.Meta {
			c.Meta[k] = v
		}
	}
	return c
}
