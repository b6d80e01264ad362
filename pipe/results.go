package pipe

import (
	"sync"

	"github.com/testomatio/reporter/model"
)

// Results accumulates the tests of a run for pipes that render a summary at
// finish. Tests sharing a rid are merged into one record.
type Results struct {
	mu    sync.Mutex
	tests []model.TestData
	byRid map[string]int
}

func NewResults() *Results {
	return &Results{byRid: make(map[string]int)}
}

func (r *Results) Add(t model.TestData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.FilesBuffers = nil
	if t.Rid != "" {
		if i, ok := r.byRid[t.Rid]; ok {
			r.tests[i] = MergeTest(r.tests[i], t)
			return
		}
		r.byRid[t.Rid] = len(r.tests)
	}
	r.tests = append(r.tests, t)
}

// Tests returns the accumulated tests in the order they were first seen.
func (r *Results) Tests() []model.TestData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TestData, len(r.tests))
	copy(out, r.tests)
	return out
}

// Counts tallies the tests by status.
func (r *Results) Counts() map[model.Status]int {
	counts := make(map[model.Status]int)
	for _, t := range r.Tests() {
		status := t.Status
		if status == "" {
			status = model.StatusUnknown
		}
		counts[status]++
	}
	return counts
}

// MergeTest folds next into prev: non-empty fields of next win, file and
// artifact lists are concatenated.
func MergeTest(prev, next model.TestData) model.TestData {
	out := prev
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&out.Title, next.Title)
	str(&out.SuiteTitle, next.SuiteTitle)
	str(&out.SuiteID, next.SuiteID)
	str(&out.TestID, next.TestID)
	str(&out.Message, next.Message)
	str(&out.Stack, next.Stack)
	str(&out.File, next.File)
	str(&out.Code, next.Code)
	str(&out.Logs, next.Logs)
	if next.Status != "" {
		out.Status = next.Status
	}
	if next.Error != nil {
		out.Error = next.Error
	}
	if next.Time != 0 {
		out.Time = next.Time
	}
	if len(next.Steps) > 0 {
		out.Steps = next.Steps
	}
	if next.Example != nil {
		out.Example = next.Example
	}
	if next.Meta != nil {
		out.Meta = next.Meta
	}
	if next.Create {
		out.Create = true
	}
	if next.Prepared {
		out.Prepared = true
	}
	out.Files = append(append([]string(nil), prev.Files...), next.Files...)
	out.FilesBuffers = append(append([]model.FileBuffer(nil), prev.FilesBuffers...), next.FilesBuffers...)
	out.Artifacts = append(append([]string(nil), prev.Artifacts...), next.Artifacts...)
	return out
}
