package pipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testomatio/reporter/model"
)

func TestResults_MergesByRid(t *testing.T) {
	r := NewResults()
	r.Add(model.TestData{Rid: "r1", Title: "A", Status: model.StatusFailed, Files: []string{"a.png"}})
	r.Add(model.TestData{Title: "B", Status: model.StatusPassed})
	r.Add(model.TestData{Rid: "r1", Files: []string{"b.png"}, Artifacts: []string{"https://s3/b.png"}})
	r.Add(model.TestData{Title: "C"})

	tests := r.Tests()
	require.Len(t, tests, 3)
	assert.Equal(t, "A", tests[0].Title)
	assert.Equal(t, model.StatusFailed, tests[0].Status)
	assert.Equal(t, []string{"a.png", "b.png"}, tests[0].Files)
	assert.Equal(t, []string{"https://s3/b.png"}, tests[0].Artifacts)
	assert.Equal(t, "B", tests[1].Title)

	assert.Equal(t, map[model.Status]int{
		model.StatusFailed:  1,
		model.StatusPassed:  1,
		model.StatusUnknown: 1,
	}, r.Counts())
}

func TestMergeTest_LaterNonEmptyWins(t *testing.T) {
	prev := model.TestData{Title: "A", Message: "first", Time: 10}
	next := model.TestData{Message: "second", Status: model.StatusPassed}

	got := MergeTest(prev, next)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, "second", got.Message)
	assert.Equal(t, float64(10), got.Time)
	assert.Equal(t, model.StatusPassed, got.Status)
}
