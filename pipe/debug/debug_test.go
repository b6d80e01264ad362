package debug

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testomatio/reporter/history"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

func readEntries(t *testing.T, path string) []model.LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []model.LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e model.LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestPipe_WritesReplayLog(t *testing.T) {
	dir := t.TempDir()
	store := pipe.NewStore()
	now := time.UnixMilli(1700000000000)
	p := newPipe(zerolog.Nop(), true, dir, store, map[string]string{"TESTOMATIO": "key"}, func() time.Time { return now })
	ctx := context.Background()

	require.True(t, p.IsEnabled())
	assert.Equal(t, filepath.Join(dir, "testomatio.debug.1700000000000.json"), p.Path())

	require.NoError(t, p.CreateRun(ctx, model.RunParams{Title: "T1"}))
	store.SetRun("run-1", "", "")
	require.NoError(t, p.AddTest(ctx, model.TestData{
		Rid:          "r1",
		Title:        "A",
		Status:       model.StatusPassed,
		FilesBuffers: []model.FileBuffer{{Name: "a.png", Data: []byte("png")}},
	}))
	require.NoError(t, p.FinishRun(ctx, model.FinishParams{Status: model.RunStatusPassed}))

	entries := readEntries(t, p.Path())
	require.Len(t, entries, 4)

	assert.Equal(t, model.LogDataVariables, entries[0].Data)
	assert.Equal(t, "key", entries[0].EnvVars["TESTOMATIO"])
	assert.Equal(t, now.UnixMilli(), entries[0].T)

	assert.Equal(t, model.LogActionCreateRun, entries[1].Action)
	var params model.RunParams
	require.NoError(t, json.Unmarshal(entries[1].Params, &params))
	assert.Equal(t, "T1", params.Title)

	assert.Equal(t, model.LogActionAddTest, entries[2].Action)
	require.NotNil(t, entries[2].Test)
	assert.Equal(t, "r1", entries[2].Test.Rid)
	assert.Empty(t, entries[2].Test.FilesBuffers)

	assert.Equal(t, model.LogActionFinishRun, entries[3].Action)
	assert.Equal(t, "run-1", entries[3].RunID)

	latest, err := history.LatestDebugLog(zerolog.Nop(), dir)
	require.NoError(t, err)
	assert.Len(t, readEntries(t, latest), 4)

	// closed logs stay closed
	require.NoError(t, p.AddTest(ctx, model.TestData{Rid: "r2"}))
	assert.Len(t, readEntries(t, p.Path()), 4)
}

func TestPipe_Disabled(t *testing.T) {
	dir := t.TempDir()
	p := newPipe(zerolog.Nop(), false, dir, nil, nil, time.Now)
	ctx := context.Background()

	require.NoError(t, p.CreateRun(ctx, model.RunParams{}))
	require.NoError(t, p.AddTest(ctx, model.TestData{Title: "A"}))
	require.NoError(t, p.FinishRun(ctx, model.FinishParams{}))

	_, err := os.Stat(p.Path())
	assert.True(t, os.IsNotExist(err))
}
