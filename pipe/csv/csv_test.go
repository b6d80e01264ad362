package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

func TestPipe_SavesReport(t *testing.T) {
	cfg := config.Default()
	cfg.CSVFile = filepath.Join(t.TempDir(), "out", "report.csv")
	store := pipe.NewStore()
	store.SetRun("run-1", "https://app.testomat.io/runs/run-1", "")

	p, err := New(pipe.Deps{Logger: zerolog.Nop(), Config: cfg, Store: store})
	require.NoError(t, err)
	require.True(t, p.IsEnabled())
	ctx := context.Background()

	require.NoError(t, p.AddTest(ctx, model.TestData{
		Rid:        "r1",
		Title:      "logs in",
		SuiteTitle: "Auth",
		Status:     model.StatusFailed,
		Error:      &model.TestError{Message: "\x1b[31mexpected 1\x1b[0m"},
		Time:       12.5,
	}))
	require.NoError(t, p.AddTest(ctx, model.TestData{Rid: "r1", Artifacts: []string{"x"}}))
	require.NoError(t, p.AddTest(ctx, model.TestData{Title: "logs out", SuiteTitle: "Auth", Status: model.StatusPassed}))
	require.NoError(t, p.FinishRun(ctx, model.FinishParams{}))

	f, err := os.Open(cfg.CSVFile)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, header, records[0])
	assert.Equal(t, []string{"Auth", "logs in", "failed", "expected 1", "", "12.5", "https://app.testomat.io/runs/run-1"}, records[1])
	assert.Equal(t, "logs out", records[2][1])
}

func TestPipe_DisabledWithoutFile(t *testing.T) {
	p, err := New(pipe.Deps{Logger: zerolog.Nop(), Config: config.Default()})
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	require.NoError(t, p.AddTest(context.Background(), model.TestData{Title: "A"}))
	require.NoError(t, p.FinishRun(context.Background(), model.FinishParams{}))
}
