package replay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testomatio/reporter/client"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
	"github.com/testomatio/reporter/pipe/debug"
	"github.com/testomatio/reporter/pipe/testomatio"
)

const sampleLog = `{"t":1,"datetime":"2024-01-01T00:00:00Z","data":"variables","testomatioEnvVars":{"TESTOMATIO":"tstmt_key","TESTOMATIO_TITLE":"Recorded"}}
{"t":2,"action":"createRun","params":{"title":"Nightly","parallel":true}}
{"t":3,"action":"addTest","testId":{"rid":"r1","title":"A","status":"failed","files":["a.png"]}}
not json at all
{"t":4,"action":"addTest","testId":{"title":"no rid","status":"passed"}}
{"t":5,"action":"addTestsBatch","tests":[{"rid":"r2","title":"B","status":"passed"},{"rid":"r1","files":["a.png","b.png"],"artifacts":["https://s3/x"]}]}
{"t":6,"action":"teleport"}
{"t":7,"action":"addTest"}

{"t":8,"action":"finishRun","params":{"status":"failed","parallel":true},"runId":"run-9"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testomatio.debug.1.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDebugFile(t *testing.T) {
	res, err := ParseDebugFile(zerolog.Nop(), writeLog(t, sampleLog))
	require.NoError(t, err)

	assert.Equal(t, 9, res.Lines)
	assert.Equal(t, 3, res.ParseErrors)
	assert.Equal(t, "tstmt_key", res.EnvVars["TESTOMATIO"])
	require.NotNil(t, res.RunParams)
	assert.Equal(t, "Nightly", res.RunParams.Title)
	assert.True(t, res.RunParams.Parallel)
	require.NotNil(t, res.FinishParams)
	assert.Equal(t, model.RunStatusFailed, res.FinishParams.Status)
	assert.Equal(t, "run-9", res.RunID)

	require.Len(t, res.Tests, 2)
	r1 := res.Tests[0]
	assert.Equal(t, "A", r1.Title)
	assert.Equal(t, model.StatusFailed, r1.Status, "empty later fields do not overwrite")
	assert.Equal(t, []string{"a.png", "b.png"}, r1.Files)
	assert.Equal(t, []string{"https://s3/x"}, r1.Artifacts)
	assert.Equal(t, "B", res.Tests[1].Title)

	require.Len(t, res.Unidentified, 1)
	assert.Equal(t, "no rid", res.Unidentified[0].Title)
	assert.Len(t, res.AllTests(), 3)
}

func TestParseDebugFile_Missing(t *testing.T) {
	_, err := ParseDebugFile(zerolog.Nop(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestParseDebugFile_LongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	res, err := ParseDebugFile(zerolog.Nop(), writeLog(t, `{"action":"addTest","testId":{"rid":"r1","stack":"`+long+`"}}`+"\n"))
	require.NoError(t, err)
	require.Len(t, res.Tests, 1)
	assert.Len(t, res.Tests[0].Stack, len(long))
}

type recordingPipe struct {
	pipe.Noop
	failTitle string

	mu       sync.Mutex
	created  []model.RunParams
	tests    []model.TestData
	finished []model.FinishParams
}

func (p *recordingPipe) IsEnabled() bool { return true }
func (p *recordingPipe) String() string  { return "rec" }

func (p *recordingPipe) CreateRun(_ context.Context, params model.RunParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, params)
	return nil
}

func (p *recordingPipe) AddTest(_ context.Context, t model.TestData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tests = append(p.tests, t)
	if t.Title == p.failTitle {
		return errors.New("rejected")
	}
	return nil
}

func (p *recordingPipe) FinishRun(_ context.Context, params model.FinishParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, params)
	return nil
}

func newTestEngine(rec *recordingPipe, env map[string]string) *Engine {
	return NewEngine(zerolog.Nop(),
		WithConfigLoader(config.Default),
		WithEnv(
			func(k string) string { return env[k] },
			func(k, v string) error { env[k] = v; return nil },
		),
		WithClientOptions(client.WithPipes(rec)),
	)
}

func TestEngine_Replay(t *testing.T) {
	rec := &recordingPipe{failTitle: "B"}
	env := map[string]string{"TESTOMATIO_TITLE": "already set"}
	e := newTestEngine(rec, env)

	res, err := e.Replay(context.Background(), writeLog(t, sampleLog), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Tests)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.ParseErrors)
	assert.Equal(t, "run-9", res.RunID)

	assert.Equal(t, "tstmt_key", env["TESTOMATIO"], "unset variables are restored")
	assert.Equal(t, "already set", env["TESTOMATIO_TITLE"], "set variables win")

	require.Len(t, rec.created, 1)
	assert.Equal(t, "run-9", rec.created[0].RunID)
	assert.Equal(t, "Nightly", rec.created[0].Title)

	var titles []string
	for _, tt := range rec.tests {
		titles = append(titles, tt.Title)
	}
	assert.Equal(t, []string{"A", "B", "no rid"}, titles)

	require.Len(t, rec.finished, 1)
	assert.Equal(t, model.FinishParams{Status: model.RunStatusFailed, Parallel: true}, rec.finished[0])
}

func TestEngine_DryRun(t *testing.T) {
	rec := &recordingPipe{}
	e := newTestEngine(rec, map[string]string{})

	res, err := e.Replay(context.Background(), writeLog(t, sampleLog), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.Tests)
	assert.Empty(t, rec.created)
	assert.Empty(t, rec.tests)
}

func TestEngine_NoTests(t *testing.T) {
	e := newTestEngine(&recordingPipe{}, map[string]string{})
	_, err := e.Replay(context.Background(), writeLog(t, `{"action":"createRun","params":{}}`+"\n"), Options{})
	assert.ErrorIs(t, err, ErrNoTests)
}

func TestEngine_MissingFile(t *testing.T) {
	e := newTestEngine(&recordingPipe{}, map[string]string{})
	_, err := e.Replay(context.Background(), filepath.Join(t.TempDir(), "missing.json"), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEngine_DefaultFinishStatus(t *testing.T) {
	rec := &recordingPipe{}
	e := newTestEngine(rec, map[string]string{})

	_, err := e.Replay(context.Background(), writeLog(t, `{"action":"addTest","testId":{"rid":"r1","title":"A","status":"passed"}}`+"\n"), Options{})
	require.NoError(t, err)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, model.RunStatusFinished, rec.finished[0].Status)
}

type lossyPipe struct {
	recordingPipe
	lost int64
}

func (p *lossyPipe) NotReported() int64 { return p.lost }

func TestEngine_NotReported(t *testing.T) {
	lossy := &lossyPipe{lost: 2}
	e := NewEngine(zerolog.Nop(),
		WithConfigLoader(config.Default),
		WithEnv(func(string) string { return "" }, func(string, string) error { return nil }),
		WithClientOptions(client.WithPipes(lossy, &recordingPipe{})),
	)

	res, err := e.Replay(context.Background(), writeLog(t, sampleLog), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, int64(2), res.NotReported)
}

// reportingService records the test bodies posted to a run.
type reportingService struct {
	mu     sync.Mutex
	tests  []map[string]any
	server *httptest.Server
}

func newReportingService(t *testing.T) *reportingService {
	s := &reportingService{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/testrun"):
			var body map[string]any
			assert.NoError(t, json.Unmarshal(data, &body))
			s.mu.Lock()
			s.tests = append(s.tests, body)
			s.mu.Unlock()
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/api/reporter" || r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"uid":"run-1","url":"https://app.testomat.io/runs/run-1"}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *reportingService) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.tests...)
}

type countingUploader struct {
	calls atomic.Int64
}

func (u *countingUploader) Enabled() bool { return true }

func (u *countingUploader) UploadFile(_ context.Context, _, path string) (string, error) {
	u.calls.Add(1)
	return "https://s3/" + filepath.Base(path), nil
}

func (u *countingUploader) UploadBuffer(_ context.Context, _, name string, _ []byte) (string, error) {
	u.calls.Add(1)
	return "https://s3/" + name, nil
}

func serviceConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.APIKey = "tstmt_key"
	cfg.URL = url
	cfg.RetryDelay = 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.DisableBatch = true
	return cfg
}

func TestEngine_ReplayDeliversRecordedBodies(t *testing.T) {
	ctx := context.Background()
	up := &countingUploader{}

	original := newReportingService(t)
	cfg := serviceConfig(original.server.URL)
	cfg.Debug = true
	store := pipe.NewStore()
	remote, err := testomatio.New(pipe.Deps{Logger: zerolog.Nop(), Config: cfg, Store: store})
	require.NoError(t, err)
	recorder, err := debug.New(pipe.Deps{Logger: zerolog.Nop(), Config: cfg, Store: store, Options: map[string]string{"dir": t.TempDir()}})
	require.NoError(t, err)

	c := client.New(zerolog.Nop(), cfg, client.WithPipes(remote, recorder), client.WithStore(store), client.WithUploader(up))
	require.NoError(t, c.CreateRun(ctx, model.RunParams{Title: "Nightly"}))
	_, err = c.AddTestRun(ctx, model.StatusFailed, &model.TestData{
		Rid:          "r1",
		Title:        "checkout",
		SuiteTitle:   "cart",
		Steps:        []model.Step{{Title: "open cart", Duration: 12}},
		Logs:         "clicked pay",
		Error:        &model.TestError{Message: "boom", Stack: "at pay.js:1"},
		Files:        []string{"/tmp/shot.png"},
		FilesBuffers: []model.FileBuffer{{Name: "trace.zip", Data: []byte("zip")}},
	})
	require.NoError(t, err)
	_, err = c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Rid: "r2", Title: "login", Logs: "ok"})
	require.NoError(t, err)
	require.NoError(t, c.UpdateRunStatus(ctx, model.RunStatusFailed, false))
	c.Close()
	uploads := up.calls.Load()
	require.Equal(t, int64(2), uploads)

	replayed := newReportingService(t)
	env := map[string]string{}
	e := NewEngine(zerolog.Nop(),
		WithConfigLoader(func() *config.Config { return serviceConfig(replayed.server.URL) }),
		WithEnv(
			func(k string) string { return env[k] },
			func(k, v string) error { env[k] = v; return nil },
		),
		WithClientOptions(client.WithUploader(up)),
	)
	res, err := e.Replay(ctx, recorder.Path(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.NotReported)

	want, got := original.received(), replayed.received()
	require.Len(t, want, 2)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i], got[i], "test %d", i)
	}
	assert.Equal(t, 1, strings.Count(got[0]["stack"].(string), client.StepsHeader))
	assert.Len(t, got[0]["artifacts"], 2)
	assert.Equal(t, uploads, up.calls.Load(), "replay uploads nothing again")
}
