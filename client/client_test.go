package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

// recordingPipe captures every call in order.
type recordingPipe struct {
	name     string
	enabled  bool
	addErr   error
	grep     []string
	onCreate func()

	mu    sync.Mutex
	calls []string
	tests []model.TestData
}

func newRecordingPipe(name string) *recordingPipe {
	return &recordingPipe{name: name, enabled: true}
}

func (p *recordingPipe) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *recordingPipe) IsEnabled() bool { return p.enabled }
func (p *recordingPipe) String() string  { return p.name }

func (p *recordingPipe) PrepareRun(_ context.Context, opts model.FilterOptions) ([]string, error) {
	p.record("prepare:" + opts.Type + "=" + opts.ID)
	return p.grep, nil
}

func (p *recordingPipe) CreateRun(_ context.Context, params model.RunParams) error {
	if p.onCreate != nil {
		p.onCreate()
	}
	p.record("create:" + params.Title)
	return nil
}

func (p *recordingPipe) AddTest(_ context.Context, t model.TestData) error {
	p.mu.Lock()
	p.calls = append(p.calls, "add:"+t.Title)
	p.tests = append(p.tests, t)
	p.mu.Unlock()
	return p.addErr
}

func (p *recordingPipe) FinishRun(_ context.Context, params model.FinishParams) error {
	p.record("finish:" + string(params.Status))
	return nil
}

func (p *recordingPipe) recorded() ([]string, []model.TestData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...), append([]model.TestData(nil), p.tests...)
}

// fakeUploader returns deterministic URLs. Uploads of names listed in block
// wait until release is closed. A nil enabled reports storage as configured.
type fakeUploader struct {
	started chan string
	release chan struct{}
	block   map[string]bool
	fail    map[string]bool
	enabled func() bool
	calls   atomic.Int64
}

func (u *fakeUploader) Enabled() bool { return u.enabled == nil || u.enabled() }

func (u *fakeUploader) UploadFile(ctx context.Context, rid, path string) (string, error) {
	return u.upload(filepath.Base(path))
}

func (u *fakeUploader) UploadBuffer(ctx context.Context, rid, name string, _ []byte) (string, error) {
	return u.upload(name)
}

func (u *fakeUploader) upload(name string) (string, error) {
	u.calls.Add(1)
	if u.started != nil {
		u.started <- name
	}
	if u.block[name] {
		<-u.release
	}
	if u.fail[name] {
		return "", errors.New("upload failed")
	}
	return "https://s3/" + name, nil
}

func newTestClient(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	return New(zerolog.Nop(), cfg, opts...)
}

func TestClient_LifecycleOrder(t *testing.T) {
	rec := newRecordingPipe("rec")
	c := newTestClient(nil, WithPipes(rec), WithUploader(&fakeUploader{}))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.CreateRun(ctx, model.RunParams{Title: "T1"}))
	for i := 0; i < 5; i++ {
		results, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "rec", results[0].Pipe)
		assert.NoError(t, results[0].Err)
	}
	require.NoError(t, c.UpdateRunStatus(ctx, model.RunStatusPassed, false))

	calls, _ := rec.recorded()
	assert.Equal(t, []string{"create:T1", "add:t0", "add:t1", "add:t2", "add:t3", "add:t4", "finish:passed"}, calls)
	assert.Equal(t, model.RunStatusPassed, c.Status())
}

func TestClient_FIFOWhileUploading(t *testing.T) {
	rec := newRecordingPipe("rec")
	up := &fakeUploader{
		started: make(chan string, 4),
		release: make(chan struct{}),
		block:   map[string]bool{"slow.png": true},
	}
	c := newTestClient(nil, WithPipes(rec), WithUploader(up))
	defer c.Close()
	ctx := context.Background()

	first := make(chan []PipeResult)
	go func() {
		results, err := c.AddTestRun(ctx, model.StatusFailed, &model.TestData{
			Title:        "first",
			FilesBuffers: []model.FileBuffer{{Name: "slow.png", Data: []byte("x")}},
		})
		assert.NoError(t, err)
		first <- results
	}()
	// the first call holds its queue slot once its upload has started
	assert.Equal(t, "slow.png", <-up.started)

	second := make(chan struct{})
	go func() {
		_, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: "second"})
		assert.NoError(t, err)
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second test delivered before the first one")
	case <-time.After(50 * time.Millisecond):
	}

	close(up.release)
	<-first
	<-second

	calls, tests := rec.recorded()
	assert.Equal(t, []string{"add:first", "add:second"}, calls)
	assert.Equal(t, []string{"https://s3/slow.png"}, tests[0].Artifacts)
	assert.Empty(t, tests[0].FilesBuffers)
}

func TestClient_NoPipesFastPath(t *testing.T) {
	c := newTestClient(nil, WithPipes(pipe.Disabled{Name: "remote"}))
	ctx := context.Background()

	require.NoError(t, c.CreateRun(ctx, model.RunParams{}))
	results, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: "A"})
	require.NoError(t, err)
	assert.Nil(t, results)
	require.NoError(t, c.UpdateRunStatus(ctx, model.RunStatusPassed, false))

	assert.False(t, c.queue.started.Load(), "queue worker never started")
	c.Close()
}

func TestClient_DisabledRemoteEnabledCSV(t *testing.T) {
	cfg := config.Default()
	cfg.CSVFile = filepath.Join(t.TempDir(), "report.csv")
	c := newTestClient(cfg)
	defer c.Close()
	ctx := context.Background()

	pipes := c.Pipes(model.RunParams{})
	require.Len(t, pipes, 1)
	assert.Equal(t, "CSV", pipes[0].String())

	require.NoError(t, c.CreateRun(ctx, model.RunParams{Title: "T1"}))
	_, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: "logs in", SuiteTitle: "Auth"})
	require.NoError(t, err)
	require.NoError(t, c.UpdateRunStatus(ctx, model.RunStatusPassed, false))

	data, err := os.ReadFile(cfg.CSVFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Auth,logs in,passed")
}

func TestClient_RidResend(t *testing.T) {
	rec := newRecordingPipe("rec")
	c := newTestClient(nil, WithPipes(rec), WithUploader(&fakeUploader{}))
	defer c.Close()
	ctx := context.Background()

	_, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Rid: "r1", Title: "A"})
	require.NoError(t, err)
	_, err = c.AddTestRun(ctx, "", &model.TestData{Rid: "r1", FilesBuffers: []model.FileBuffer{{Name: "late.png"}}})
	require.NoError(t, err)

	_, tests := rec.recorded()
	require.Len(t, tests, 2)
	assert.Equal(t, "r1", tests[0].Rid)
	assert.Equal(t, "A", tests[0].Title)
	assert.Equal(t, "r1", tests[1].Rid)
	assert.Empty(t, tests[1].Title, "updates without status keep empty titles")
	assert.Empty(t, tests[1].Status)
	assert.Equal(t, []string{"https://s3/late.png"}, tests[1].Artifacts)
}

func TestClient_Defaults(t *testing.T) {
	rec := newRecordingPipe("rec")
	c := newTestClient(nil, WithPipes(rec))
	defer c.Close()

	input := &model.TestData{Error: &model.TestError{Message: "boom"}}
	_, err := c.AddTestRun(context.Background(), model.StatusFailed, input)
	require.NoError(t, err)

	_, tests := rec.recorded()
	require.Len(t, tests, 1)
	assert.Equal(t, UnknownTest, tests[0].Title)
	assert.Equal(t, UnknownSuite, tests[0].SuiteTitle)
	assert.Equal(t, model.StatusFailed, tests[0].Status)
	assert.Equal(t, "boom", tests[0].Message)
	assert.Contains(t, tests[0].Stack, FailureHeader)
	assert.Empty(t, input.Title, "caller data is not modified")
}

func TestClient_Exclusion(t *testing.T) {
	cfg := config.Default()
	cfg.ExcludeSkipped = true
	cfg.ExcludeFilesGlob = config.SplitPatterns("**/*.draft.js; ./legacy/**")
	rec := newRecordingPipe("rec")
	c := newTestClient(cfg, WithPipes(rec))
	defer c.Close()
	ctx := context.Background()

	cases := []struct {
		status   model.Status
		file     string
		excluded bool
	}{
		{model.StatusSkipped, "a.spec.js", true},
		{model.StatusPassed, "tests/login.draft.js", true},
		{model.StatusPassed, "./legacy/old.spec.js", true},
		{model.StatusPassed, "tests/login.spec.js", false},
		{model.StatusFailed, "", false},
	}
	for _, tc := range cases {
		results, err := c.AddTestRun(ctx, tc.status, &model.TestData{Title: tc.file, File: tc.file})
		require.NoError(t, err)
		if tc.excluded {
			assert.Nil(t, results, tc.file)
		} else {
			assert.Len(t, results, 1, tc.file)
		}
	}

	calls, _ := rec.recorded()
	assert.Equal(t, []string{"add:tests/login.spec.js", "add:" + UnknownTest}, calls)
	assert.Zero(t, c.artifacts.total.Load())
}

func TestClient_CollectorMerge(t *testing.T) {
	rec := newRecordingPipe("rec")
	up := &fakeUploader{fail: map[string]bool{"broken.png": true}}
	c := newTestClient(nil, WithPipes(rec), WithUploader(up))
	defer c.Close()

	c.Collector().Log("r1", "hello from the test")
	c.Collector().SetMeta("r1", "browser", "chrome")
	c.Collector().Artifact("r1", "/tmp/shot.png")
	c.Collector().Artifact("r1", "/tmp/broken.png")

	_, err := c.AddTestRun(context.Background(), model.StatusPassed, &model.TestData{
		Rid:  "r1",
		Meta: map[string]any{"browser": "firefox", "os": "linux"},
	})
	require.NoError(t, err)

	_, tests := rec.recorded()
	require.Len(t, tests, 1)
	got := tests[0]
	assert.Equal(t, "hello from the test", got.Logs)
	assert.Equal(t, map[string]any{"browser": "firefox", "os": "linux"}, got.Meta)
	assert.Equal(t, []string{"https://s3/shot.png"}, got.Artifacts)
	assert.Contains(t, got.Stack, LogsHeader)
	assert.Equal(t, int64(2), c.artifacts.total.Load())
	assert.Equal(t, int64(1), c.artifacts.failed.Load())
}

// reportedAgain feeds a delivered record through a JSON round trip, the way a
// debug log keeps it, into a fresh client.
func reportedAgain(t *testing.T, delivered model.TestData, up *fakeUploader) model.TestData {
	t.Helper()
	data, err := json.Marshal(delivered)
	require.NoError(t, err)
	var logged model.TestData
	require.NoError(t, json.Unmarshal(data, &logged))

	rec := newRecordingPipe("again")
	c := newTestClient(nil, WithPipes(rec), WithUploader(up))
	defer c.Close()
	_, err = c.AddTestRun(context.Background(), logged.Status, &logged)
	require.NoError(t, err)

	_, tests := rec.recorded()
	require.Len(t, tests, 1)
	return tests[0]
}

func TestClient_PreparedRecordKeepsStack(t *testing.T) {
	rec := newRecordingPipe("rec")
	c := newTestClient(nil, WithPipes(rec), WithUploader(&fakeUploader{}))
	defer c.Close()

	_, err := c.AddTestRun(context.Background(), model.StatusFailed, &model.TestData{
		Rid:   "r1",
		Title: "checkout",
		Steps: []model.Step{{Title: "open cart", Duration: 12}},
		Logs:  "clicked pay",
		Error: &model.TestError{Message: "boom", Stack: "at pay.js:1"},
	})
	require.NoError(t, err)
	_, tests := rec.recorded()
	require.Len(t, tests, 1)
	first := tests[0]
	assert.True(t, first.Prepared)

	again := reportedAgain(t, first, &fakeUploader{})
	assert.Equal(t, first.Stack, again.Stack)
	assert.Equal(t, 1, strings.Count(again.Stack, StepsHeader))
	assert.Equal(t, 1, strings.Count(again.Stack, LogsHeader))
	assert.Equal(t, 1, strings.Count(again.Stack, FailureHeader))
}

func TestClient_PreparedRecordKeepsArtifacts(t *testing.T) {
	rec := newRecordingPipe("rec")
	c := newTestClient(nil, WithPipes(rec), WithUploader(&fakeUploader{}))
	defer c.Close()

	_, err := c.AddTestRun(context.Background(), model.StatusPassed, &model.TestData{
		Rid:          "r1",
		Files:        []string{"/tmp/shot.png"},
		FilesBuffers: []model.FileBuffer{{Name: "trace.zip", Data: []byte("zip")}},
	})
	require.NoError(t, err)
	_, tests := rec.recorded()
	require.Len(t, tests, 1)
	first := tests[0]
	require.ElementsMatch(t, []string{"https://s3/shot.png", "https://s3/trace.zip"}, first.Artifacts)

	up := &fakeUploader{}
	again := reportedAgain(t, first, up)
	assert.Equal(t, first.Artifacts, again.Artifacts)
	assert.Equal(t, int64(0), up.calls.Load(), "uploaded files are not sent again")
}

func TestClient_PreparedRecordWithoutUploadsIsUploaded(t *testing.T) {
	delivered := model.TestData{
		Rid:      "r1",
		Title:    "login",
		Status:   model.StatusPassed,
		Files:    []string{"/tmp/shot.png"},
		Prepared: true,
	}

	up := &fakeUploader{}
	again := reportedAgain(t, delivered, up)
	assert.Equal(t, []string{"https://s3/shot.png"}, again.Artifacts)
	assert.Equal(t, int64(1), up.calls.Load())
}

func TestClient_StorageConfiguredByQueuedCreateRun(t *testing.T) {
	ctx := context.Background()
	var creds atomic.Bool
	checked := make(chan struct{})
	var checkedOnce sync.Once
	up := &fakeUploader{enabled: func() bool {
		ok := creds.Load()
		checkedOnce.Do(func() { close(checked) })
		return ok
	}}

	creating := make(chan struct{})
	rec := newRecordingPipe("rec")
	rec.onCreate = func() {
		close(creating)
		<-checked
		creds.Store(true)
	}
	c := newTestClient(nil, WithPipes(rec), WithUploader(up))
	defer c.Close()

	created := make(chan error, 1)
	go func() { created <- c.CreateRun(ctx, model.RunParams{Title: "T"}) }()
	<-creating

	_, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: "a", Files: []string{"/tmp/shot.png"}})
	require.NoError(t, err)
	require.NoError(t, <-created)

	calls, tests := rec.recorded()
	assert.Equal(t, []string{"create:T", "add:a"}, calls)
	require.Len(t, tests, 1)
	assert.Equal(t, []string{"https://s3/shot.png"}, tests[0].Artifacts)
}

func TestClient_PipeErrorsAreNotReturned(t *testing.T) {
	good := newRecordingPipe("good")
	bad := newRecordingPipe("bad")
	bad.addErr = errors.New("boom")
	c := newTestClient(nil, WithPipes(good, bad))
	defer c.Close()

	results, err := c.AddTestRun(context.Background(), model.StatusPassed, &model.TestData{Title: "A"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, PipeResult{Pipe: "good"}, results[0])
	assert.Equal(t, "bad", results[1].Pipe)
	assert.EqualError(t, results[1].Err, "boom")

	calls, _ := good.recorded()
	assert.Equal(t, []string{"add:A"}, calls)
}

func TestClient_PrepareRun(t *testing.T) {
	empty := newRecordingPipe("empty")
	remote := newRecordingPipe("remote")
	remote.grep = []string{"@T1"}
	c := newTestClient(nil, WithPipes(empty, remote))
	defer c.Close()
	ctx := context.Background()

	tests, err := c.PrepareRun(ctx, "tag=smoke")
	require.NoError(t, err)
	assert.Equal(t, []string{"@T1"}, tests)

	for _, filter := range []string{"smoke", "tag=", "suite=1", ""} {
		_, err := c.PrepareRun(ctx, filter)
		assert.ErrorIs(t, err, ErrInvalidFilter, filter)
	}

	calls, _ := empty.recorded()
	assert.Equal(t, []string{"prepare:tag=smoke"}, calls)
}

func TestClient_Closed(t *testing.T) {
	rec := newRecordingPipe("rec")
	c := newTestClient(nil, WithPipes(rec))
	ctx := context.Background()

	require.NoError(t, c.CreateRun(ctx, model.RunParams{}))
	c.Close()
	c.Close()

	_, err := c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.UpdateRunStatus(ctx, model.RunStatusPassed, false), ErrClosed)
}

func TestClient_ContextCanceledWhileWaiting(t *testing.T) {
	rec := newRecordingPipe("rec")
	up := &fakeUploader{release: make(chan struct{}), block: map[string]bool{"slow": true}}
	c := newTestClient(nil, WithPipes(rec), WithUploader(up))
	ctx := context.Background()

	go func() {
		_, _ = c.AddTestRun(ctx, model.StatusPassed, &model.TestData{Title: "slow", FilesBuffers: []model.FileBuffer{{Name: "slow"}}})
	}()

	canceled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Eventually(t, func() bool { return c.queue.started.Load() }, time.Second, time.Millisecond)
	_, err := c.AddTestRun(canceled, model.StatusPassed, &model.TestData{Title: "waiting"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(up.release)
	c.Close()

	calls, _ := rec.recorded()
	assert.Equal(t, []string{"add:slow", "add:waiting"}, calls, "scheduled work is still delivered")
}

func TestParseFilter(t *testing.T) {
	opts, err := ParseFilter(" Plan = 42 ")
	require.NoError(t, err)
	assert.Equal(t, model.FilterOptions{Type: "plan", ID: "42"}, opts)

	_, err = ParseFilter("x")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
