// Package testomatio implements the pipe that delivers runs to the
// Testomat.io reporting API.
package testomatio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/metrics"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

const Name = "testomatio"

// State is the lifecycle state of the run inside the pipe.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateFinished      State = "finished"
)

// ErrReportingCanceled is returned by PrepareRun once the failure ceiling
// has been reached.
var ErrReportingCanceled = errors.New("reporting canceled due to request failures")

// Pipe is the primary reporting pipe. A run moves from uninitialized to
// active on CreateRun and to finished on FinishRun.
type Pipe struct {
	logger  zerolog.Logger
	cfg     *config.Config
	store   *pipe.Store
	enabled bool
	apiKey  string
	params  model.RunParams
	http    *requester
	batch   *batch

	mu    sync.RWMutex
	runID string
	state State

	failures    atomic.Int64
	maxFailures int64
	canceled    atomic.Bool
	notReported atomic.Int64
}

var _ pipe.Pipe = (*Pipe)(nil)

// New builds the pipe from deps. A missing API key or an invalid URL yields
// a disabled pipe, never an error.
func New(deps pipe.Deps) (*Pipe, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	store := deps.Store
	if store == nil {
		store = pipe.NewStore()
	}
	p := &Pipe{
		logger:      deps.Logger.With().Str("pipe", Name).Logger(),
		cfg:         cfg,
		store:       store,
		params:      deps.Params,
		apiKey:      cfg.APIKey,
		maxFailures: int64(cfg.MaxRequestFailures),
		state:       StateUninitialized,
	}
	if p.apiKey == "" {
		return p, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		p.logger.Warn().Str("url", cfg.URL).Msg("Invalid reporting URL, pipe disabled")
		return p, nil
	}

	p.enabled = true
	p.http = newRequester(p.logger, Name, cfg.URL, cfg.RequestTimeout, cfg.Retries, cfg.RetryDelay, cfg.RequestsPerSecond)

	batchEnabled := !cfg.DisableBatch
	if deps.Params.BatchEnabled != nil {
		batchEnabled = *deps.Params.BatchEnabled
	}
	p.batch = newBatch(batchEnabled, cfg.BatchInterval, cfg.MaxEmptyFlushes)

	p.runID = deps.Params.RunID
	if p.runID == "" {
		p.runID = cfg.RunID
	}
	return p, nil
}

// Factory adapts New to the pipe registry.
func Factory(deps pipe.Deps) (pipe.Pipe, error) {
	return New(deps)
}

func (p *Pipe) IsEnabled() bool {
	return p.enabled
}

func (p *Pipe) String() string {
	return "Testomatio Reporter"
}

// RunID returns the remote id of the run, empty before CreateRun succeeded.
func (p *Pipe) RunID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID
}

func (p *Pipe) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// NotReported returns how many tests were dropped or rejected by the service.
func (p *Pipe) NotReported() int64 {
	return p.notReported.Load()
}

// Canceled tells whether the failure ceiling has been reached.
func (p *Pipe) Canceled() bool {
	return p.canceled.Load()
}

func (p *Pipe) PrepareRun(ctx context.Context, opts model.FilterOptions) ([]string, error) {
	if !p.enabled || opts.Type == "" {
		return nil, nil
	}
	if p.canceled.Load() {
		return nil, ErrReportingCanceled
	}

	q := url.Values{}
	q.Set("type", opts.Type)
	q.Set("id", opts.ID)
	q.Set("api_key", p.apiKey)

	var res grepResponse
	if err := p.request(ctx, http.MethodGet, "/api/test_grep?"+q.Encode(), nil, &res); err != nil {
		return nil, fmt.Errorf("failed to fetch tests for %s %s: %w", opts.Type, opts.ID, err)
	}
	if len(res.Tests) == 0 {
		p.logger.Info().Str("type", opts.Type).Str("id", opts.ID).Msg("No tests found for filter")
	}
	return res.Tests, nil
}

func (p *Pipe) CreateRun(ctx context.Context, params model.RunParams) error {
	if !p.enabled {
		return nil
	}
	params = p.mergeParams(params)

	body := runRequest{
		APIKey:           p.apiKey,
		Title:            params.Title,
		Env:              params.Env,
		GroupTitle:       params.GroupTitle,
		Parallel:         params.Parallel,
		CIBuildURL:       params.CIBuildURL,
		Label:            params.Label,
		SharedRun:        params.SharedRun,
		SharedRunTimeout: params.SharedRunTimeout,
		JiraID:           params.JiraID,
		AccessEvent:      params.AccessEvent,
	}

	runID := p.RunID()
	if params.RunID != "" {
		runID = params.RunID
	}

	var res runResponse
	var err error
	if runID != "" {
		err = p.request(ctx, http.MethodPut, "/api/reporter/"+url.PathEscape(runID), body, &res)
		if res.UID == "" {
			res.UID = runID
		}
	} else {
		err = p.request(ctx, http.MethodPost, "/api/reporter", body, &res)
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to create run")
		return err
	}
	if res.UID == "" {
		p.logger.Error().Msg("Run created without id, tests will not be reported")
		return fmt.Errorf("reporting service returned no run id")
	}

	p.mu.Lock()
	p.runID = res.UID
	p.state = StateActive
	p.mu.Unlock()

	p.store.SetRun(res.UID, res.URL, res.PublicURL)
	if creds := res.Artifacts.credentials(); creds != nil {
		p.store.SetS3Credentials(creds)
		p.logger.Debug().Str("bucket", creds.Bucket).Msg("Artifact storage credentials installed")
	}

	p.logger.Info().Str("run", res.UID).Str("url", res.URL).Msg("Run created")

	p.batch.start(func(tests []testPayload, index int) {
		p.sendBatch(context.Background(), tests, index)
	})
	return nil
}

func (p *Pipe) mergeParams(params model.RunParams) model.RunParams {
	if params.Title == "" {
		params.Title = p.params.Title
	}
	if params.Title == "" {
		params.Title = p.cfg.Title
	}
	if params.Env == "" {
		params.Env = p.cfg.Env
	}
	if params.GroupTitle == "" {
		params.GroupTitle = p.cfg.GroupTitle
	}
	if params.Label == "" {
		params.Label = p.cfg.Label
	}
	if params.JiraID == "" {
		params.JiraID = p.cfg.JiraID
	}
	if params.CIBuildURL == "" {
		params.CIBuildURL = p.cfg.CIBuildURL
	}
	if !params.SharedRun {
		params.SharedRun = p.cfg.SharedRun
	}
	if params.SharedRunTimeout == 0 {
		params.SharedRunTimeout = p.cfg.SharedRunTimeout
	}
	if params.AccessEvent == "" && p.cfg.Publish {
		params.AccessEvent = "publish"
	}
	return params
}

// AddTest reports one test, either through the batch or immediately.
// Delivery failures are logged, never returned.
func (p *Pipe) AddTest(ctx context.Context, test model.TestData) error {
	if !p.enabled {
		return nil
	}
	if p.canceled.Load() {
		p.drop()
		return nil
	}
	runID := p.RunID()
	if runID == "" {
		p.logger.Warn().Str("test", test.Title).Msg("No run id, test not reported")
		p.drop()
		return nil
	}

	payload := newTestPayload(test, p.cfg.CreateTests)
	if p.batch.enabled {
		if p.batch.add(payload) {
			return nil
		}
		// timer not running, flush what has been buffered
		tests, index := p.batch.take()
		p.sendBatch(ctx, tests, index)
		return nil
	}

	payload.APIKey = p.apiKey
	if err := p.request(ctx, http.MethodPost, "/api/reporter/"+url.PathEscape(runID)+"/testrun", payload, nil); err != nil {
		p.logger.Warn().Err(err).Str("test", test.Title).Msg("Failed to report test")
		p.drop()
		return nil
	}
	metrics.RecordTest(Name, payload.Status)
	return nil
}

func (p *Pipe) sendBatch(ctx context.Context, tests []testPayload, index int) {
	if len(tests) == 0 {
		return
	}
	if p.canceled.Load() {
		for range tests {
			p.drop()
		}
		return
	}
	runID := p.RunID()
	body := batchRequest{
		APIKey:     p.apiKey,
		Tests:      tests,
		BatchIndex: index,
	}
	if err := p.request(ctx, http.MethodPost, "/api/reporter/"+url.PathEscape(runID)+"/testrun", body, nil); err != nil {
		p.logger.Warn().Err(err).Int("tests", len(tests)).Int("batch_index", index).Msg("Failed to report batch")
		for range tests {
			p.drop()
		}
		return
	}
	metrics.RecordBatch(Name, len(tests))
	p.logger.Debug().Int("tests", len(tests)).Int("batch_index", index).Msg("Batch sent")
}

// FinishRun flushes the batch and sends the terminal status, unless the run
// is meant to be finished by another process.
func (p *Pipe) FinishRun(ctx context.Context, params model.FinishParams) error {
	if !p.enabled {
		return nil
	}

	p.batch.halt()
	tests, index := p.batch.take()
	p.sendBatch(ctx, tests, index)

	runID := p.RunID()
	if runID == "" {
		return nil
	}

	if n := p.notReported.Load(); n > 0 {
		p.logger.Warn().Int64("tests", n).Msg("Some tests were not reported")
	}

	if p.cfg.Proceed {
		p.logger.Info().Str("run", runID).Msg("Run left open, finish it with the finish command")
		return nil
	}

	body := finishRequest{
		APIKey:      p.apiKey,
		StatusEvent: params.Status.StatusEvent(params.Parallel),
	}
	if err := p.request(ctx, http.MethodPut, "/api/reporter/"+url.PathEscape(runID), body, nil); err != nil {
		p.logger.Error().Err(err).Msg("Failed to finish run")
		return nil
	}

	p.mu.Lock()
	p.state = StateFinished
	p.mu.Unlock()

	ev := p.logger.Info().Str("run", runID).Str("status", body.StatusEvent)
	if u := p.store.RunURL(); u != "" {
		ev = ev.Str("url", u)
	}
	if u := p.store.PublicURL(); u != "" {
		ev = ev.Str("public_url", u)
	}
	ev.Msg("Run finished")
	return nil
}

// request performs an API call and feeds the circuit breaker.
func (p *Pipe) request(ctx context.Context, method, path string, body, out any) error {
	err := p.http.do(ctx, method, path, body, out)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	failures := p.failures.Add(1)
	if p.maxFailures > 0 && failures >= p.maxFailures && p.canceled.CompareAndSwap(false, true) {
		p.logger.Warn().
			Int64("failures", failures).
			Msg("Too many failed requests, reporting canceled for the rest of the run")
	}
	return err
}

func (p *Pipe) drop() {
	p.notReported.Add(1)
	metrics.RecordDroppedTest(Name)
}
