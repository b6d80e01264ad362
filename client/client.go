// Package client is the run lifecycle API used by test runner adapters. Every
// call is serialized through one FIFO queue and fanned out to all enabled
// pipes.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/collector"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
	"github.com/testomatio/reporter/pipe/builtin"
	"github.com/testomatio/reporter/uploader"
	"golang.org/x/sync/errgroup"
)

const (
	UnknownTest  = "Unknown test"
	UnknownSuite = "Unknown suite"
)

var (
	// ErrInvalidFilter is returned for a test filter not of the form type=id.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("client closed")

	filterTypes = map[string]bool{"tag": true, "plan": true, "label": true, "jira": true}
)

// PipeResult is the outcome of one operation on one pipe.
type PipeResult struct {
	Pipe string
	Err  error
}

type Option func(*Client)

// WithPipes replaces the registry built pipes.
func WithPipes(pipes ...pipe.Pipe) Option {
	return func(c *Client) {
		c.injected = pipes
	}
}

func WithRegistry(r *pipe.Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

func WithUploader(u uploader.Uploader) Option {
	return func(c *Client) {
		c.artifacts.uploader = u
	}
}

func WithCollector(col *collector.Collector) Option {
	return func(c *Client) {
		c.collector = col
	}
}

// WithStore shares a per-run store with pipes built elsewhere.
func WithStore(s *pipe.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

type Client struct {
	logger    zerolog.Logger
	cfg       *config.Config
	registry  *pipe.Registry
	store     *pipe.Store
	collector *collector.Collector
	excluder  excluder
	artifacts *artifacts
	queue     *queue

	injected  []pipe.Pipe
	pipesOnce sync.Once
	pipes     []pipe.Pipe

	mu     sync.Mutex
	status model.RunStatus
}

func New(logger zerolog.Logger, cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Client{
		logger:    logger,
		cfg:       cfg,
		artifacts: &artifacts{logger: logger},
		queue:     newQueue(),
		status:    model.RunStatusUnstarted,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = pipe.NewStore()
	}
	if c.registry == nil {
		c.registry = builtin.Registry()
	}
	if c.collector == nil {
		c.collector = collector.New()
	}
	if c.artifacts.uploader == nil {
		c.artifacts.uploader = uploader.NewS3Uploader(logger, cfg, c.store)
	}
	c.excluder = newExcluder(logger, cfg.ExcludeSkipped, cfg.ExcludeFilesGlob)
	return c
}

// Store returns the per-run store shared with the pipes.
func (c *Client) Store() *pipe.Store {
	return c.store
}

// Collector returns the side-channel registry merged into reported tests.
func (c *Client) Collector() *collector.Collector {
	return c.collector
}

// Status returns the last lifecycle status set through the client.
func (c *Client) Status() model.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Pipes returns the enabled pipes, building them on first use.
func (c *Client) Pipes(params model.RunParams) []pipe.Pipe {
	c.pipesOnce.Do(func() {
		if c.injected != nil {
			c.pipes = pipe.Enabled(c.injected)
			return
		}
		results := c.registry.Build(pipe.Deps{
			Logger: c.logger,
			Config: c.cfg,
			Store:  c.store,
			Params: params,
		})
		c.pipes = pipe.Enabled(pipe.Pipes(c.logger, results))
	})
	return c.pipes
}

// PrepareRun resolves a "type=id" filter into the selected test titles. The
// first pipe returning a non-empty list wins.
func (c *Client) PrepareRun(ctx context.Context, filter string) ([]string, error) {
	opts, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	for _, p := range c.Pipes(model.RunParams{}) {
		tests, err := p.PrepareRun(ctx, opts)
		if err != nil {
			c.logger.Warn().Err(err).Str("pipe", p.String()).Msg("Failed to prepare run")
			continue
		}
		if len(tests) > 0 {
			return tests, nil
		}
	}
	return nil, nil
}

// ParseFilter parses "type=id" where type is one of tag, plan, label, jira.
func ParseFilter(filter string) (model.FilterOptions, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(filter), "=")
	typ = strings.ToLower(strings.TrimSpace(typ))
	id = strings.TrimSpace(id)
	if !ok || id == "" || !filterTypes[typ] {
		return model.FilterOptions{}, fmt.Errorf("%w %q: expected tag=, plan=, label= or jira=<id>", ErrInvalidFilter, filter)
	}
	return model.FilterOptions{Type: typ, ID: id}, nil
}

// CreateRun starts (or resumes) the run on every enabled pipe. Pipe failures
// are logged and never returned.
func (c *Client) CreateRun(ctx context.Context, params model.RunParams) error {
	pipes := c.Pipes(params)
	if len(pipes) == 0 {
		return nil
	}
	c.setStatus(model.RunStatusRunning)

	_, err := c.schedule(ctx, func() []PipeResult {
		return c.fanOut(ctx, pipes, "create run", func(ctx context.Context, p pipe.Pipe) error {
			return p.CreateRun(ctx, params)
		})
	})
	return err
}

// AddTestRun reports one test result. Excluded results return nil, nil. The
// queue slot is taken when the call is made, artifact uploads run while
// earlier tasks are still being delivered. Records that already went through
// a client, such as replayed ones, keep their stack block and artifacts.
func (c *Client) AddTestRun(ctx context.Context, status model.Status, test *model.TestData) ([]PipeResult, error) {
	pipes := c.Pipes(model.RunParams{})
	if len(pipes) == 0 {
		return nil, nil
	}
	if test == nil {
		test = &model.TestData{}
	}
	t := test.Clone()
	if status != "" {
		t.Status = status
	}
	if c.excluder.excluded(t.Status, t.File) {
		c.logger.Debug().Str("test", t.Title).Str("file", t.File).Msg("Test excluded from report")
		return nil, nil
	}

	c.prepareTest(&t)
	if !t.Prepared {
		c.mergeCollected(&t)
		t.Stack = c.stackBlock(t)
	}
	// a prepared record carrying URLs has had its files uploaded already
	upload := !t.Prepared || len(t.Artifacts) == 0
	// storage credentials can arrive with a CreateRun that is still queued
	deferred := upload && !c.artifacts.enabled()
	if !upload {
		t.FilesBuffers = nil
	}
	t.Prepared = true

	ready := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }
	defer markReady()

	done, results := c.scheduleAsync(func() []PipeResult {
		<-ready
		if deferred {
			c.attachArtifacts(ctx, &t)
		}
		return c.fanOut(ctx, pipes, "add test", func(ctx context.Context, p pipe.Pipe) error {
			return p.AddTest(ctx, t)
		})
	})
	if done == nil {
		return nil, ErrClosed
	}

	if upload && !deferred {
		c.attachArtifacts(ctx, &t)
	}
	markReady()

	return c.wait(ctx, done, results)
}

func (c *Client) mergeCollected(t *model.TestData) {
	data, ok := c.collector.Take(t.Rid)
	if !ok {
		return
	}
	if len(data.Logs) > 0 {
		t.Logs = strings.TrimLeft(t.Logs+"\n"+data.Text(), "\n")
	}
	for k, v := range data.Meta {
		if t.Meta == nil {
			t.Meta = make(map[string]any)
		}
		if _, ok := t.Meta[k]; !ok {
			t.Meta[k] = v
		}
	}
	t.Files = append(t.Files, data.Artifacts...)
}

// attachArtifacts uploads the files and buffers of t and records the URLs.
func (c *Client) attachArtifacts(ctx context.Context, t *model.TestData) {
	if urls := c.artifacts.upload(context.WithoutCancel(ctx), t.Rid, t.Files, t.FilesBuffers); len(urls) > 0 {
		t.Artifacts = append(t.Artifacts, urls...)
	}
	t.FilesBuffers = nil
}

func (c *Client) prepareTest(t *model.TestData) {
	if t.Status == "" {
		return
	}
	if t.Title == "" {
		t.Title = UnknownTest
	}
	if t.SuiteTitle == "" {
		t.SuiteTitle = UnknownSuite
	}
	if t.Message == "" && t.Error != nil {
		t.Message = t.Error.Message
	}
}

func (c *Client) stackBlock(t model.TestData) string {
	failure := t.Error
	if failure == nil && t.Stack != "" {
		failure = &model.TestError{Stack: t.Stack}
	} else if failure != nil && failure.Stack == "" && t.Stack != "" {
		f := *failure
		f.Stack = t.Stack
		failure = &f
	}
	return FormatLogs(t.Steps, t.Logs, failure)
}

// UpdateRunStatus finishes the run on every enabled pipe.
func (c *Client) UpdateRunStatus(ctx context.Context, status model.RunStatus, parallel bool) error {
	pipes := c.Pipes(model.RunParams{})
	if len(pipes) == 0 {
		return nil
	}
	c.setStatus(status)

	params := model.FinishParams{Status: status, Parallel: parallel}
	_, err := c.schedule(ctx, func() []PipeResult {
		return c.fanOut(ctx, pipes, "finish run", func(ctx context.Context, p pipe.Pipe) error {
			return p.FinishRun(ctx, params)
		})
	})
	c.artifacts.logSummary()
	return err
}

// Close waits for the scheduled work and stops the queue worker.
func (c *Client) Close() {
	c.queue.close()
}

func (c *Client) setStatus(s model.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *Client) schedule(ctx context.Context, task func() []PipeResult) ([]PipeResult, error) {
	done, results := c.scheduleAsync(task)
	if done == nil {
		return nil, ErrClosed
	}
	return c.wait(ctx, done, results)
}

func (c *Client) scheduleAsync(task func() []PipeResult) (<-chan struct{}, *[]PipeResult) {
	var results []PipeResult
	done := c.queue.push(func() {
		results = task()
	})
	return done, &results
}

func (c *Client) wait(ctx context.Context, done <-chan struct{}, results *[]PipeResult) ([]PipeResult, error) {
	select {
	case <-done:
		return *results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fanOut runs op on every pipe concurrently. Errors are logged and reported
// in the results, never returned.
func (c *Client) fanOut(ctx context.Context, pipes []pipe.Pipe, what string, op func(context.Context, pipe.Pipe) error) []PipeResult {
	// delivery continues when the caller stops waiting
	ctx = context.WithoutCancel(ctx)
	results := make([]PipeResult, len(pipes))
	var g errgroup.Group
	for i, p := range pipes {
		i, p := i, p // per-iteration copies (go1.22 loop semantics on go1.21)
		g.Go(func() error {
			err := op(ctx, p)
			results[i] = PipeResult{Pipe: p.String(), Err: err}
			if err != nil {
				c.logger.Warn().Err(err).Str("pipe", p.String()).Msgf("Failed to %s", what)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
