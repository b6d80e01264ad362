// Package replay redelivers the runs recorded in debug logs.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/client"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/history"
	"github.com/testomatio/reporter/model"
)

// ErrNoTests is returned for a debug log without any test.
var ErrNoTests = errors.New("no tests found in debug log")

type Options struct {
	// DryRun parses and summarizes without sending anything
	DryRun bool
}

// Result summarizes a replay.
type Result struct {
	Path        string
	RunID       string
	Tests       int
	Succeeded   int
	Failed      int
	// NotReported counts tests a pipe accepted but could not deliver
	NotReported int64
	ParseErrors int
	DryRun      bool
}

// deliveryCounter is implemented by pipes that deliver asynchronously or
// swallow transport errors.
type deliveryCounter interface {
	NotReported() int64
}

// Engine replays debug logs through a freshly built client.
type Engine struct {
	logger     zerolog.Logger
	loadConfig func() *config.Config
	getenv     func(string) string
	setenv     func(string, string) error
	clientOpts []client.Option
}

type EngineOption func(*Engine)

// WithConfigLoader replaces the environment based configuration.
func WithConfigLoader(load func() *config.Config) EngineOption {
	return func(e *Engine) {
		e.loadConfig = load
	}
}

// WithEnv replaces the process environment accessors.
func WithEnv(getenv func(string) string, setenv func(string, string) error) EngineOption {
	return func(e *Engine) {
		e.getenv = getenv
		e.setenv = setenv
	}
}

// WithClientOptions passes options to the replaying client.
func WithClientOptions(opts ...client.Option) EngineOption {
	return func(e *Engine) {
		e.clientOpts = append(e.clientOpts, opts...)
	}
}

func NewEngine(logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:     logger,
		loadConfig: config.LoadEnv,
		getenv:     os.Getenv,
		setenv:     os.Setenv,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Replay redelivers the log at path, or the latest debug log when path is
// empty.
func (e *Engine) Replay(ctx context.Context, path string, opts Options) (*Result, error) {
	if path == "" {
		latest, err := history.LatestDebugLog(e.logger, history.Dir())
		if err != nil {
			return nil, err
		}
		path = latest
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("debug log %s: %w", path, err)
	}

	parsed, err := ParseDebugFile(e.logger, path)
	if err != nil {
		return nil, err
	}
	tests := parsed.AllTests()
	res := &Result{
		Path:        path,
		RunID:       parsed.RunID,
		Tests:       len(tests),
		ParseErrors: parsed.ParseErrors,
		DryRun:      opts.DryRun,
	}
	if len(tests) == 0 {
		return res, ErrNoTests
	}

	e.logger.Info().
		Str("path", path).
		Int("tests", len(tests)).
		Int("parse_errors", parsed.ParseErrors).
		Str("run", parsed.RunID).
		Msg("Debug log parsed")

	if opts.DryRun {
		return res, nil
	}

	e.restoreEnv(parsed.EnvVars)

	cfg := e.loadConfig()
	// the replay itself is never recorded
	cfg.Debug = false
	if parsed.RunID != "" {
		cfg.RunID = parsed.RunID
	}

	params := model.RunParams{}
	if parsed.RunParams != nil {
		params = *parsed.RunParams
	}
	params.RunID = cfg.RunID

	c := client.New(e.logger, cfg, e.clientOpts...)
	defer c.Close()

	if err := c.CreateRun(ctx, params); err != nil {
		return res, fmt.Errorf("failed to create run: %w", err)
	}

	for i := range tests {
		t := tests[i]
		results, err := c.AddTestRun(ctx, t.Status, &t)
		if err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			res.Failed++
			e.logger.Warn().Err(err).Str("test", t.Title).Msg("Failed to replay test")
			continue
		}
		if failed := firstError(results); failed != nil {
			res.Failed++
			e.logger.Warn().Err(failed).Str("test", t.Title).Msg("Failed to replay test")
			continue
		}
		res.Succeeded++
	}

	finish := model.FinishParams{Status: model.RunStatusFinished}
	if parsed.FinishParams != nil {
		finish = *parsed.FinishParams
		if finish.Status == "" {
			finish.Status = model.RunStatusFinished
		}
	}
	if err := c.UpdateRunStatus(ctx, finish.Status, finish.Parallel); err != nil {
		return res, fmt.Errorf("failed to finish run: %w", err)
	}
	if id := c.Store().RunID(); id != "" {
		res.RunID = id
	}
	for _, p := range c.Pipes(params) {
		if dc, ok := p.(deliveryCounter); ok {
			res.NotReported += dc.NotReported()
		}
	}

	e.logger.Info().
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int64("not_reported", res.NotReported).
		Str("run", res.RunID).
		Msg("Replay finished")
	return res, nil
}

func (e *Engine) restoreEnv(vars map[string]string) {
	for k, v := range vars {
		if e.getenv(k) != "" {
			continue
		}
		if err := e.setenv(k, v); err != nil {
			e.logger.Warn().Err(err).Str("var", k).Msg("Failed to restore environment variable")
		}
	}
}

func firstError(results []client.PipeResult) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.Pipe, r.Err)
		}
	}
	return nil
}
