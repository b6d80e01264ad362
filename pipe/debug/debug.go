// Package debug implements the pipe that records every lifecycle call into an
// append-only JSON lines file, which the replay command can redeliver later.
package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/history"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

const Name = "debug"

// Pipe writes the replay log. The file is opened on the first write and
// starts with a snapshot of the reporter environment variables.
type Pipe struct {
	pipe.Noop

	logger  zerolog.Logger
	enabled bool
	path    string
	store   *pipe.Store
	envVars map[string]string
	now     func() time.Time

	mu   sync.Mutex
	file *os.File
	// set once the log is closed or broken
	done bool
}

var _ pipe.Pipe = (*Pipe)(nil)

func New(deps pipe.Deps) (*Pipe, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	dir := deps.Options["dir"]
	if dir == "" {
		dir = history.Dir()
	}
	return newPipe(deps.Logger, cfg.Debug, dir, deps.Store, config.EnvSnapshot(os.Environ()), time.Now), nil
}

func newPipe(logger zerolog.Logger, enabled bool, dir string, store *pipe.Store, envVars map[string]string, now func() time.Time) *Pipe {
	if store == nil {
		store = pipe.NewStore()
	}
	return &Pipe{
		logger:  logger.With().Str("pipe", Name).Logger(),
		enabled: enabled,
		path:    history.DebugLogPath(dir, now()),
		store:   store,
		envVars: envVars,
		now:     now,
	}
}

// Factory adapts New to the pipe registry.
func Factory(deps pipe.Deps) (pipe.Pipe, error) {
	return New(deps)
}

func (p *Pipe) IsEnabled() bool {
	return p.enabled
}

func (p *Pipe) String() string {
	return "Debug"
}

// Path returns the file the log is written to.
func (p *Pipe) Path() string {
	return p.path
}

func (p *Pipe) CreateRun(_ context.Context, params model.RunParams) error {
	if !p.enabled {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode run params: %w", err)
	}
	p.write(model.LogEntry{Action: model.LogActionCreateRun, Params: raw})
	return nil
}

func (p *Pipe) AddTest(_ context.Context, test model.TestData) error {
	if !p.enabled {
		return nil
	}
	// buffers are uploaded by the client already, never log their bytes
	test.FilesBuffers = nil
	p.write(model.LogEntry{Action: model.LogActionAddTest, Test: &test})
	return nil
}

func (p *Pipe) FinishRun(_ context.Context, params model.FinishParams) error {
	if !p.enabled {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode finish params: %w", err)
	}
	p.write(model.LogEntry{Action: model.LogActionFinishRun, Params: raw, RunID: p.store.RunID()})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	if err := p.file.Close(); err != nil {
		p.logger.Warn().Err(err).Str("path", p.path).Msg("Failed to close debug log")
	}
	p.file = nil
	p.done = true
	p.logger.Info().Str("path", p.path).Msg("Debug log saved")
	return nil
}

// write appends one entry. Write errors disable the log for the rest of the
// run and are never returned.
func (p *Pipe) write(entry model.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	if p.file == nil {
		if err := p.open(); err != nil {
			p.done = true
			p.logger.Warn().Err(err).Str("path", p.path).Msg("Failed to open debug log")
			return
		}
	}

	t := p.now()
	entry.T = t.UnixMilli()
	entry.Datetime = t.Format(time.RFC3339)
	if err := p.encode(entry); err != nil {
		p.done = true
		p.logger.Warn().Err(err).Str("path", p.path).Msg("Failed to write debug log")
	}
}

func (p *Pipe) open() error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	p.file = f
	if err := history.LinkLatestDebugLog(p.path); err != nil {
		p.logger.Debug().Err(err).Msg("Failed to link latest debug log")
	}

	t := p.now()
	return p.encode(model.LogEntry{
		T:        t.UnixMilli(),
		Datetime: t.Format(time.RFC3339),
		Data:     model.LogDataVariables,
		EnvVars:  p.envVars,
	})
}

func (p *Pipe) encode(entry model.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = p.file.Write(append(data, '\n'))
	return err
}
