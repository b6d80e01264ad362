// Package csv implements the pipe that saves the run results as a CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/acarl005/stripansi"
	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

const Name = "csv"

var header = []string{"Suite", "Title", "Status", "Message", "File", "Duration (ms)", "Run"}

type Pipe struct {
	pipe.Noop

	logger  zerolog.Logger
	path    string
	store   *pipe.Store
	results *pipe.Results
}

var _ pipe.Pipe = (*Pipe)(nil)

func New(deps pipe.Deps) (*Pipe, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	store := deps.Store
	if store == nil {
		store = pipe.NewStore()
	}
	path := cfg.CSVFile
	if v := deps.Options["file"]; v != "" {
		path = v
	}
	return &Pipe{
		logger:  deps.Logger.With().Str("pipe", Name).Logger(),
		path:    path,
		store:   store,
		results: pipe.NewResults(),
	}, nil
}

// Factory adapts New to the pipe registry.
func Factory(deps pipe.Deps) (pipe.Pipe, error) {
	return New(deps)
}

func (p *Pipe) IsEnabled() bool {
	return p.path != ""
}

func (p *Pipe) String() string {
	return "CSV"
}

func (p *Pipe) AddTest(_ context.Context, test model.TestData) error {
	if !p.IsEnabled() {
		return nil
	}
	p.results.Add(test)
	return nil
}

func (p *Pipe) FinishRun(_ context.Context, _ model.FinishParams) error {
	if !p.IsEnabled() {
		return nil
	}
	if err := p.save(); err != nil {
		p.logger.Error().Err(err).Str("path", p.path).Msg("Failed to save CSV report")
		return nil
	}
	p.logger.Info().Str("path", p.path).Msg("CSV report saved")
	return nil
}

func (p *Pipe) save() error {
	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(p.path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	runURL := p.store.RunURL()
	for _, t := range p.results.Tests() {
		message := t.Message
		if message == "" && t.Error != nil {
			message = t.Error.Message
		}
		record := []string{
			t.SuiteTitle,
			t.Title,
			string(t.Status),
			stripansi.Strip(message),
			t.File,
			strconv.FormatFloat(t.Time, 'f', -1, 64),
			runURL,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
