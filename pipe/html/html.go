// Package html implements the pipe that saves a static HTML summary of the run.
package html

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

const Name = "html"

const reportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 4px 8px; text-align: left; vertical-align: top; }
.passed { color: #2e7d32; } .failed { color: #c62828; } .skipped { color: #757575; }
pre { margin: 0; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Status: <strong class="{{.Status}}">{{.Status}}</strong> | Generated: {{.Generated}}{{if .RunURL}} | <a href="{{.RunURL}}">Run report</a>{{end}}</p>
<p>Total: {{.Total}} | Passed: {{.Passed}} | Failed: {{.Failed}} | Skipped: {{.Skipped}}</p>
<table>
<tr><th>Status</th><th>Suite</th><th>Test</th><th>Duration (ms)</th><th>Message</th><th>Artifacts</th></tr>
{{range .Tests}}<tr>
<td class="{{.Status}}">{{.Status}}</td>
<td>{{.Suite}}</td>
<td>{{.Title}}</td>
<td>{{.Duration}}</td>
<td><pre>{{.Message}}</pre></td>
<td>{{range .Artifacts}}<a href="{{.}}">{{.}}</a><br>{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

type reportData struct {
	Title     string
	Status    string
	Generated string
	RunURL    string
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Tests     []reportTest
}

type reportTest struct {
	Status    string
	Suite     string
	Title     string
	Duration  string
	Message   string
	Artifacts []template.URL
}

type Pipe struct {
	pipe.Noop

	logger  zerolog.Logger
	path    string
	title   string
	store   *pipe.Store
	results *pipe.Results
	now     func() time.Time
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
	path := cfg.HTMLFile
	if v := deps.Options["file"]; v != "" {
		path = v
	}
	title := deps.Params.Title
	if title == "" {
		title = cfg.Title
	}
	return &Pipe{
		logger:  deps.Logger.With().Str("pipe", Name).Logger(),
		path:    path,
		title:   title,
		store:   store,
		results: pipe.NewResults(),
		now:     time.Now,
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
	return "HTML Reporter"
}

func (p *Pipe) CreateRun(_ context.Context, params model.RunParams) error {
	if params.Title != "" {
		p.title = params.Title
	}
	return nil
}

func (p *Pipe) AddTest(_ context.Context, test model.TestData) error {
	if !p.IsEnabled() {
		return nil
	}
	p.results.Add(test)
	return nil
}

func (p *Pipe) FinishRun(_ context.Context, params model.FinishParams) error {
	if !p.IsEnabled() {
		return nil
	}
	data, err := p.render(params)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to render HTML report")
		return nil
	}
	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			p.logger.Error().Err(err).Str("path", p.path).Msg("Failed to create report directory")
			return nil
		}
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		p.logger.Error().Err(err).Str("path", p.path).Msg("Failed to save HTML report")
		return nil
	}
	p.logger.Info().Str("path", p.path).Msg("HTML report saved")
	return nil
}

func (p *Pipe) render(params model.FinishParams) ([]byte, error) {
	title := p.title
	if title == "" {
		title = "Test run report"
	}
	status := params.Status
	if status == "" {
		status = model.RunStatusFinished
	}

	counts := p.results.Counts()
	data := reportData{
		Title:     title,
		Status:    string(status),
		Generated: p.now().Format(time.RFC1123),
		RunURL:    p.store.PublicURL(),
		Passed:    counts[model.StatusPassed],
		Failed:    counts[model.StatusFailed],
		Skipped:   counts[model.StatusSkipped],
	}
	if data.RunURL == "" {
		data.RunURL = p.store.RunURL()
	}
	for _, t := range p.results.Tests() {
		message := t.Message
		if t.Error != nil && t.Error.Message != "" {
			message = t.Error.Message
		}
		rt := reportTest{
			Status:   string(t.Status),
			Suite:    t.SuiteTitle,
			Title:    t.Title,
			Duration: fmt.Sprintf("%.0f", t.Time),
			Message:  stripansi.Strip(message),
		}
		for _, a := range t.Artifacts {
			rt.Artifacts = append(rt.Artifacts, template.URL(a))
		}
		data.Tests = append(data.Tests, rt)
	}
	data.Total = len(data.Tests)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}
