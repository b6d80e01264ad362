package pipe

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
)

type namedPipe struct {
	Noop
	name    string
	enabled bool
	options map[string]string
}

func (p *namedPipe) IsEnabled() bool { return p.enabled }
func (p *namedPipe) String() string  { return p.name }

var _ Pipe = (*namedPipe)(nil)

func TestRegistry_BuildOrderAndIsolation(t *testing.T) {
	r := NewRegistry()
	r.RegisterBuiltin("first", func(Deps) (Pipe, error) {
		return &namedPipe{name: "first", enabled: true}, nil
	})
	r.RegisterBuiltin("broken", func(Deps) (Pipe, error) {
		return nil, errors.New("boom")
	})
	r.RegisterBuiltin("panics", func(Deps) (Pipe, error) {
		panic("bad plugin")
	})
	r.RegisterBuiltin("off", func(Deps) (Pipe, error) {
		return &namedPipe{name: "off"}, nil
	})

	results := r.Build(Deps{Logger: zerolog.Nop(), Store: NewStore()})
	require.Len(t, results, 4)
	assert.Equal(t, "first", results[0].Name)
	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "boom")
	assert.ErrorContains(t, results[2].Err, "panicked")
	assert.NoError(t, results[3].Err)

	pipes := Pipes(zerolog.Nop(), results)
	require.Len(t, pipes, 2)
	assert.Equal(t, []string{"first"}, Names(Enabled(pipes)))
}

func TestRegistry_Plugins(t *testing.T) {
	r := NewRegistry()
	r.RegisterPlugin("Slack", func(d Deps) (Pipe, error) {
		return &namedPipe{name: "slack", enabled: true, options: d.Options}, nil
	})

	cfg := config.Default()
	cfg.Pipes = []config.PipeConfig{
		{Name: "slack", Options: map[string]string{"channel": "#ci"}},
		{Name: "teams"},
	}

	results := r.Build(Deps{Logger: zerolog.Nop(), Config: cfg, Store: NewStore()})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "#ci", results[0].Pipe.(*namedPipe).options["channel"])
	assert.ErrorIs(t, results[1].Err, ErrUnknownPipe)
}

func TestDisabledPipe(t *testing.T) {
	var p Pipe = Disabled{Name: "csv"}
	assert.False(t, p.IsEnabled())
	assert.Equal(t, "csv (disabled)", p.String())
	assert.NoError(t, p.AddTest(context.Background(), model.TestData{}))
}

func TestStore(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.RunID())
	assert.Nil(t, s.S3Credentials())

	s.SetRun("run-1", "https://app/run-1", "")
	s.SetS3Credentials(&S3Credentials{Bucket: "b"})
	creds := s.S3Credentials()
	creds.Bucket = "changed"

	assert.Equal(t, "run-1", s.RunID())
	assert.Equal(t, "https://app/run-1", s.RunURL())
	assert.Equal(t, "b", s.S3Credentials().Bucket)
}
